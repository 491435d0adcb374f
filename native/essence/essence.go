// Package essence implements a compressed, linearly accruing voting-power
// quantity. A stake of amount x made at time c contributes x*(t-c) after t,
// capped at x*horizon, so a set of stakes collapses to two scalars
// a = Σx and b = Σx*c and the current value is derived in O(1) from the
// clock. Locked stake contributes a separate non-decaying amount.
package essence

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow     = errors.New("essence: arithmetic overflow")
	ErrUnderflow    = errors.New("essence: arithmetic underflow")
	ErrNoWeights    = errors.New("essence: allocation weights sum to zero")
	errNilState     = errors.New("essence tracker: state not configured")
	errInvalidOwner = errors.New("essence tracker: owner required")
)

// Params fixes the shape of the accrual curve.
type Params struct {
	// Horizon is the age in seconds after which a stake stops accruing.
	// Zero disables the cap.
	Horizon uint64
	// SecondsPerUnit converts amount-seconds into essence units.
	SecondsPerUnit uint64
}

// State is the compressed essence of one owner, one pool or the whole system.
type State struct {
	A       *big.Int
	B       *big.Int
	Locking *big.Int
}

// Zero returns the empty state.
func Zero() State {
	return State{A: big.NewInt(0), B: big.NewInt(0), Locking: big.NewInt(0)}
}

// FromStake is the contribution of amount staked at now.
func FromStake(amount *big.Int, now uint64) State {
	a := copyBig(amount)
	b := new(big.Int).Mul(a, new(big.Int).SetUint64(now))
	return State{A: a, B: b, Locking: big.NewInt(0)}
}

// FromLock is the fixed contribution of amount locked for duration seconds.
// It equals what a flexible stake of the same amount would have reached after
// min(duration, horizon).
func FromLock(amount *big.Int, duration uint64, p Params) State {
	span := duration
	if p.Horizon > 0 && span > p.Horizon {
		span = p.Horizon
	}
	locking := new(big.Int).Mul(copyBig(amount), new(big.Int).SetUint64(span))
	if p.SecondsPerUnit > 1 {
		locking.Quo(locking, new(big.Int).SetUint64(p.SecondsPerUnit))
	}
	return State{A: big.NewInt(0), B: big.NewInt(0), Locking: locking}
}

// IsZero reports whether every component is zero.
func (s State) IsZero() bool {
	return sign(s.A) == 0 && sign(s.B) == 0 && sign(s.Locking) == 0
}

// Add combines two states component-wise.
func (s State) Add(o State) (State, error) {
	a, err := bound(new(big.Int).Add(copyBig(s.A), copyBig(o.A)))
	if err != nil {
		return State{}, err
	}
	b, err := bound(new(big.Int).Add(copyBig(s.B), copyBig(o.B)))
	if err != nil {
		return State{}, err
	}
	locking, err := bound(new(big.Int).Add(copyBig(s.Locking), copyBig(o.Locking)))
	if err != nil {
		return State{}, err
	}
	return State{A: a, B: b, Locking: locking}, nil
}

// Sub removes o from s component-wise. Any component going negative is a
// fault: it means a contribution is being removed that was never added.
func (s State) Sub(o State) (State, error) {
	a, err := bound(new(big.Int).Sub(copyBig(s.A), copyBig(o.A)))
	if err != nil {
		return State{}, err
	}
	b, err := bound(new(big.Int).Sub(copyBig(s.B), copyBig(o.B)))
	if err != nil {
		return State{}, err
	}
	locking, err := bound(new(big.Int).Sub(copyBig(s.Locking), copyBig(o.Locking)))
	if err != nil {
		return State{}, err
	}
	return State{A: a, B: b, Locking: locking}, nil
}

// Scale multiplies each component by num/den, rounding down. Rounding can
// leave a*t-b slightly negative; CaptureRaw clamps that to zero.
func (s State) Scale(num, den *big.Int) State {
	if den == nil || den.Sign() == 0 || num == nil || num.Sign() == 0 {
		return Zero()
	}
	return State{
		A:       mulDiv(copyBig(s.A), num, den),
		B:       mulDiv(copyBig(s.B), num, den),
		Locking: mulDiv(copyBig(s.Locking), num, den),
	}
}

// CaptureRaw returns the accrued amount-seconds at t:
// min(max(a*t - b, 0), a*horizon).
func (s State) CaptureRaw(t uint64, p Params) *big.Int {
	raw := new(big.Int).Mul(copyBig(s.A), new(big.Int).SetUint64(t))
	raw.Sub(raw, copyBig(s.B))
	if raw.Sign() < 0 {
		return big.NewInt(0)
	}
	if p.Horizon > 0 {
		limit := new(big.Int).Mul(copyBig(s.A), new(big.Int).SetUint64(p.Horizon))
		if raw.Cmp(limit) > 0 {
			return limit
		}
	}
	return raw
}

// Capture returns the essence value at t, including the locking component.
func (s State) Capture(t uint64, p Params) *big.Int {
	value := s.CaptureRaw(t, p)
	if p.SecondsPerUnit > 1 {
		value.Quo(value, new(big.Int).SetUint64(p.SecondsPerUnit))
	}
	return value.Add(value, copyBig(s.Locking))
}

// Allocate splits s across targets in proportion to weights. The parts sum
// exactly to s component-wise; rounding leftovers go to the last target.
func Allocate(s State, weights []uint64) ([]State, error) {
	total := new(big.Int)
	for _, w := range weights {
		total.Add(total, new(big.Int).SetUint64(w))
	}
	if total.Sign() == 0 {
		return nil, ErrNoWeights
	}
	parts := make([]State, len(weights))
	remaining := s.clone()
	for i, w := range weights {
		if i == len(weights)-1 {
			parts[i] = remaining
			break
		}
		part := s.Scale(new(big.Int).SetUint64(w), total)
		next, err := remaining.Sub(part)
		if err != nil {
			return nil, err
		}
		parts[i] = part
		remaining = next
	}
	return parts, nil
}

func (s State) clone() State {
	return State{A: copyBig(s.A), B: copyBig(s.B), Locking: copyBig(s.Locking)}
}

func bound(v *big.Int) (*big.Int, error) {
	if v.Sign() < 0 {
		return nil, ErrUnderflow
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

func mulDiv(a, b, den *big.Int) *big.Int {
	if den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func sign(v *big.Int) int {
	if v == nil {
		return 0
	}
	return v.Sign()
}
