package accrual

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	basisPoints = big.NewInt(10_000)
	// ray is the fixed-point scale of reward weights (1e27).
	ray = mustBigInt("1000000000000000000000000000")
)

// Precision returns a copy of the reward weight scale.
func Precision() *big.Int { return new(big.Int).Set(ray) }

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// bounded returns value unchanged when it fits in 256 unsigned bits. Negative
// values are underflows, wider values are overflows; both abort the operation.
func bounded(value *big.Int) (*big.Int, error) {
	if value == nil {
		return big.NewInt(0), nil
	}
	if value.Sign() < 0 {
		return nil, ErrArithmeticUnderflow
	}
	if _, overflow := uint256.FromBig(value); overflow {
		return nil, ErrArithmeticOverflow
	}
	return value, nil
}

func checkedAdd(a, b *big.Int) (*big.Int, error) {
	return bounded(new(big.Int).Add(zeroIfNil(a), zeroIfNil(b)))
}

func checkedSub(a, b *big.Int) (*big.Int, error) {
	return bounded(new(big.Int).Sub(zeroIfNil(a), zeroIfNil(b)))
}

// mulDiv computes floor(a*b/den) with an unbounded intermediate so small
// numerators over large denominators are not truncated early. A zero
// denominator yields zero.
func mulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den)
}

// mulDivCeil computes ceil(a*b/den).
func mulDivCeil(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// applyBps returns floor(amount * bps / 10000).
func applyBps(amount *big.Int, bps uint64) *big.Int {
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}

// weightedPrincipal is the multiplier-weighted stake of a single position.
func weightedPrincipal(principal *big.Int, multiplierBps uint64) *big.Int {
	return applyBps(principal, multiplierBps)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
