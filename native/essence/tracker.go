package essence

import (
	"math/big"
)

// TotalOwner is the checkpoint key of the system-wide total.
const TotalOwner = ""

// Checkpoint records the state that became effective at Timestamp.
type Checkpoint struct {
	Timestamp uint64
	State     State
}

// trackerState stores checkpoints one per key. Writing at index Count
// appends; writing at Count-1 replaces the latest checkpoint.
type trackerState interface {
	EssenceCheckpointCount(owner string) (uint64, error)
	EssenceCheckpoint(owner string, index uint64) (Checkpoint, error)
	PutEssenceCheckpoint(owner string, index uint64, cp Checkpoint) error
}

// Tracker maintains checkpointed essence per owner and in total.
type Tracker struct {
	state  trackerState
	params Params
}

// NewTracker constructs a tracker for the supplied curve parameters.
func NewTracker(params Params) *Tracker {
	return &Tracker{params: params}
}

// SetState wires the tracker to the persistence layer.
func (t *Tracker) SetState(state trackerState) { t.state = state }

// Params returns the curve parameters.
func (t *Tracker) Params() Params {
	if t == nil {
		return Params{}
	}
	return t.params
}

// Add credits delta to owner and to the total at now.
func (t *Tracker) Add(owner string, delta State, now uint64) error {
	return t.apply(owner, delta, now, State.Add)
}

// Remove debits delta from owner and from the total at now.
func (t *Tracker) Remove(owner string, delta State, now uint64) error {
	return t.apply(owner, delta, now, State.Sub)
}

func (t *Tracker) apply(owner string, delta State, now uint64, op func(State, State) (State, error)) error {
	if t == nil || t.state == nil {
		return errNilState
	}
	if owner == TotalOwner {
		return errInvalidOwner
	}
	if delta.IsZero() {
		return nil
	}
	for _, key := range []string{owner, TotalOwner} {
		count, err := t.state.EssenceCheckpointCount(key)
		if err != nil {
			return err
		}
		current, last := Zero(), Checkpoint{}
		if count > 0 {
			if last, err = t.state.EssenceCheckpoint(key, count-1); err != nil {
				return err
			}
			current = last.State.clone()
		}
		next, err := op(current, delta)
		if err != nil {
			return err
		}
		index, ts := count, now
		// Updates at or before the latest checkpoint fold into it.
		if count > 0 && last.Timestamp >= now {
			index, ts = count-1, last.Timestamp
		}
		if err := t.state.PutEssenceCheckpoint(key, index, Checkpoint{Timestamp: ts, State: next}); err != nil {
			return err
		}
	}
	return nil
}

// Current returns the latest state of owner.
func (t *Tracker) Current(owner string) (State, error) {
	if t == nil || t.state == nil {
		return State{}, errNilState
	}
	count, err := t.state.EssenceCheckpointCount(owner)
	if err != nil || count == 0 {
		return Zero(), err
	}
	cp, err := t.state.EssenceCheckpoint(owner, count-1)
	if err != nil {
		return State{}, err
	}
	return cp.State.clone(), nil
}

// At returns the state of owner that was effective at the supplied time. The
// lookup binary searches the checkpoint keys.
func (t *Tracker) At(owner string, at uint64) (State, error) {
	if t == nil || t.state == nil {
		return State{}, errNilState
	}
	count, err := t.state.EssenceCheckpointCount(owner)
	if err != nil {
		return State{}, err
	}
	// Find the first checkpoint later than at.
	lo, hi := uint64(0), count
	for lo < hi {
		mid := lo + (hi-lo)/2
		cp, err := t.state.EssenceCheckpoint(owner, mid)
		if err != nil {
			return State{}, err
		}
		if cp.Timestamp > at {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 {
		return Zero(), nil
	}
	cp, err := t.state.EssenceCheckpoint(owner, lo-1)
	if err != nil {
		return State{}, err
	}
	return cp.State.clone(), nil
}

// Capture returns the essence of owner as of at.
func (t *Tracker) Capture(owner string, at uint64) (*big.Int, error) {
	state, err := t.At(owner, at)
	if err != nil {
		return nil, err
	}
	return state.Capture(at, t.params), nil
}

// TotalCapture returns the system-wide essence as of at.
func (t *Tracker) TotalCapture(at uint64) (*big.Int, error) {
	return t.Capture(TotalOwner, at)
}
