package events

import (
	"math/big"

	"stakeledger/core/types"
)

const (
	// TypeStakeOpened captures principal added to a position.
	TypeStakeOpened = "stake.opened"
	// TypeStakeWithdrawn captures principal removed from a position.
	TypeStakeWithdrawn = "stake.withdrawn"
	// TypeStakeMoved captures principal moved between tiers.
	TypeStakeMoved = "stake.moved"
	// TypeStakeRewardsClaimed is emitted when accrued rewards are paid out.
	TypeStakeRewardsClaimed = "stake.rewardsClaimed"
)

// StakeOpened captures principal added to a position.
type StakeOpened struct {
	Owner       string
	Tier        uint64
	LockInstant uint64
	Amount      *big.Int
	Principal   *big.Int
}

// EventType satisfies the Event interface.
func (StakeOpened) EventType() string { return TypeStakeOpened }

// Event converts the structured payload into a broadcastable event.
func (e StakeOpened) Event() *types.Event {
	return &types.Event{Type: TypeStakeOpened, Attributes: map[string]string{
		"owner":       e.Owner,
		"tier":        uintToString(e.Tier),
		"lockInstant": uintToString(e.LockInstant),
		"amount":      formatAmount(e.Amount),
		"principal":   formatAmount(e.Principal),
	}}
}

// StakeWithdrawn captures principal removed from a position.
type StakeWithdrawn struct {
	Owner       string
	Tier        uint64
	LockInstant uint64
	Amount      *big.Int
	Penalty     *big.Int
	Net         *big.Int
	Principal   *big.Int
}

// EventType satisfies the Event interface.
func (StakeWithdrawn) EventType() string { return TypeStakeWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e StakeWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"owner":       e.Owner,
		"tier":        uintToString(e.Tier),
		"lockInstant": uintToString(e.LockInstant),
		"amount":      formatAmount(e.Amount),
		"net":         formatAmount(e.Net),
		"principal":   formatAmount(e.Principal),
	}
	if e.Penalty != nil && e.Penalty.Sign() > 0 {
		attrs["penalty"] = formatAmount(e.Penalty)
	}
	return &types.Event{Type: TypeStakeWithdrawn, Attributes: attrs}
}

// StakeMoved captures principal moved from one tier to another.
type StakeMoved struct {
	Owner    string
	FromTier uint64
	FromLock uint64
	ToTier   uint64
	ToLock   uint64
	Amount   *big.Int
}

// EventType satisfies the Event interface.
func (StakeMoved) EventType() string { return TypeStakeMoved }

// Event converts the structured payload into a broadcastable event.
func (e StakeMoved) Event() *types.Event {
	return &types.Event{Type: TypeStakeMoved, Attributes: map[string]string{
		"owner":    e.Owner,
		"fromTier": uintToString(e.FromTier),
		"fromLock": uintToString(e.FromLock),
		"toTier":   uintToString(e.ToTier),
		"toLock":   uintToString(e.ToLock),
		"amount":   formatAmount(e.Amount),
	}}
}

// StakeRewardsClaimed captures the reward payout of one asset to an owner.
type StakeRewardsClaimed struct {
	Owner  string
	Asset  string
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (StakeRewardsClaimed) EventType() string { return TypeStakeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsClaimed) Event() *types.Event {
	return &types.Event{Type: TypeStakeRewardsClaimed, Attributes: map[string]string{
		"owner":  e.Owner,
		"asset":  normalizeAsset(e.Asset),
		"amount": formatAmount(e.Amount),
	}}
}
