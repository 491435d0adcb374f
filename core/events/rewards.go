package events

import (
	"math/big"
	"strconv"

	"stakeledger/core/types"
)

const (
	// TypeRewardRecognized is emitted when a reward deposit enters the
	// smoothing buffer.
	TypeRewardRecognized = "rewards.recognized"
	// TypeTierUpdated is emitted when a tier is listed or edited.
	TypeTierUpdated = "tiers.updated"
	// TypeTierRemoved is emitted when a tier is delisted.
	TypeTierRemoved = "tiers.removed"
)

// RewardRecognized captures a reward deposit.
type RewardRecognized struct {
	Asset  string
	Amount *big.Int
	Start  uint64
	// Source is set when the deposit was converted from another asset.
	Source string
}

// EventType satisfies the Event interface.
func (RewardRecognized) EventType() string { return TypeRewardRecognized }

// Event converts the structured payload into a broadcastable event.
func (e RewardRecognized) Event() *types.Event {
	attrs := map[string]string{
		"asset":  normalizeAsset(e.Asset),
		"amount": formatAmount(e.Amount),
		"start":  uintToString(e.Start),
	}
	if e.Source != "" {
		attrs["source"] = normalizeAsset(e.Source)
	}
	return &types.Event{Type: TypeRewardRecognized, Attributes: attrs}
}

// TierUpdated captures a tier listing or edit.
type TierUpdated struct {
	Duration      uint64
	MultiplierBps uint64
	PenaltyBps    uint64
	Caller        string
}

// EventType satisfies the Event interface.
func (TierUpdated) EventType() string { return TypeTierUpdated }

// Event converts the structured payload into a broadcastable event.
func (e TierUpdated) Event() *types.Event {
	return &types.Event{Type: TypeTierUpdated, Attributes: map[string]string{
		"duration":      uintToString(e.Duration),
		"multiplierBps": uintToString(e.MultiplierBps),
		"penaltyBps":    uintToString(e.PenaltyBps),
		"caller":        e.Caller,
	}}
}

// TierRemoved captures a tier being delisted.
type TierRemoved struct {
	Duration uint64
	Caller   string
	// OpenPositions reports whether principal was still held in the tier.
	OpenPositions bool
}

// EventType satisfies the Event interface.
func (TierRemoved) EventType() string { return TypeTierRemoved }

// Event converts the structured payload into a broadcastable event.
func (e TierRemoved) Event() *types.Event {
	return &types.Event{Type: TypeTierRemoved, Attributes: map[string]string{
		"duration":      uintToString(e.Duration),
		"caller":        e.Caller,
		"openPositions": strconv.FormatBool(e.OpenPositions),
	}}
}
