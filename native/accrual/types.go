package accrual

import (
	"fmt"
	"math/big"
	"sort"
)

// FlexibleTier is the duration of the unlocked tier. Positions in it never
// mature because they were never locked.
const FlexibleTier uint64 = 0

// PendingBucket records a reward deposit that vests linearly over the
// distribution period starting at StartTime. Buckets are never mutated.
type PendingBucket struct {
	StartTime uint64
	Amount    *big.Int
	Asset     string
}

// RewardBuffer holds the not yet fully consumed buckets of one reward asset
// ordered by StartTime.
type RewardBuffer struct {
	Asset   string
	Buckets []PendingBucket
}

// GlobalIndex is the reward-weight accumulator of one asset.
type GlobalIndex struct {
	Asset string
	// Weight is the cumulative reward per unit of stake scaled by 1e27.
	Weight *big.Int
	// LastUpdate is the time up to which vested rewards have been folded into
	// Weight. It only advances when an update is committed.
	LastUpdate uint64
	// Remainder carries the part of vested*1e27 that did not divide evenly
	// into the denominator at the last update.
	Remainder *big.Int
	// Distributed sums every vested amount folded into Weight.
	Distributed *big.Int
}

// Clone returns a deep copy of the index.
func (g *GlobalIndex) Clone() *GlobalIndex {
	if g == nil {
		return nil
	}
	return &GlobalIndex{
		Asset:       g.Asset,
		Weight:      copyBig(g.Weight),
		LastUpdate:  g.LastUpdate,
		Remainder:   copyBig(g.Remainder),
		Distributed: copyBig(g.Distributed),
	}
}

func newGlobalIndex(asset string) *GlobalIndex {
	return &GlobalIndex{
		Asset:       asset,
		Weight:      big.NewInt(0),
		Remainder:   big.NewInt(0),
		Distributed: big.NewInt(0),
	}
}

// AssetConfig registers a reward asset with the engine.
type AssetConfig struct {
	Denom string
	// Weighted assets divide rewards by multiplier-weighted stake instead of
	// raw principal.
	Weighted bool
}

// Tier is a lock-duration bucket. Tiers are identified by Duration.
type Tier struct {
	Duration      uint64
	MultiplierBps uint64
	PenaltyBps    uint64
}

// Validate checks the static constraints of a tier definition.
func (t Tier) Validate() error {
	if t.MultiplierBps == 0 {
		return fmt.Errorf("%w: multiplier must be positive", ErrInvalidTier)
	}
	if t.PenaltyBps > basisPoints.Uint64() {
		return fmt.Errorf("%w: penalty exceeds 100%%", ErrInvalidTier)
	}
	if t.Duration == FlexibleTier && t.PenaltyBps != 0 {
		return fmt.Errorf("%w: flexible tier cannot carry a penalty", ErrInvalidTier)
	}
	return nil
}

// TierSchedule is the admin-managed list of listed tiers ordered by duration.
type TierSchedule struct {
	Tiers []Tier
}

// Lookup returns the listed tier with the supplied duration.
func (s *TierSchedule) Lookup(duration uint64) (Tier, bool) {
	if s == nil {
		return Tier{}, false
	}
	idx := sort.Search(len(s.Tiers), func(i int) bool { return s.Tiers[i].Duration >= duration })
	if idx < len(s.Tiers) && s.Tiers[idx].Duration == duration {
		return s.Tiers[idx], true
	}
	return Tier{}, false
}

// Upsert inserts or replaces the tier keeping the list sorted.
func (s *TierSchedule) Upsert(tier Tier) {
	idx := sort.Search(len(s.Tiers), func(i int) bool { return s.Tiers[i].Duration >= tier.Duration })
	if idx < len(s.Tiers) && s.Tiers[idx].Duration == tier.Duration {
		s.Tiers[idx] = tier
		return
	}
	s.Tiers = append(s.Tiers, Tier{})
	copy(s.Tiers[idx+1:], s.Tiers[idx:])
	s.Tiers[idx] = tier
}

// Remove delists the tier. It reports whether the tier was listed.
func (s *TierSchedule) Remove(duration uint64) bool {
	idx := sort.Search(len(s.Tiers), func(i int) bool { return s.Tiers[i].Duration >= duration })
	if idx >= len(s.Tiers) || s.Tiers[idx].Duration != duration {
		return false
	}
	s.Tiers = append(s.Tiers[:idx], s.Tiers[idx+1:]...)
	return true
}

// TierAggregate sums the principal held in one tier.
type TierAggregate struct {
	Duration       uint64
	TotalPrincipal *big.Int
	TotalWeighted  *big.Int
}

// Totals sums principal across every tier. These are the accumulator
// denominators.
type Totals struct {
	Principal *big.Int
	Weighted  *big.Int
}

// PositionKey identifies a position. Owner is opaque to the engine.
type PositionKey struct {
	Owner       string
	Tier        uint64
	LockInstant uint64
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Owner, k.Tier, k.LockInstant)
}

// AssetWeight is a per-asset accumulator snapshot.
type AssetWeight struct {
	Asset  string
	Weight *big.Int
}

// AssetAmount is a per-asset amount.
type AssetAmount struct {
	Asset  string
	Amount *big.Int
}

// Position is a stake record with its settlement snapshots.
type Position struct {
	Key       PositionKey
	Principal *big.Int
	// MultiplierBps is copied from the tier when principal is added so that
	// later tier edits do not change the weight of stake already held.
	MultiplierBps uint64
	Weighted      *big.Int
	Snapshots     []AssetWeight
	Accrued       []AssetAmount
	// Essence contribution of this position, kept so that removal is exact.
	EssenceA       *big.Int
	EssenceB       *big.Int
	LockingEssence *big.Int
}

func newPosition(key PositionKey, multiplierBps uint64) *Position {
	return &Position{
		Key:            key,
		Principal:      big.NewInt(0),
		MultiplierBps:  multiplierBps,
		Weighted:       big.NewInt(0),
		EssenceA:       big.NewInt(0),
		EssenceB:       big.NewInt(0),
		LockingEssence: big.NewInt(0),
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := &Position{
		Key:            p.Key,
		Principal:      copyBig(p.Principal),
		MultiplierBps:  p.MultiplierBps,
		Weighted:       copyBig(p.Weighted),
		EssenceA:       copyBig(p.EssenceA),
		EssenceB:       copyBig(p.EssenceB),
		LockingEssence: copyBig(p.LockingEssence),
	}
	for _, s := range p.Snapshots {
		out.Snapshots = append(out.Snapshots, AssetWeight{Asset: s.Asset, Weight: copyBig(s.Weight)})
	}
	for _, a := range p.Accrued {
		out.Accrued = append(out.Accrued, AssetAmount{Asset: a.Asset, Amount: copyBig(a.Amount)})
	}
	return out
}

// Snapshot returns the accumulator weight recorded at the last settlement.
func (p *Position) Snapshot(asset string) *big.Int {
	for _, s := range p.Snapshots {
		if s.Asset == asset {
			return copyBig(s.Weight)
		}
	}
	return big.NewInt(0)
}

func (p *Position) setSnapshot(asset string, weight *big.Int) {
	for i := range p.Snapshots {
		if p.Snapshots[i].Asset == asset {
			p.Snapshots[i].Weight = copyBig(weight)
			return
		}
	}
	p.Snapshots = append(p.Snapshots, AssetWeight{Asset: asset, Weight: copyBig(weight)})
	sort.Slice(p.Snapshots, func(i, j int) bool { return p.Snapshots[i].Asset < p.Snapshots[j].Asset })
}

// AccruedFor returns the settled but unclaimed reward of the asset.
func (p *Position) AccruedFor(asset string) *big.Int {
	for _, a := range p.Accrued {
		if a.Asset == asset {
			return copyBig(a.Amount)
		}
	}
	return big.NewInt(0)
}

func (p *Position) addAccrued(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	for i := range p.Accrued {
		if p.Accrued[i].Asset == asset {
			sum, err := checkedAdd(p.Accrued[i].Amount, amount)
			if err != nil {
				return err
			}
			p.Accrued[i].Amount = sum
			return nil
		}
	}
	value, err := bounded(copyBig(amount))
	if err != nil {
		return err
	}
	p.Accrued = append(p.Accrued, AssetAmount{Asset: asset, Amount: value})
	sort.Slice(p.Accrued, func(i, j int) bool { return p.Accrued[i].Asset < p.Accrued[j].Asset })
	return nil
}

// takeAccrued clears and returns every non-zero accrued reward.
func (p *Position) takeAccrued() []AssetAmount {
	out := make([]AssetAmount, 0, len(p.Accrued))
	for _, a := range p.Accrued {
		if a.Amount != nil && a.Amount.Sign() > 0 {
			out = append(out, AssetAmount{Asset: a.Asset, Amount: copyBig(a.Amount)})
		}
	}
	p.Accrued = nil
	return out
}

func (p *Position) hasAccrued() bool {
	for _, a := range p.Accrued {
		if a.Amount != nil && a.Amount.Sign() > 0 {
			return true
		}
	}
	return false
}

// Empty reports whether the position can be deleted.
func (p *Position) Empty() bool {
	return zeroIfNil(p.Principal).Sign() == 0 && !p.hasAccrued()
}

// Transfer is a deferred value-transfer instruction. The engine only computes
// it; the caller dispatches it after the operation has been committed.
type Transfer struct {
	Recipient string
	Asset     string
	Amount    *big.Int
	Reason    string
}

const (
	TransferReasonPrincipal = "principal"
	TransferReasonReward    = "reward"
	TransferReasonPenalty   = "penalty"
)

// StakeResult reports the outcome of Stake.
type StakeResult struct {
	Position *Position
	// Settled lists rewards credited to the position while settling.
	Settled []AssetAmount
}

// UnstakeResult reports the outcome of Unstake.
type UnstakeResult struct {
	Position  *Position
	Deleted   bool
	Withdrawn *big.Int
	Penalty   *big.Int
	Net       *big.Int
	Rewards   []AssetAmount
	Transfers []Transfer
}

// RestakeResult reports the outcome of Restake.
type RestakeResult struct {
	From      *Position
	To        *Position
	Moved     *big.Int
	Rewards   []AssetAmount
	Transfers []Transfer
}

// ClaimResult reports the outcome of Claim and ClaimPosition.
type ClaimResult struct {
	Positions []PositionKey
	Rewards   []AssetAmount
	Transfers []Transfer
}

func sumAmounts(into []AssetAmount, add []AssetAmount) ([]AssetAmount, error) {
	for _, a := range add {
		found := false
		for i := range into {
			if into[i].Asset == a.Asset {
				sum, err := checkedAdd(into[i].Amount, a.Amount)
				if err != nil {
					return nil, err
				}
				into[i].Amount = sum
				found = true
				break
			}
		}
		if !found {
			into = append(into, AssetAmount{Asset: a.Asset, Amount: copyBig(a.Amount)})
		}
	}
	sort.Slice(into, func(i, j int) bool { return into[i].Asset < into[j].Asset })
	return into, nil
}
