package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/native/accrual"
	"stakeledger/native/essence"
)

type storedAssetAmount struct {
	Asset  string
	Amount *big.Int
}

type storedIndex struct {
	Asset       string
	Weight      *big.Int
	LastUpdate  uint64
	Remainder   *big.Int
	Distributed *big.Int
}

type storedBucket struct {
	StartTime uint64
	Amount    *big.Int
	Asset     string
}

type storedBuffer struct {
	Asset   string
	Buckets []storedBucket
}

type storedPositionKey struct {
	Owner       string
	Tier        uint64
	LockInstant uint64
}

type storedPosition struct {
	Key            storedPositionKey
	Principal      *big.Int
	MultiplierBps  uint64
	Weighted       *big.Int
	Snapshots      []storedAssetAmount
	Accrued        []storedAssetAmount
	EssenceA       *big.Int
	EssenceB       *big.Int
	LockingEssence *big.Int
}

type storedTier struct {
	Duration      uint64
	MultiplierBps uint64
	PenaltyBps    uint64
}

type storedAggregate struct {
	Duration       uint64
	TotalPrincipal *big.Int
	TotalWeighted  *big.Int
}

type storedTotals struct {
	Principal *big.Int
	Weighted  *big.Int
}

type storedCheckpoint struct {
	Timestamp uint64
	A         *big.Int
	B         *big.Int
	Locking   *big.Int
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func stringKey(prefix []byte, id string) []byte {
	buf := make([]byte, len(prefix)+len(id))
	copy(buf, prefix)
	copy(buf[len(prefix):], id)
	return buf
}

func uintKey(prefix []byte, v uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], v)
	return buf
}

// positionKey lays out the fixed-width tier and lock instant before the owner
// so that no owner string can collide with another key.
func positionKey(key accrual.PositionKey) []byte {
	buf := make([]byte, len(accrualPositionPrefix)+16+len(key.Owner))
	copy(buf, accrualPositionPrefix)
	binary.BigEndian.PutUint64(buf[len(accrualPositionPrefix):], key.Tier)
	binary.BigEndian.PutUint64(buf[len(accrualPositionPrefix)+8:], key.LockInstant)
	copy(buf[len(accrualPositionPrefix)+16:], key.Owner)
	return buf
}

func toStoredAmounts(list []accrual.AssetAmount) []storedAssetAmount {
	out := make([]storedAssetAmount, 0, len(list))
	for _, a := range list {
		out = append(out, storedAssetAmount{Asset: a.Asset, Amount: bigOrZero(a.Amount)})
	}
	return out
}

func fromStoredAmounts(list []storedAssetAmount) []accrual.AssetAmount {
	out := make([]accrual.AssetAmount, 0, len(list))
	for _, a := range list {
		out = append(out, accrual.AssetAmount{Asset: a.Asset, Amount: bigOrZero(a.Amount)})
	}
	return out
}

func toStoredWeights(list []accrual.AssetWeight) []storedAssetAmount {
	out := make([]storedAssetAmount, 0, len(list))
	for _, w := range list {
		out = append(out, storedAssetAmount{Asset: w.Asset, Amount: bigOrZero(w.Weight)})
	}
	return out
}

func fromStoredWeights(list []storedAssetAmount) []accrual.AssetWeight {
	out := make([]accrual.AssetWeight, 0, len(list))
	for _, w := range list {
		out = append(out, accrual.AssetWeight{Asset: w.Asset, Weight: bigOrZero(w.Amount)})
	}
	return out
}

// AccrualIndex returns the stored accumulator of asset or nil.
func (m *Manager) AccrualIndex(asset string) (*accrual.GlobalIndex, error) {
	var stored storedIndex
	ok, err := m.KVGet(stringKey(accrualIndexPrefix, asset), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &accrual.GlobalIndex{
		Asset:       stored.Asset,
		Weight:      bigOrZero(stored.Weight),
		LastUpdate:  stored.LastUpdate,
		Remainder:   bigOrZero(stored.Remainder),
		Distributed: bigOrZero(stored.Distributed),
	}, nil
}

// PutAccrualIndex persists the accumulator.
func (m *Manager) PutAccrualIndex(idx *accrual.GlobalIndex) error {
	return m.KVPut(stringKey(accrualIndexPrefix, idx.Asset), &storedIndex{
		Asset:       idx.Asset,
		Weight:      bigOrZero(idx.Weight),
		LastUpdate:  idx.LastUpdate,
		Remainder:   bigOrZero(idx.Remainder),
		Distributed: bigOrZero(idx.Distributed),
	})
}

// RewardBuffer returns the smoothing buffer of asset or nil.
func (m *Manager) RewardBuffer(asset string) (*accrual.RewardBuffer, error) {
	var stored storedBuffer
	ok, err := m.KVGet(stringKey(accrualBufferPrefix, asset), &stored)
	if err != nil || !ok {
		return nil, err
	}
	buf := &accrual.RewardBuffer{Asset: stored.Asset, Buckets: make([]accrual.PendingBucket, 0, len(stored.Buckets))}
	for _, b := range stored.Buckets {
		buf.Buckets = append(buf.Buckets, accrual.PendingBucket{StartTime: b.StartTime, Amount: bigOrZero(b.Amount), Asset: b.Asset})
	}
	return buf, nil
}

// PutRewardBuffer persists the smoothing buffer. An empty buffer is removed.
func (m *Manager) PutRewardBuffer(buf *accrual.RewardBuffer) error {
	key := stringKey(accrualBufferPrefix, buf.Asset)
	if len(buf.Buckets) == 0 {
		return m.KVDelete(key)
	}
	stored := &storedBuffer{Asset: buf.Asset, Buckets: make([]storedBucket, 0, len(buf.Buckets))}
	for _, b := range buf.Buckets {
		stored.Buckets = append(stored.Buckets, storedBucket{StartTime: b.StartTime, Amount: bigOrZero(b.Amount), Asset: b.Asset})
	}
	return m.KVPut(key, stored)
}

// Position returns the position at key or nil.
func (m *Manager) Position(key accrual.PositionKey) (*accrual.Position, error) {
	var stored storedPosition
	ok, err := m.KVGet(positionKey(key), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &accrual.Position{
		Key:            accrual.PositionKey{Owner: stored.Key.Owner, Tier: stored.Key.Tier, LockInstant: stored.Key.LockInstant},
		Principal:      bigOrZero(stored.Principal),
		MultiplierBps:  stored.MultiplierBps,
		Weighted:       bigOrZero(stored.Weighted),
		Snapshots:      fromStoredWeights(stored.Snapshots),
		Accrued:        fromStoredAmounts(stored.Accrued),
		EssenceA:       bigOrZero(stored.EssenceA),
		EssenceB:       bigOrZero(stored.EssenceB),
		LockingEssence: bigOrZero(stored.LockingEssence),
	}, nil
}

// PutPosition persists the position and records it in the owner index.
func (m *Manager) PutPosition(pos *accrual.Position) error {
	storedKey := storedPositionKey{Owner: pos.Key.Owner, Tier: pos.Key.Tier, LockInstant: pos.Key.LockInstant}
	if err := m.KVPut(positionKey(pos.Key), &storedPosition{
		Key:            storedKey,
		Principal:      bigOrZero(pos.Principal),
		MultiplierBps:  pos.MultiplierBps,
		Weighted:       bigOrZero(pos.Weighted),
		Snapshots:      toStoredWeights(pos.Snapshots),
		Accrued:        toStoredAmounts(pos.Accrued),
		EssenceA:       bigOrZero(pos.EssenceA),
		EssenceB:       bigOrZero(pos.EssenceB),
		LockingEssence: bigOrZero(pos.LockingEssence),
	}); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&storedKey)
	if err != nil {
		return err
	}
	return m.KVAppend(stringKey(accrualOwnerIndexPrefix, pos.Key.Owner), encoded)
}

// DeletePosition removes the position and its owner index entry.
func (m *Manager) DeletePosition(key accrual.PositionKey) error {
	if err := m.KVDelete(positionKey(key)); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&storedPositionKey{Owner: key.Owner, Tier: key.Tier, LockInstant: key.LockInstant})
	if err != nil {
		return err
	}
	return m.KVRemove(stringKey(accrualOwnerIndexPrefix, key.Owner), encoded)
}

// OwnerPositions lists the position keys of owner in insertion order.
func (m *Manager) OwnerPositions(owner string) ([]accrual.PositionKey, error) {
	var list [][]byte
	if err := m.KVGetList(stringKey(accrualOwnerIndexPrefix, owner), &list); err != nil {
		return nil, err
	}
	out := make([]accrual.PositionKey, 0, len(list))
	for _, raw := range list {
		var stored storedPositionKey
		if err := rlp.DecodeBytes(raw, &stored); err != nil {
			return nil, err
		}
		out = append(out, accrual.PositionKey{Owner: stored.Owner, Tier: stored.Tier, LockInstant: stored.LockInstant})
	}
	return out, nil
}

// TierSchedule returns the stored tier list or nil.
func (m *Manager) TierSchedule() (*accrual.TierSchedule, error) {
	var stored []storedTier
	ok, err := m.KVGet(accrualTierScheduleKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	schedule := &accrual.TierSchedule{Tiers: make([]accrual.Tier, 0, len(stored))}
	for _, t := range stored {
		schedule.Tiers = append(schedule.Tiers, accrual.Tier{Duration: t.Duration, MultiplierBps: t.MultiplierBps, PenaltyBps: t.PenaltyBps})
	}
	return schedule, nil
}

// PutTierSchedule persists the tier list.
func (m *Manager) PutTierSchedule(schedule *accrual.TierSchedule) error {
	stored := make([]storedTier, 0, len(schedule.Tiers))
	for _, t := range schedule.Tiers {
		stored = append(stored, storedTier{Duration: t.Duration, MultiplierBps: t.MultiplierBps, PenaltyBps: t.PenaltyBps})
	}
	return m.KVPut(accrualTierScheduleKey, stored)
}

// TierAggregate returns the stored aggregate of a tier or nil.
func (m *Manager) TierAggregate(duration uint64) (*accrual.TierAggregate, error) {
	var stored storedAggregate
	ok, err := m.KVGet(uintKey(accrualAggregatePrefix, duration), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &accrual.TierAggregate{
		Duration:       stored.Duration,
		TotalPrincipal: bigOrZero(stored.TotalPrincipal),
		TotalWeighted:  bigOrZero(stored.TotalWeighted),
	}, nil
}

// PutTierAggregate persists the aggregate of a tier.
func (m *Manager) PutTierAggregate(agg *accrual.TierAggregate) error {
	return m.KVPut(uintKey(accrualAggregatePrefix, agg.Duration), &storedAggregate{
		Duration:       agg.Duration,
		TotalPrincipal: bigOrZero(agg.TotalPrincipal),
		TotalWeighted:  bigOrZero(agg.TotalWeighted),
	})
}

// Totals returns the global stake sums or nil.
func (m *Manager) Totals() (*accrual.Totals, error) {
	var stored storedTotals
	ok, err := m.KVGet(accrualTotalsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &accrual.Totals{Principal: bigOrZero(stored.Principal), Weighted: bigOrZero(stored.Weighted)}, nil
}

// PutTotals persists the global stake sums.
func (m *Manager) PutTotals(totals *accrual.Totals) error {
	return m.KVPut(accrualTotalsKey, &storedTotals{Principal: bigOrZero(totals.Principal), Weighted: bigOrZero(totals.Weighted)})
}

// checkpointKey places the fixed-width index before the owner so that no
// owner string can collide with another owner's index.
func checkpointKey(owner string, index uint64) []byte {
	buf := make([]byte, len(essenceCheckpointPrefix)+8+len(owner))
	copy(buf, essenceCheckpointPrefix)
	binary.BigEndian.PutUint64(buf[len(essenceCheckpointPrefix):], index)
	copy(buf[len(essenceCheckpointPrefix)+8:], owner)
	return buf
}

// EssenceCheckpointCount returns how many checkpoints owner has.
func (m *Manager) EssenceCheckpointCount(owner string) (uint64, error) {
	var count uint64
	if _, err := m.KVGet(stringKey(essenceCountPrefix, owner), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// EssenceCheckpoint returns checkpoint index of owner.
func (m *Manager) EssenceCheckpoint(owner string, index uint64) (essence.Checkpoint, error) {
	var stored storedCheckpoint
	ok, err := m.KVGet(checkpointKey(owner, index), &stored)
	if err != nil {
		return essence.Checkpoint{}, err
	}
	if !ok {
		return essence.Checkpoint{}, fmt.Errorf("state: essence checkpoint %d of %q missing", index, owner)
	}
	return essence.Checkpoint{
		Timestamp: stored.Timestamp,
		State:     essence.State{A: bigOrZero(stored.A), B: bigOrZero(stored.B), Locking: bigOrZero(stored.Locking)},
	}, nil
}

// PutEssenceCheckpoint writes checkpoint index of owner. Writing at the
// current count appends and bumps the count.
func (m *Manager) PutEssenceCheckpoint(owner string, index uint64, cp essence.Checkpoint) error {
	count, err := m.EssenceCheckpointCount(owner)
	if err != nil {
		return err
	}
	if index > count {
		return fmt.Errorf("state: essence checkpoint %d of %q skips past %d", index, owner, count)
	}
	if err := m.KVPut(checkpointKey(owner, index), &storedCheckpoint{
		Timestamp: cp.Timestamp,
		A:         bigOrZero(cp.State.A),
		B:         bigOrZero(cp.State.B),
		Locking:   bigOrZero(cp.State.Locking),
	}); err != nil {
		return err
	}
	if index == count {
		return m.KVPut(stringKey(essenceCountPrefix, owner), count+1)
	}
	return nil
}
