package accrual

import (
	"math/big"
	"strings"

	"stakeledger/core/events"
	nativecommon "stakeledger/native/common"
	"stakeledger/native/essence"
)

const moduleName = "accrual"

// engineState is the persistence surface required by the engine. Getters
// return nil without error when the record does not exist. PutPosition and
// DeletePosition maintain the owner index read by OwnerPositions.
type engineState interface {
	Snapshot() int
	RevertToSnapshot(id int)

	AccrualIndex(asset string) (*GlobalIndex, error)
	PutAccrualIndex(idx *GlobalIndex) error
	RewardBuffer(asset string) (*RewardBuffer, error)
	PutRewardBuffer(buf *RewardBuffer) error

	Position(key PositionKey) (*Position, error)
	PutPosition(pos *Position) error
	DeletePosition(key PositionKey) error
	OwnerPositions(owner string) ([]PositionKey, error)

	TierSchedule() (*TierSchedule, error)
	PutTierSchedule(schedule *TierSchedule) error
	TierAggregate(duration uint64) (*TierAggregate, error)
	PutTierAggregate(agg *TierAggregate) error
	Totals() (*Totals, error)
	PutTotals(totals *Totals) error

	EssenceCheckpointCount(owner string) (uint64, error)
	EssenceCheckpoint(owner string, index uint64) (essence.Checkpoint, error)
	PutEssenceCheckpoint(owner string, index uint64, cp essence.Checkpoint) error
}

// Authorizer decides whether a caller may manage the tier schedule.
type Authorizer interface {
	IsAdmin(caller string) bool
}

// Engine applies stake, unstake, restake, claim and reward recognition to the
// configured state. Operations are all-or-nothing: a failure reverts every
// write made by the operation.
type Engine struct {
	state   engineState
	params  Params
	essence *essence.Tracker
	pauses  nativecommon.PauseView
	auth    Authorizer
	emitter events.Emitter
}

// NewEngine validates params and constructs an engine.
func NewEngine(params Params) (*Engine, error) {
	normalized, err := params.Validate()
	if err != nil {
		return nil, err
	}
	return &Engine{
		params:  normalized,
		essence: essence.NewTracker(normalized.Essence),
		emitter: events.NoopEmitter{},
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.essence.SetState(state)
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetAuthorizer installs the admin predicate used by tier management.
func (e *Engine) SetAuthorizer(auth Authorizer) {
	if e == nil {
		return
	}
	e.auth = auth
}

// SetEmitter routes engine events to the supplied sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// Params returns the validated engine configuration.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// Bootstrap seeds the tier schedule when none has been stored yet. An existing
// schedule is left untouched so admin edits survive restarts.
func (e *Engine) Bootstrap(tiers []Tier) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	existing, err := e.state.TierSchedule()
	if err != nil {
		return err
	}
	if existing != nil && len(existing.Tiers) > 0 {
		return nil
	}
	schedule := &TierSchedule{}
	for _, tier := range tiers {
		if err := tier.Validate(); err != nil {
			return err
		}
		schedule.Upsert(tier)
	}
	return e.state.PutTierSchedule(schedule)
}

// Recognize enters a reward deposit into the smoothing buffer of asset. The
// deposit vests linearly over the distribution period starting at now.
func (e *Engine) Recognize(asset string, amount *big.Int, now uint64) error {
	return e.recognize(strings.TrimSpace(asset), amount, now, "")
}

func (e *Engine) recognize(asset string, amount *big.Int, now uint64, source string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, ok := e.assetConfig(asset); !ok {
		return ErrUnknownAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.atomic(func(emit func(events.Event)) error {
		idx, err := e.loadIndex(asset)
		if err != nil {
			return err
		}
		if now < idx.LastUpdate {
			return ErrClockRegression
		}
		if err := e.addBucket(asset, amount, now); err != nil {
			return err
		}
		emit(events.RewardRecognized{Asset: asset, Amount: copyBig(amount), Start: now, Source: source})
		return nil
	})
}

// Stake adds amount of principal for owner in tier. Locked tiers open a
// position keyed by now; the flexible tier keeps one position per owner.
func (e *Engine) Stake(owner string, tier uint64, amount *big.Int, now uint64) (*StakeResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	owner, err := normalizeOwner(owner)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var result *StakeResult
	err = e.atomic(func(emit func(events.Event)) error {
		schedule, err := e.loadSchedule()
		if err != nil {
			return err
		}
		def, ok := schedule.Lookup(tier)
		if !ok {
			return ErrTierNotFound
		}
		indexes, err := e.touchAll(now)
		if err != nil {
			return err
		}
		key := PositionKey{Owner: owner, Tier: tier, LockInstant: lockInstantFor(tier, now)}
		pos, settled, err := e.openPosition(key, def, indexes)
		if err != nil {
			return err
		}
		if err := e.addPrincipal(pos, amount, now); err != nil {
			return err
		}
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
		emit(events.StakeOpened{Owner: owner, Tier: tier, LockInstant: key.LockInstant, Amount: copyBig(amount), Principal: copyBig(pos.Principal)})
		result = &StakeResult{Position: pos.Clone(), Settled: settled}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Unstake withdraws amount of principal from the position. Early withdrawals
// from a listed locked tier are charged a penalty. Every accrued reward of the
// position is paid out alongside the net principal.
func (e *Engine) Unstake(owner string, tier, lockInstant uint64, amount *big.Int, now uint64) (*UnstakeResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	owner, err := normalizeOwner(owner)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var result *UnstakeResult
	err = e.atomic(func(emit func(events.Event)) error {
		key := PositionKey{Owner: owner, Tier: tier, LockInstant: lockInstant}
		indexes, err := e.touchAll(now)
		if err != nil {
			return err
		}
		pos, err := e.state.Position(key)
		if err != nil {
			return err
		}
		if pos == nil {
			return ErrPositionNotFound
		}
		if amount.Cmp(zeroIfNil(pos.Principal)) > 0 {
			return ErrInsufficientBalance
		}
		if _, err := e.settle(pos, indexes); err != nil {
			return err
		}
		schedule, err := e.loadSchedule()
		if err != nil {
			return err
		}
		def, listed := schedule.Lookup(tier)
		penalty := Penalty(amount, def, listed, lockInstant, now, e.params.PenaltyMode)
		net, err := checkedSub(amount, penalty)
		if err != nil {
			return err
		}
		if err := e.removePrincipal(pos, amount, now); err != nil {
			return err
		}
		rewards := pos.takeAccrued()
		transfers := make([]Transfer, 0, len(rewards)+2)
		if net.Sign() > 0 {
			transfers = append(transfers, Transfer{Recipient: owner, Asset: e.params.StakeAsset, Amount: copyBig(net), Reason: TransferReasonPrincipal})
		}
		if penalty.Sign() > 0 {
			recycled, err := e.routePenalty(penalty, now, emit)
			if err != nil {
				return err
			}
			if !recycled {
				transfers = append(transfers, Transfer{Recipient: e.params.PenaltyRecipient, Asset: e.params.StakeAsset, Amount: copyBig(penalty), Reason: TransferReasonPenalty})
			}
		}
		transfers = append(transfers, rewardTransfers(owner, rewards)...)
		deleted := pos.Empty()
		if deleted {
			err = e.state.DeletePosition(key)
		} else {
			err = e.state.PutPosition(pos)
		}
		if err != nil {
			return err
		}
		emit(events.StakeWithdrawn{Owner: owner, Tier: tier, LockInstant: lockInstant, Amount: copyBig(amount), Penalty: copyBig(penalty), Net: copyBig(net), Principal: copyBig(pos.Principal)})
		emitRewards(emit, owner, rewards)
		result = &UnstakeResult{
			Position:  pos.Clone(),
			Deleted:   deleted,
			Withdrawn: copyBig(amount),
			Penalty:   penalty,
			Net:       net,
			Rewards:   rewards,
			Transfers: transfers,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Restake moves amount of principal from a position into toTier locked at now.
// Moving into a shorter tier is only allowed once the source lock has expired
// or its tier has been delisted. No penalty is charged.
func (e *Engine) Restake(owner string, fromTier, lockInstant, toTier uint64, amount *big.Int, now uint64) (*RestakeResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	owner, err := normalizeOwner(owner)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var result *RestakeResult
	err = e.atomic(func(emit func(events.Event)) error {
		schedule, err := e.loadSchedule()
		if err != nil {
			return err
		}
		destDef, ok := schedule.Lookup(toTier)
		if !ok {
			return ErrTierNotFound
		}
		indexes, err := e.touchAll(now)
		if err != nil {
			return err
		}
		srcKey := PositionKey{Owner: owner, Tier: fromTier, LockInstant: lockInstant}
		src, err := e.state.Position(srcKey)
		if err != nil {
			return err
		}
		if src == nil {
			return ErrPositionNotFound
		}
		if amount.Cmp(zeroIfNil(src.Principal)) > 0 {
			return ErrInsufficientBalance
		}
		_, listed := schedule.Lookup(fromTier)
		released := !listed || Matured(fromTier, lockInstant, now)
		if !released && toTier < fromTier {
			return ErrLockShortening
		}
		if _, err := e.settle(src, indexes); err != nil {
			return err
		}
		if err := e.removePrincipal(src, amount, now); err != nil {
			return err
		}

		destKey := PositionKey{Owner: owner, Tier: toTier, LockInstant: lockInstantFor(toTier, now)}
		dest := src
		if destKey != srcKey {
			dest, _, err = e.openPosition(destKey, destDef, indexes)
			if err != nil {
				return err
			}
		}
		if err := e.addPrincipal(dest, amount, now); err != nil {
			return err
		}

		var rewards []AssetAmount
		if dest != src && zeroIfNil(src.Principal).Sign() == 0 {
			rewards = src.takeAccrued()
			if err := e.state.DeletePosition(srcKey); err != nil {
				return err
			}
		} else if dest != src {
			if err := e.state.PutPosition(src); err != nil {
				return err
			}
		}
		if err := e.state.PutPosition(dest); err != nil {
			return err
		}
		emit(events.StakeMoved{Owner: owner, FromTier: fromTier, FromLock: lockInstant, ToTier: toTier, ToLock: destKey.LockInstant, Amount: copyBig(amount)})
		emitRewards(emit, owner, rewards)
		result = &RestakeResult{
			From:      src.Clone(),
			To:        dest.Clone(),
			Moved:     copyBig(amount),
			Rewards:   rewards,
			Transfers: rewardTransfers(owner, rewards),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Claim settles every position of owner and pays all accrued rewards. An
// owner without positions gets ErrPositionNotFound.
func (e *Engine) Claim(owner string, now uint64) (*ClaimResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	owner, err := normalizeOwner(owner)
	if err != nil {
		return nil, err
	}
	var result *ClaimResult
	err = e.atomic(func(emit func(events.Event)) error {
		keys, err := e.state.OwnerPositions(owner)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return ErrPositionNotFound
		}
		result, err = e.claimKeys(owner, keys, now, emit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimPosition settles a single position and pays its accrued rewards.
func (e *Engine) ClaimPosition(key PositionKey, now uint64) (*ClaimResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	owner, err := normalizeOwner(key.Owner)
	if err != nil {
		return nil, err
	}
	key.Owner = owner
	var result *ClaimResult
	err = e.atomic(func(emit func(events.Event)) error {
		pos, err := e.state.Position(key)
		if err != nil {
			return err
		}
		if pos == nil {
			return ErrPositionNotFound
		}
		result, err = e.claimKeys(owner, []PositionKey{key}, now, emit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) claimKeys(owner string, keys []PositionKey, now uint64, emit func(events.Event)) (*ClaimResult, error) {
	indexes, err := e.touchAll(now)
	if err != nil {
		return nil, err
	}
	result := &ClaimResult{}
	for _, key := range keys {
		pos, err := e.state.Position(key)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			continue
		}
		if _, err := e.settle(pos, indexes); err != nil {
			return nil, err
		}
		paid := pos.takeAccrued()
		if pos.Empty() {
			err = e.state.DeletePosition(key)
		} else {
			err = e.state.PutPosition(pos)
		}
		if err != nil {
			return nil, err
		}
		result.Positions = append(result.Positions, key)
		if result.Rewards, err = sumAmounts(result.Rewards, paid); err != nil {
			return nil, err
		}
	}
	result.Transfers = rewardTransfers(owner, result.Rewards)
	emitRewards(emit, owner, result.Rewards)
	return result, nil
}

// SetTier lists a new tier or edits an existing one. Positions already held
// keep the multiplier they were opened with.
func (e *Engine) SetTier(caller string, tier Tier) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.authorized(caller) {
		return ErrUnauthorized
	}
	if err := tier.Validate(); err != nil {
		return err
	}
	return e.atomic(func(emit func(events.Event)) error {
		schedule, err := e.loadSchedule()
		if err != nil {
			return err
		}
		schedule.Upsert(tier)
		if err := e.state.PutTierSchedule(schedule); err != nil {
			return err
		}
		emit(events.TierUpdated{Duration: tier.Duration, MultiplierBps: tier.MultiplierBps, PenaltyBps: tier.PenaltyBps, Caller: caller})
		return nil
	})
}

// RemoveTier delists a tier. Open positions in it stay withdrawable and are
// treated as matured.
func (e *Engine) RemoveTier(caller string, duration uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.authorized(caller) {
		return ErrUnauthorized
	}
	return e.atomic(func(emit func(events.Event)) error {
		schedule, err := e.loadSchedule()
		if err != nil {
			return err
		}
		if !schedule.Remove(duration) {
			return ErrTierNotFound
		}
		if err := e.state.PutTierSchedule(schedule); err != nil {
			return err
		}
		agg, err := e.loadAggregate(duration)
		if err != nil {
			return err
		}
		emit(events.TierRemoved{Duration: duration, Caller: caller, OpenPositions: agg.TotalPrincipal.Sign() > 0})
		return nil
	})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) authorized(caller string) bool {
	caller = strings.TrimSpace(caller)
	return e.auth != nil && caller != "" && e.auth.IsAdmin(caller)
}

// atomic runs fn inside a state snapshot. Events are buffered and only
// forwarded when fn succeeds.
func (e *Engine) atomic(fn func(emit func(events.Event)) error) error {
	snapshot := e.state.Snapshot()
	var pending []events.Event
	if err := fn(func(evt events.Event) { pending = append(pending, evt) }); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	for _, evt := range pending {
		e.emitter.Emit(evt)
	}
	return nil
}

// touchAll brings every reward index up to now and persists the committed
// ones, pruning buckets they have fully consumed.
func (e *Engine) touchAll(now uint64) (map[string]*GlobalIndex, error) {
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*GlobalIndex, len(e.params.Assets))
	for _, cfg := range e.params.Assets {
		idx, err := e.loadIndex(cfg.Denom)
		if err != nil {
			return nil, err
		}
		buf, err := e.loadBuffer(cfg.Denom)
		if err != nil {
			return nil, err
		}
		committed, _, err := touchIndex(idx, buf, denominatorFor(cfg, totals), now, e.params.DistributionPeriod)
		if err != nil {
			return nil, err
		}
		if committed {
			if buf.Prune(idx.LastUpdate, e.params.DistributionPeriod) > 0 {
				if err := e.state.PutRewardBuffer(buf); err != nil {
					return nil, err
				}
			}
			if err := e.state.PutAccrualIndex(idx); err != nil {
				return nil, err
			}
		}
		out[cfg.Denom] = idx
	}
	return out, nil
}

// settle credits the rewards earned since the position's snapshots and moves
// the snapshots to the current weights.
func (e *Engine) settle(pos *Position, indexes map[string]*GlobalIndex) ([]AssetAmount, error) {
	var credited []AssetAmount
	for _, cfg := range e.params.Assets {
		idx := indexes[cfg.Denom]
		if idx == nil {
			continue
		}
		amount, err := owed(idx.Weight, pos.Snapshot(cfg.Denom), stakeFor(cfg, pos))
		if err != nil {
			return nil, err
		}
		if err := pos.addAccrued(cfg.Denom, amount); err != nil {
			return nil, err
		}
		pos.setSnapshot(cfg.Denom, idx.Weight)
		if amount.Sign() > 0 {
			credited = append(credited, AssetAmount{Asset: cfg.Denom, Amount: amount})
		}
	}
	return credited, nil
}

// openPosition loads and settles the position at key, or creates it with
// snapshots at the current weights so it earns nothing retroactively.
func (e *Engine) openPosition(key PositionKey, def Tier, indexes map[string]*GlobalIndex) (*Position, []AssetAmount, error) {
	pos, err := e.state.Position(key)
	if err != nil {
		return nil, nil, err
	}
	if pos != nil {
		settled, err := e.settle(pos, indexes)
		return pos, settled, err
	}
	pos = newPosition(key, def.MultiplierBps)
	for _, cfg := range e.params.Assets {
		if idx := indexes[cfg.Denom]; idx != nil {
			pos.setSnapshot(cfg.Denom, idx.Weight)
		}
	}
	return pos, nil, nil
}

// addPrincipal credits amount to the position and to every aggregate that
// tracks it.
func (e *Engine) addPrincipal(pos *Position, amount *big.Int, now uint64) error {
	principal, err := checkedAdd(pos.Principal, amount)
	if err != nil {
		return err
	}
	weighted := weightedPrincipal(principal, pos.MultiplierBps)
	delta := new(big.Int).Sub(weighted, zeroIfNil(pos.Weighted))
	if err := e.adjustAggregates(pos.Key.Tier, amount, delta); err != nil {
		return err
	}
	var contribution essence.State
	if pos.Key.Tier == FlexibleTier {
		contribution = essence.FromStake(amount, now)
	} else {
		contribution = essence.FromLock(amount, pos.Key.Tier, e.params.Essence)
	}
	stored, err := positionEssence(pos).Add(contribution)
	if err != nil {
		return essenceFault(err)
	}
	if err := e.essence.Add(pos.Key.Owner, contribution, now); err != nil {
		return essenceFault(err)
	}
	pos.Principal = principal
	pos.Weighted = weighted
	setPositionEssence(pos, stored)
	return nil
}

// removePrincipal debits amount from the position and its aggregates. A
// partial removal takes the pro-rata share of the essence contribution,
// rounding b up so the remaining contribution never goes negative.
func (e *Engine) removePrincipal(pos *Position, amount *big.Int, now uint64) error {
	current := zeroIfNil(pos.Principal)
	principal, err := checkedSub(current, amount)
	if err != nil {
		return err
	}
	weighted := weightedPrincipal(principal, pos.MultiplierBps)
	delta := new(big.Int).Sub(weighted, zeroIfNil(pos.Weighted))
	if err := e.adjustAggregates(pos.Key.Tier, new(big.Int).Neg(amount), delta); err != nil {
		return err
	}
	stored := positionEssence(pos)
	removed := stored
	if principal.Sign() > 0 {
		removed = essence.State{
			A:       mulDiv(stored.A, amount, current),
			B:       mulDivCeil(stored.B, amount, current),
			Locking: mulDiv(stored.Locking, amount, current),
		}
	}
	remaining, err := stored.Sub(removed)
	if err != nil {
		return essenceFault(err)
	}
	if err := e.essence.Remove(pos.Key.Owner, removed, now); err != nil {
		return essenceFault(err)
	}
	pos.Principal = principal
	pos.Weighted = weighted
	setPositionEssence(pos, remaining)
	return nil
}

// adjustAggregates applies signed principal and weighted deltas to the tier
// aggregate and to the global totals.
func (e *Engine) adjustAggregates(tier uint64, principalDelta, weightedDelta *big.Int) error {
	agg, err := e.loadAggregate(tier)
	if err != nil {
		return err
	}
	if agg.TotalPrincipal, err = checkedAdd(agg.TotalPrincipal, principalDelta); err != nil {
		return err
	}
	if agg.TotalWeighted, err = checkedAdd(agg.TotalWeighted, weightedDelta); err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	if totals.Principal, err = checkedAdd(totals.Principal, principalDelta); err != nil {
		return err
	}
	if totals.Weighted, err = checkedAdd(totals.Weighted, weightedDelta); err != nil {
		return err
	}
	if err := e.state.PutTierAggregate(agg); err != nil {
		return err
	}
	return e.state.PutTotals(totals)
}

// routePenalty recycles the penalty as a reward of the stake asset when no
// recipient is configured. It reports whether the penalty was recycled.
func (e *Engine) routePenalty(penalty *big.Int, now uint64, emit func(events.Event)) (bool, error) {
	if e.params.PenaltyRecipient != "" {
		return false, nil
	}
	if err := e.addBucket(e.params.StakeAsset, penalty, now); err != nil {
		return false, err
	}
	emit(events.RewardRecognized{Asset: e.params.StakeAsset, Amount: copyBig(penalty), Start: now, Source: TransferReasonPenalty})
	return true, nil
}

func (e *Engine) addBucket(asset string, amount *big.Int, now uint64) error {
	buf, err := e.loadBuffer(asset)
	if err != nil {
		return err
	}
	if err := buf.Recognize(amount, now); err != nil {
		return err
	}
	return e.state.PutRewardBuffer(buf)
}

func (e *Engine) assetConfig(asset string) (AssetConfig, bool) {
	for _, cfg := range e.params.Assets {
		if cfg.Denom == asset {
			return cfg, true
		}
	}
	return AssetConfig{}, false
}

func (e *Engine) loadIndex(asset string) (*GlobalIndex, error) {
	idx, err := e.state.AccrualIndex(asset)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return newGlobalIndex(asset), nil
	}
	if idx.Weight == nil {
		idx.Weight = big.NewInt(0)
	}
	if idx.Remainder == nil {
		idx.Remainder = big.NewInt(0)
	}
	if idx.Distributed == nil {
		idx.Distributed = big.NewInt(0)
	}
	return idx, nil
}

func (e *Engine) loadBuffer(asset string) (*RewardBuffer, error) {
	buf, err := e.state.RewardBuffer(asset)
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return &RewardBuffer{Asset: asset}, nil
	}
	return buf, nil
}

func (e *Engine) loadSchedule() (*TierSchedule, error) {
	schedule, err := e.state.TierSchedule()
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return &TierSchedule{}, nil
	}
	return schedule, nil
}

func (e *Engine) loadAggregate(duration uint64) (*TierAggregate, error) {
	agg, err := e.state.TierAggregate(duration)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		agg = &TierAggregate{Duration: duration}
	}
	agg.TotalPrincipal = zeroIfNil(agg.TotalPrincipal)
	agg.TotalWeighted = zeroIfNil(agg.TotalWeighted)
	return agg, nil
}

func (e *Engine) loadTotals() (*Totals, error) {
	totals, err := e.state.Totals()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = &Totals{}
	}
	totals.Principal = zeroIfNil(totals.Principal)
	totals.Weighted = zeroIfNil(totals.Weighted)
	return totals, nil
}

func normalizeOwner(owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" || owner == essence.TotalOwner {
		return "", ErrInvalidOwner
	}
	return owner, nil
}

func lockInstantFor(tier, now uint64) uint64 {
	if tier == FlexibleTier {
		return 0
	}
	return now
}

func rewardTransfers(owner string, rewards []AssetAmount) []Transfer {
	out := make([]Transfer, 0, len(rewards))
	for _, r := range rewards {
		if r.Amount == nil || r.Amount.Sign() == 0 {
			continue
		}
		out = append(out, Transfer{Recipient: owner, Asset: r.Asset, Amount: copyBig(r.Amount), Reason: TransferReasonReward})
	}
	return out
}

func emitRewards(emit func(events.Event), owner string, rewards []AssetAmount) {
	for _, r := range rewards {
		emit(events.StakeRewardsClaimed{Owner: owner, Asset: r.Asset, Amount: copyBig(r.Amount)})
	}
}

func positionEssence(pos *Position) essence.State {
	return essence.State{A: copyBig(pos.EssenceA), B: copyBig(pos.EssenceB), Locking: copyBig(pos.LockingEssence)}
}

func setPositionEssence(pos *Position, s essence.State) {
	pos.EssenceA = copyBig(s.A)
	pos.EssenceB = copyBig(s.B)
	pos.LockingEssence = copyBig(s.Locking)
}

// essenceFault maps essence arithmetic errors onto the engine's sentinels.
func essenceFault(err error) error {
	switch err {
	case essence.ErrOverflow:
		return ErrArithmeticOverflow
	case essence.ErrUnderflow:
		return ErrArithmeticUnderflow
	default:
		return err
	}
}
