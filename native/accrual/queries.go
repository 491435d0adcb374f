package accrual

import (
	"math/big"
	"strings"
)

// Index returns the stored accumulator of asset.
func (e *Engine) Index(asset string) (*GlobalIndex, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset = strings.TrimSpace(asset)
	if _, ok := e.assetConfig(asset); !ok {
		return nil, ErrUnknownAsset
	}
	return e.loadIndex(asset)
}

// ProjectIndex returns the accumulator of asset as it would be after an update
// at now. Nothing is written.
func (e *Engine) ProjectIndex(asset string, now uint64) (*GlobalIndex, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset = strings.TrimSpace(asset)
	cfg, ok := e.assetConfig(asset)
	if !ok {
		return nil, ErrUnknownAsset
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	return e.project(cfg, totals, now)
}

func (e *Engine) project(cfg AssetConfig, totals *Totals, now uint64) (*GlobalIndex, error) {
	idx, err := e.loadIndex(cfg.Denom)
	if err != nil {
		return nil, err
	}
	buf, err := e.loadBuffer(cfg.Denom)
	if err != nil {
		return nil, err
	}
	projected := idx.Clone()
	if _, _, err := touchIndex(projected, buf, denominatorFor(cfg, totals), now, e.params.DistributionPeriod); err != nil {
		return nil, err
	}
	return projected, nil
}

// PendingRewards projects what ClaimPosition would pay for key at now.
func (e *Engine) PendingRewards(key PositionKey, now uint64) ([]AssetAmount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	key.Owner = strings.TrimSpace(key.Owner)
	pos, err := e.state.Position(key)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	out := make([]AssetAmount, 0, len(e.params.Assets))
	for _, cfg := range e.params.Assets {
		idx, err := e.project(cfg, totals, now)
		if err != nil {
			return nil, err
		}
		earned, err := owed(idx.Weight, pos.Snapshot(cfg.Denom), stakeFor(cfg, pos))
		if err != nil {
			return nil, err
		}
		total, err := checkedAdd(pos.AccruedFor(cfg.Denom), earned)
		if err != nil {
			return nil, err
		}
		out = append(out, AssetAmount{Asset: cfg.Denom, Amount: total})
	}
	return out, nil
}

// Position returns the stored position at key.
func (e *Engine) Position(key PositionKey) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	key.Owner = strings.TrimSpace(key.Owner)
	pos, err := e.state.Position(key)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

// OwnerPositions lists every open position of owner.
func (e *Engine) OwnerPositions(owner string) ([]*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	owner, err := normalizeOwner(owner)
	if err != nil {
		return nil, err
	}
	keys, err := e.state.OwnerPositions(owner)
	if err != nil {
		return nil, err
	}
	out := make([]*Position, 0, len(keys))
	for _, key := range keys {
		pos, err := e.state.Position(key)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			out = append(out, pos)
		}
	}
	return out, nil
}

// Tier returns the listed tier with the supplied duration.
func (e *Engine) Tier(duration uint64) (Tier, error) {
	if e == nil || e.state == nil {
		return Tier{}, errNilState
	}
	schedule, err := e.loadSchedule()
	if err != nil {
		return Tier{}, err
	}
	tier, ok := schedule.Lookup(duration)
	if !ok {
		return Tier{}, ErrTierNotFound
	}
	return tier, nil
}

// Tiers returns the listed tiers ordered by duration.
func (e *Engine) Tiers() ([]Tier, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	schedule, err := e.loadSchedule()
	if err != nil {
		return nil, err
	}
	return append([]Tier(nil), schedule.Tiers...), nil
}

// TierTotals returns the principal held in a tier. Delisted tiers still report
// the principal of their open positions.
func (e *Engine) TierTotals(duration uint64) (*TierAggregate, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadAggregate(duration)
}

// Totals returns the global stake sums.
func (e *Engine) Totals() (*Totals, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadTotals()
}

// Essence returns the essence of owner as of at.
func (e *Engine) Essence(owner string, at uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	owner, err := normalizeOwner(owner)
	if err != nil {
		return nil, err
	}
	return e.essence.Capture(owner, at)
}

// TotalEssence returns the system-wide essence as of at.
func (e *Engine) TotalEssence(at uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.essence.TotalCapture(at)
}

// Unvested returns the amount of asset recognized but not yet released at now.
func (e *Engine) Unvested(asset string, now uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset = strings.TrimSpace(asset)
	if _, ok := e.assetConfig(asset); !ok {
		return nil, ErrUnknownAsset
	}
	buf, err := e.loadBuffer(asset)
	if err != nil {
		return nil, err
	}
	return buf.Unvested(now, e.params.DistributionPeriod), nil
}
