package accrual

import (
	"fmt"
	"sort"
	"strings"

	"stakeledger/native/essence"
)

// DefaultDistributionPeriod spreads each reward deposit over eight days.
const DefaultDistributionPeriod uint64 = 8 * 24 * 60 * 60

// Params captures the static configuration of the engine.
type Params struct {
	// StakeAsset is the denomination of principal.
	StakeAsset string
	// DistributionPeriod is the vesting window of every reward bucket in
	// seconds.
	DistributionPeriod uint64
	Assets             []AssetConfig
	PenaltyMode        PenaltyMode
	// PenaltyRecipient receives withheld penalties. When empty, penalties are
	// recycled as rewards of StakeAsset, which must then be a reward asset.
	PenaltyRecipient string
	Essence          essence.Params
}

// Validate checks the parameters and returns a normalised copy.
func (p Params) Validate() (Params, error) {
	out := p
	out.StakeAsset = strings.TrimSpace(p.StakeAsset)
	if out.StakeAsset == "" {
		return out, fmt.Errorf("accrual: stake asset required")
	}
	if out.DistributionPeriod == 0 {
		out.DistributionPeriod = DefaultDistributionPeriod
	}
	mode, err := ParsePenaltyMode(string(p.PenaltyMode))
	if err != nil {
		return out, err
	}
	out.PenaltyMode = mode
	out.PenaltyRecipient = strings.TrimSpace(p.PenaltyRecipient)
	if len(p.Assets) == 0 {
		return out, fmt.Errorf("accrual: at least one reward asset required")
	}
	seen := make(map[string]struct{}, len(p.Assets))
	out.Assets = make([]AssetConfig, 0, len(p.Assets))
	for _, asset := range p.Assets {
		denom := strings.TrimSpace(asset.Denom)
		if denom == "" {
			return out, fmt.Errorf("accrual: reward asset denom required")
		}
		if _, dup := seen[denom]; dup {
			return out, fmt.Errorf("accrual: duplicate reward asset %s", denom)
		}
		seen[denom] = struct{}{}
		out.Assets = append(out.Assets, AssetConfig{Denom: denom, Weighted: asset.Weighted})
	}
	sort.Slice(out.Assets, func(i, j int) bool { return out.Assets[i].Denom < out.Assets[j].Denom })
	if out.PenaltyRecipient == "" {
		if _, ok := seen[out.StakeAsset]; !ok {
			return out, fmt.Errorf("accrual: penalty recipient required when %s is not a reward asset", out.StakeAsset)
		}
	}
	if out.Essence.SecondsPerUnit == 0 {
		out.Essence.SecondsPerUnit = 1
	}
	return out, nil
}
