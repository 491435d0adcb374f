package accrual

import (
	"fmt"
	"math/big"
	"strings"
)

// PenaltyMode selects the early-unlock penalty formula.
type PenaltyMode string

const (
	// PenaltyFlat charges PenaltyBps of the withdrawn principal.
	PenaltyFlat PenaltyMode = "flat"
	// PenaltyLinear scales the flat charge by the remaining lock fraction.
	PenaltyLinear PenaltyMode = "linear"
)

// ParsePenaltyMode normalises a configured mode. Empty selects PenaltyFlat.
func ParsePenaltyMode(raw string) (PenaltyMode, error) {
	switch PenaltyMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PenaltyFlat:
		return PenaltyFlat, nil
	case PenaltyLinear:
		return PenaltyLinear, nil
	default:
		return "", fmt.Errorf("accrual: unknown penalty mode %q", raw)
	}
}

// Matured reports whether a lock taken at lockInstant in a tier of the given
// duration has expired by now.
func Matured(duration, lockInstant, now uint64) bool {
	if duration == FlexibleTier {
		return true
	}
	return lockInstant+duration <= now
}

// Penalty computes the haircut on principal withdrawn from a lock. listed is
// false when the tier has been delisted; such positions are treated as
// matured.
func Penalty(principal *big.Int, tier Tier, listed bool, lockInstant, now uint64, mode PenaltyMode) *big.Int {
	if !listed || principal == nil || principal.Sign() <= 0 || tier.PenaltyBps == 0 {
		return big.NewInt(0)
	}
	if Matured(tier.Duration, lockInstant, now) {
		return big.NewInt(0)
	}
	if mode == PenaltyLinear {
		remaining := lockInstant + tier.Duration - now
		numerator := new(big.Int).Mul(principal, new(big.Int).SetUint64(tier.PenaltyBps))
		numerator.Mul(numerator, new(big.Int).SetUint64(remaining))
		denominator := new(big.Int).Mul(basisPoints, new(big.Int).SetUint64(tier.Duration))
		return numerator.Quo(numerator, denominator)
	}
	return applyBps(principal, tier.PenaltyBps)
}
