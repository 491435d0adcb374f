package accrual

import "math/big"

// touchIndex folds the rewards vested since idx.LastUpdate into the weight.
// With a zero denominator nothing is committed: LastUpdate stays put so the
// same vested amount is picked up by the first update that has stake to pay.
// It reports whether the update was committed and the vested amount folded in.
func touchIndex(idx *GlobalIndex, buf *RewardBuffer, denominator *big.Int, now, period uint64) (bool, *big.Int, error) {
	if now < idx.LastUpdate {
		return false, nil, ErrClockRegression
	}
	if denominator == nil || denominator.Sign() == 0 {
		return false, big.NewInt(0), nil
	}
	vested := buf.VestedSince(idx.LastUpdate, now, period)
	if vested.Sign() > 0 {
		numerator := new(big.Int).Mul(vested, ray)
		numerator.Add(numerator, zeroIfNil(idx.Remainder))
		delta, rem := new(big.Int).QuoRem(numerator, denominator, new(big.Int))
		weight, err := checkedAdd(idx.Weight, delta)
		if err != nil {
			return false, nil, err
		}
		distributed, err := checkedAdd(idx.Distributed, vested)
		if err != nil {
			return false, nil, err
		}
		idx.Weight = weight
		idx.Remainder = rem
		idx.Distributed = distributed
	}
	idx.LastUpdate = now
	return true, vested, nil
}

// denominatorFor selects the stake total an asset's rewards are divided by.
func denominatorFor(cfg AssetConfig, totals *Totals) *big.Int {
	if totals == nil {
		return big.NewInt(0)
	}
	if cfg.Weighted {
		return zeroIfNil(totals.Weighted)
	}
	return zeroIfNil(totals.Principal)
}

// stakeFor returns the amount of stake a position carries for the asset.
func stakeFor(cfg AssetConfig, pos *Position) *big.Int {
	if cfg.Weighted {
		return zeroIfNil(pos.Weighted)
	}
	return zeroIfNil(pos.Principal)
}

// owed computes the reward earned by stake between two weights.
func owed(weight, snapshot, stake *big.Int) (*big.Int, error) {
	delta := new(big.Int).Sub(zeroIfNil(weight), zeroIfNil(snapshot))
	if delta.Sign() < 0 {
		return nil, ErrArithmeticUnderflow
	}
	return bounded(mulDiv(delta, stake, ray))
}
