package accrual

import "math/big"

// Recognize appends a bucket that starts vesting at now. Buckets stay ordered
// by start time because now never moves backwards.
func (b *RewardBuffer) Recognize(amount *big.Int, now uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if n := len(b.Buckets); n > 0 && b.Buckets[n-1].StartTime > now {
		return ErrClockRegression
	}
	value, err := bounded(new(big.Int).Set(amount))
	if err != nil {
		return err
	}
	b.Buckets = append(b.Buckets, PendingBucket{StartTime: now, Amount: value, Asset: b.Asset})
	return nil
}

// vestedAt is the cumulative amount of the bucket released by time t.
func (p PendingBucket) vestedAt(t, period uint64) *big.Int {
	if t <= p.StartTime {
		return big.NewInt(0)
	}
	elapsed := t - p.StartTime
	if period == 0 || elapsed >= period {
		return copyBig(p.Amount)
	}
	return mulDiv(p.Amount, new(big.Int).SetUint64(elapsed), new(big.Int).SetUint64(period))
}

// VestedSince returns the amount released in [last, now). Differences of
// cumulative floors telescope, so a bucket releases exactly its amount in
// total no matter how often it is sampled.
func (b *RewardBuffer) VestedSince(last, now, period uint64) *big.Int {
	total := big.NewInt(0)
	if b == nil || now <= last {
		return total
	}
	for i := len(b.Buckets) - 1; i >= 0; i-- {
		bucket := b.Buckets[i]
		if bucket.StartTime+period <= last && bucket.StartTime < last {
			// Older buckets finished vesting before last as well.
			break
		}
		delta := new(big.Int).Sub(bucket.vestedAt(now, period), bucket.vestedAt(last, period))
		total.Add(total, delta)
	}
	return total
}

// Unvested returns the amount recognized but not yet released at now.
func (b *RewardBuffer) Unvested(now, period uint64) *big.Int {
	total := big.NewInt(0)
	if b == nil {
		return total
	}
	for i := len(b.Buckets) - 1; i >= 0; i-- {
		bucket := b.Buckets[i]
		if bucket.StartTime+period <= now {
			break
		}
		total.Add(total, new(big.Int).Sub(bucket.Amount, bucket.vestedAt(now, period)))
	}
	return total
}

// Prune drops buckets that finished vesting at or before consumedUntil. It
// reports how many buckets were removed.
func (b *RewardBuffer) Prune(consumedUntil, period uint64) int {
	if b == nil {
		return 0
	}
	cut := 0
	for cut < len(b.Buckets) && b.Buckets[cut].StartTime+period <= consumedUntil {
		cut++
	}
	if cut == 0 {
		return 0
	}
	b.Buckets = append([]PendingBucket(nil), b.Buckets[cut:]...)
	return cut
}

// Clone returns a deep copy of the buffer.
func (b *RewardBuffer) Clone() *RewardBuffer {
	if b == nil {
		return nil
	}
	out := &RewardBuffer{Asset: b.Asset, Buckets: make([]PendingBucket, len(b.Buckets))}
	for i, bucket := range b.Buckets {
		out.Buckets[i] = PendingBucket{StartTime: bucket.StartTime, Amount: copyBig(bucket.Amount), Asset: bucket.Asset}
	}
	return out
}
