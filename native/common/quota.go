package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaAmountExceeded   = errors.New("quota amount cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters of one caller.
type QuotaNow struct {
	ReqCount   uint32
	AmountUsed uint64
	WindowID   uint64
}

// Quota defines the limits enforced per caller within one window.
type Quota struct {
	MaxRequestsPerWindow uint32
	MaxAmountPerWindow   uint64
	WindowSeconds        uint32
}

// Window maps a unix timestamp to the quota window it falls in.
func (q Quota) Window(now uint64) uint64 {
	if q.WindowSeconds == 0 {
		return 0
	}
	return now / uint64(q.WindowSeconds)
}

// CheckQuota verifies whether the additional request and amount fit within the
// configured quota. The returned QuotaNow reflects the updated counters when the
// quota is not exceeded.
func CheckQuota(q Quota, window uint64, prev QuotaNow, addReq uint32, addAmount uint64) (QuotaNow, error) {
	next := prev
	if prev.WindowID != window {
		next = QuotaNow{WindowID: window}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerWindow > 0 && next.ReqCount > q.MaxRequestsPerWindow {
		return prev, ErrQuotaRequestsExceeded
	}

	if addAmount > 0 {
		if next.AmountUsed > math.MaxUint64-addAmount {
			return prev, ErrQuotaCounterOverflow
		}
		next.AmountUsed += addAmount
	}
	if q.MaxAmountPerWindow > 0 && next.AmountUsed > q.MaxAmountPerWindow {
		return prev, ErrQuotaAmountExceeded
	}

	return next, nil
}
