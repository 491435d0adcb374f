package rpc

import (
	"errors"
	"net/http"

	"stakeledger/core/oracle"
	"stakeledger/core/outbox"
	"stakeledger/native/accrual"
	nativecommon "stakeledger/native/common"
)

type errorClass struct {
	status  int
	code    int
	message string
}

var errorClasses = []struct {
	target error
	class  errorClass
}{
	{nativecommon.ErrModulePaused, errorClass{http.StatusServiceUnavailable, codeModulePaused, "accrual module paused"}},
	{accrual.ErrUnauthorized, errorClass{http.StatusForbidden, codeUnauthorized, "caller not authorized"}},
	{accrual.ErrPositionNotFound, errorClass{http.StatusNotFound, codeNotFound, "position not found"}},
	{accrual.ErrTierNotFound, errorClass{http.StatusNotFound, codeNotFound, "tier not listed"}},
	{outbox.ErrNotFound, errorClass{http.StatusNotFound, codeNotFound, "instruction not found"}},
	{accrual.ErrInsufficientBalance, errorClass{http.StatusConflict, codeConflict, "insufficient balance"}},
	{accrual.ErrLockShortening, errorClass{http.StatusConflict, codeConflict, "restake would shorten lock"}},
	{accrual.ErrClockRegression, errorClass{http.StatusConflict, codeConflict, "clock moved backwards"}},
	{outbox.ErrAlreadyDispatched, errorClass{http.StatusConflict, codeConflict, "instruction already dispatched"}},
	{accrual.ErrInvalidAmount, errorClass{http.StatusBadRequest, codeInvalidParams, "invalid amount"}},
	{accrual.ErrInvalidOwner, errorClass{http.StatusBadRequest, codeInvalidParams, "invalid owner"}},
	{accrual.ErrInvalidTier, errorClass{http.StatusBadRequest, codeInvalidParams, "invalid tier"}},
	{accrual.ErrUnknownAsset, errorClass{http.StatusBadRequest, codeInvalidParams, "unknown reward asset"}},
	{oracle.ErrNoRate, errorClass{http.StatusBadRequest, codeInvalidParams, "no conversion rate"}},
	{nativecommon.ErrQuotaRequestsExceeded, errorClass{http.StatusTooManyRequests, codeRateLimited, "request quota exceeded"}},
	{nativecommon.ErrQuotaAmountExceeded, errorClass{http.StatusTooManyRequests, codeRateLimited, "amount quota exceeded"}},
	{nativecommon.ErrQuotaCounterOverflow, errorClass{http.StatusTooManyRequests, codeRateLimited, "quota counter overflow"}},
	{accrual.ErrArithmeticOverflow, errorClass{http.StatusInternalServerError, codeServerError, "arithmetic fault"}},
	{accrual.ErrArithmeticUnderflow, errorClass{http.StatusInternalServerError, codeServerError, "arithmetic fault"}},
}

// classifyError maps an error onto an HTTP status, JSON-RPC code and public
// message.
func classifyError(err error) (int, int, string) {
	var perr *paramError
	if errors.As(err, &perr) {
		return http.StatusBadRequest, codeInvalidParams, "invalid params"
	}
	for _, entry := range errorClasses {
		if errors.Is(err, entry.target) {
			return entry.class.status, entry.class.code, entry.class.message
		}
	}
	return http.StatusInternalServerError, codeServerError, "internal error"
}

// paramError reports malformed method parameters.
type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func invalidParams(msg string) error { return &paramError{msg: msg} }
