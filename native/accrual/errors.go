package accrual

import "errors"

var (
	ErrArithmeticOverflow  = errors.New("accrual: arithmetic overflow")
	ErrArithmeticUnderflow = errors.New("accrual: arithmetic underflow")
	ErrPositionNotFound    = errors.New("accrual: position not found")
	ErrInsufficientBalance = errors.New("accrual: insufficient balance")
	ErrTierNotFound        = errors.New("accrual: tier not listed")
	ErrInvalidTier         = errors.New("accrual: invalid tier")
	ErrInvalidAmount       = errors.New("accrual: amount must be positive")
	ErrInvalidOwner        = errors.New("accrual: owner required")
	ErrUnknownAsset        = errors.New("accrual: unknown reward asset")
	ErrUnauthorized        = errors.New("accrual: unauthorized")
	ErrLockShortening      = errors.New("accrual: restake would shorten an active lock")
	ErrClockRegression     = errors.New("accrual: time moved backwards")

	errNilState = errors.New("accrual engine: state not configured")
)
