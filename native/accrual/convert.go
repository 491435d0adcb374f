package accrual

import (
	"fmt"
	"math/big"
	"strings"
)

// RatioSource quotes how many units of to one unit of from is worth, as the
// fraction num/den.
type RatioSource interface {
	Ratio(from, to string) (num, den *big.Int, err error)
}

// RecognizeConverted converts a deposit denominated in a sibling asset into the
// reward asset using the quoted ratio and recognizes the result. It returns
// the converted amount.
func (e *Engine) RecognizeConverted(source RatioSource, from string, amount *big.Int, to string, now uint64) (*big.Int, error) {
	if source == nil {
		return nil, fmt.Errorf("accrual: ratio source not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == to {
		if err := e.recognize(to, amount, now, ""); err != nil {
			return nil, err
		}
		return copyBig(amount), nil
	}
	num, den, err := source.Ratio(from, to)
	if err != nil {
		return nil, fmt.Errorf("accrual: quote %s/%s: %w", from, to, err)
	}
	if den == nil || den.Sign() <= 0 || num == nil || num.Sign() < 0 {
		return nil, fmt.Errorf("accrual: invalid ratio for %s/%s", from, to)
	}
	converted, err := bounded(mulDiv(amount, num, den))
	if err != nil {
		return nil, err
	}
	if converted.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if err := e.recognize(to, converted, now, from); err != nil {
		return nil, err
	}
	return converted, nil
}
