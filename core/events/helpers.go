package events

import (
	"math/big"
	"strconv"
	"strings"
)

func normalizeAsset(asset string) string {
	return strings.TrimSpace(asset)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
