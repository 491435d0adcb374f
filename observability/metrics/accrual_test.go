package metrics

import (
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAccrualObservers(t *testing.T) {
	m := Accrual()
	m.ObserveOperation("stake", nil)
	m.ObserveOperation("stake", errors.New("boom"))
	m.ObserveRecognized(" znhb", big.NewInt(450))
	m.ObservePenalty("", big.NewInt(20))
	m.SetPrincipal("0", big.NewInt(1000))

	if got := testutil.ToFloat64(m.operations.WithLabelValues("stake", "error")); got != 1 {
		t.Fatalf("expected one failed stake, got %v", got)
	}
	if got := testutil.ToFloat64(m.recognized.WithLabelValues("ZNHB")); got != 450 {
		t.Fatalf("unexpected recognized total %v", got)
	}
	if got := testutil.ToFloat64(m.penalties.WithLabelValues("recycled")); got != 20 {
		t.Fatalf("unexpected recycled penalties %v", got)
	}
	if got := testutil.ToFloat64(m.principal.WithLabelValues("0")); got != 1000 {
		t.Fatalf("unexpected principal gauge %v", got)
	}

	var nilMetrics *AccrualMetrics
	nilMetrics.ObserveOperation("stake", nil)
	nilMetrics.SetWeight("ZNHB", big.NewInt(1))
}
