package observability

import (
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", StatusClass(http.StatusOK))
	require.Equal(t, "4xx", StatusClass(http.StatusTooManyRequests))
	require.Equal(t, "5xx", StatusClass(http.StatusServiceUnavailable))
	require.Equal(t, "unknown", StatusClass(0))
}

func TestAPIMetricsCounts(t *testing.T) {
	m := ModuleMetrics()
	requests := m.requests.WithLabelValues("rpc-test", "POST", "4xx")
	throttles := m.throttles.WithLabelValues("rpc-test", ThrottleOwnerQuota)
	beforeReq := testutil.ToFloat64(requests)
	beforeThrottle := testutil.ToFloat64(throttles)

	m.Observe("rpc-test", "POST", http.StatusConflict, 5*time.Millisecond)
	m.RecordThrottle("rpc-test", ThrottleOwnerQuota)

	require.Equal(t, beforeReq+1, testutil.ToFloat64(requests))
	require.Equal(t, beforeThrottle+1, testutil.ToFloat64(throttles))

	var nilMetrics *APIMetrics
	nilMetrics.Observe("rpc", "POST", 200, time.Second)
}

func TestTransferMetrics(t *testing.T) {
	m := Transfers()
	queued := m.queued.WithLabelValues("ZNHB", "penalty")
	amount := m.amounts.WithLabelValues("ZNHB", "penalty")
	beforeQueued := testutil.ToFloat64(queued)
	beforeAmount := testutil.ToFloat64(amount)

	m.RecordTransfer(" znhb ", "penalty", big.NewInt(250))

	require.Equal(t, beforeQueued+1, testutil.ToFloat64(queued))
	require.Equal(t, beforeAmount+250, testutil.ToFloat64(amount))
}

func TestBigToFloat(t *testing.T) {
	require.Equal(t, float64(0), BigToFloat(nil))
	require.Equal(t, float64(0), BigToFloat(big.NewInt(-5)))
	require.Equal(t, float64(1e18), BigToFloat(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
}
