package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics tracks HTTP traffic of the RPC surface.
type APIMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type transferMetrics struct {
	queued  *prometheus.CounterVec
	amounts *prometheus.CounterVec
	failed  prometheus.Counter
}

// Throttle reasons.
const (
	ThrottleRateLimit  = "rate_limit"
	ThrottleOwnerQuota = "owner_quota"
)

var (
	apiOnce     sync.Once
	apiRegistry *APIMetrics

	transferMetricsOnce sync.Once
	transferRegistry    *transferMetrics
)

// ModuleMetrics returns the process-wide API metrics.
func ModuleMetrics() *APIMetrics {
	apiOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "API requests by route, HTTP method and status class.",
			}, []string{"route", "method", "class"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "API request latency.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter or an owner quota.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(apiRegistry.requests, apiRegistry.latency, apiRegistry.throttles)
	})
	return apiRegistry
}

// StatusClass collapses an HTTP status into "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}

// Observe records one finished request.
func (m *APIMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = orUnknown(route)
	m.requests.WithLabelValues(route, orUnknown(method), StatusClass(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request.
func (m *APIMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(orUnknown(route), orUnknown(reason)).Inc()
}

func orUnknown(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unknown"
	}
	return v
}

// Transfers returns the registry tracking outbox transfer instructions.
func Transfers() *transferMetrics {
	transferMetricsOnce.Do(func() {
		transferRegistry = &transferMetrics{
			queued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "outbox",
				Name:      "transfers_total",
				Help:      "Count of transfer instructions queued segmented by asset and reason.",
			}, []string{"asset", "reason"}),
			amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "outbox",
				Name:      "transfer_amount_total",
				Help:      "Sum of queued transfer amounts in base units.",
			}, []string{"asset", "reason"}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "outbox",
				Name:      "enqueue_failures_total",
				Help:      "Count of committed operations whose transfers could not be journaled.",
			}),
		}
		prometheus.MustRegister(transferRegistry.queued, transferRegistry.amounts, transferRegistry.failed)
	})
	return transferRegistry
}

// RecordTransfer counts one queued instruction.
func (m *transferMetrics) RecordTransfer(asset, reason string, amount *big.Int) {
	if m == nil {
		return
	}
	reason = orUnknown(reason)
	label := labelAsset(asset)
	m.queued.WithLabelValues(label, reason).Inc()
	m.amounts.WithLabelValues(label, reason).Add(BigToFloat(amount))
}

// RecordEnqueueFailure counts an outbox write failure.
func (m *transferMetrics) RecordEnqueueFailure() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

// BigToFloat converts an integer amount for gauge and counter use. Values
// that do not fit a float64 report zero.
func BigToFloat(value *big.Int) float64 {
	if value == nil || value.Sign() < 0 {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
