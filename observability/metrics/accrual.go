package metrics

import (
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AccrualMetrics tracks staking and reward accounting activity.
type AccrualMetrics struct {
	operations *prometheus.CounterVec
	recognized *prometheus.CounterVec
	paid       *prometheus.CounterVec
	penalties  *prometheus.CounterVec
	weight     *prometheus.GaugeVec
	principal  *prometheus.GaugeVec
}

var (
	accrualOnce     sync.Once
	accrualRegistry *AccrualMetrics
)

// Accrual returns the process-wide accrual metrics registry.
func Accrual() *AccrualMetrics {
	accrualOnce.Do(func() {
		accrualRegistry = &AccrualMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "accrual_operations_total",
				Help: "Count of engine operations by kind and outcome.",
			}, []string{"kind", "outcome"}),
			recognized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "accrual_rewards_recognized_total",
				Help: "Reward amounts handed to the smoothing buffer per asset.",
			}, []string{"asset"}),
			paid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "accrual_rewards_paid_total",
				Help: "Reward amounts paid to position owners per asset.",
			}, []string{"asset"}),
			penalties: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "accrual_penalties_total",
				Help: "Early-unlock penalties withheld by destination.",
			}, []string{"destination"}),
			weight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "accrual_reward_weight",
				Help: "Current cumulative reward weight per asset, scaled down by 1e27.",
			}, []string{"asset"}),
			principal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "accrual_principal",
				Help: "Principal staked per tier duration.",
			}, []string{"tier"}),
		}
		prometheus.MustRegister(
			accrualRegistry.operations,
			accrualRegistry.recognized,
			accrualRegistry.paid,
			accrualRegistry.penalties,
			accrualRegistry.weight,
			accrualRegistry.principal,
		)
	})
	return accrualRegistry
}

// ObserveOperation counts an engine call.
func (m *AccrualMetrics) ObserveOperation(kind string, err error) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(kind, outcome).Inc()
}

func (m *AccrualMetrics) ObserveRecognized(asset string, amount *big.Int) {
	if m == nil {
		return
	}
	m.recognized.WithLabelValues(label(asset)).Add(toFloat(amount))
}

func (m *AccrualMetrics) ObservePaid(asset string, amount *big.Int) {
	if m == nil {
		return
	}
	m.paid.WithLabelValues(label(asset)).Add(toFloat(amount))
}

// ObservePenalty records a withheld penalty. An empty destination means the
// penalty was recycled into rewards.
func (m *AccrualMetrics) ObservePenalty(destination string, amount *big.Int) {
	if m == nil {
		return
	}
	if strings.TrimSpace(destination) == "" {
		destination = "recycled"
	} else {
		destination = "recipient"
	}
	m.penalties.WithLabelValues(destination).Add(toFloat(amount))
}

// SetWeight publishes a ray-scaled weight.
func (m *AccrualMetrics) SetWeight(asset string, weight *big.Int) {
	if m == nil || weight == nil {
		return
	}
	scaled, _ := new(big.Float).Quo(new(big.Float).SetInt(weight), big.NewFloat(1e27)).Float64()
	m.weight.WithLabelValues(label(asset)).Set(scaled)
}

func (m *AccrualMetrics) SetPrincipal(tier string, principal *big.Int) {
	if m == nil {
		return
	}
	m.principal.WithLabelValues(tier).Set(toFloat(principal))
}

func label(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func toFloat(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
