package observability

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	settlementOnce sync.Once
	settlementReg  *SettlementMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "brokerfund",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "brokerfund",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "brokerfund",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "brokerfund",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limits or quotas.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// SettlementMetrics records settlement engine outcomes. It satisfies
// brokerage.Metrics.
type SettlementMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	managementFee prometheus.Counter
}

// Settlement returns the singleton settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = newSettlementMetrics()
		prometheus.MustRegister(
			settlementReg.operations,
			settlementReg.latency,
			settlementReg.managementFee,
		)
	})
	return settlementReg
}

func newSettlementMetrics() *SettlementMetrics {
	return &SettlementMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerfund",
			Subsystem: "settlement",
			Name:      "operations_total",
			Help:      "Settlement engine operations segmented by operation and result class.",
		}, []string{"operation", "class"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brokerfund",
			Subsystem: "settlement",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for settlement engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		managementFee: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brokerfund",
			Subsystem: "settlement",
			Name:      "management_fee_shares_total",
			Help:      "Shares minted to the protocol recipient by management fee accrual.",
		}),
	}
}

// ObserveOperation records one engine operation and its result class.
func (m *SettlementMetrics) ObserveOperation(operation, class string, duration time.Duration) {
	if m == nil {
		return
	}
	if class == "" {
		class = "ok"
	}
	m.operations.WithLabelValues(operation, class).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordManagementFee adds the diluted share count to the accrual counter.
func (m *SettlementMetrics) RecordManagementFee(shares *big.Int) {
	if m == nil || shares == nil || shares.Sign() <= 0 {
		return
	}
	m.managementFee.Add(bigToFloat(shares))
}

func bigToFloat(value *big.Int) float64 {
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return math.MaxFloat64
	}
	return f
}
