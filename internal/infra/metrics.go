package infra

import (
	"net/http"
	"time"

	"token_swap/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes settlement activity as Prometheus collectors on a private
// registry, so several engines (and tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	volumeIn  prometheus.Counter
	volumeOut prometheus.Counter
	poolHeld  *prometheus.GaugeVec
	exchanges prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swap",
			Subsystem: "settlement",
			Name:      "requests_total",
			Help:      "Settlement requests segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swap",
			Subsystem: "settlement",
			Name:      "request_duration_seconds",
			Help:      "Latency of settlement requests including the storage commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		volumeIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap",
			Subsystem: "settlement",
			Name:      "source_volume_total",
			Help:      "Source-asset units received by committed exchanges.",
		}),
		volumeOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap",
			Subsystem: "settlement",
			Name:      "destination_volume_total",
			Help:      "Destination-asset units released by committed exchanges.",
		}),
		exchanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap",
			Subsystem: "settlement",
			Name:      "exchanges_total",
			Help:      "Committed exchanges.",
		}),
		poolHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "swap",
			Subsystem: "custody",
			Name:      "pool_held",
			Help:      "Units currently held in each custody pool.",
		}, []string{"pool"}),
	}
	m.registry.MustRegister(m.requests, m.latency, m.volumeIn, m.volumeOut, m.exchanges, m.poolHeld)
	return m
}

// ObserveRequest records the outcome and latency of one request.
func (m *Metrics) ObserveRequest(op, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveExchange records a committed exchange.
func (m *Metrics) ObserveExchange(amountIn, amountOut uint64) {
	m.exchanges.Inc()
	m.volumeIn.Add(float64(amountIn))
	m.volumeOut.Add(float64(amountOut))
}

// SetPoolBalances publishes the current pool balances.
func (m *Metrics) SetPoolBalances(balances domain.PoolBalances) {
	m.poolHeld.WithLabelValues(domain.PoolSource.String()).Set(float64(balances.SourceHeld))
	m.poolHeld.WithLabelValues(domain.PoolDestination.String()).Set(float64(balances.DestinationHeld))
}

// Registry returns the private registry (for tests and custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
