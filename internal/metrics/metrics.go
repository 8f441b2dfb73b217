// Package metrics exposes Prometheus metrics for the estimate service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the estimate service.
type Metrics struct {
	registry *prometheus.Registry

	// Estimates by variant and status
	Estimates *prometheus.CounterVec

	// Estimates whose single-home tax base hit the ceiling
	CappedBases prometheus.Counter

	// Notices raised by rule and outcome
	Notices *prometheus.CounterVec

	// Estimate latency, comparison plus rules
	EstimateLatency prometheus.Histogram

	// HTTP requests by route, method and status code
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec

	// Requests rejected by the throttle
	Throttled prometheus.Counter

	// Loaded notice rules
	RulesLoaded prometheus.Gauge
}

// New creates a Metrics instance on its own registry, with Go and process
// collectors included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Estimates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proptax_estimates_total",
			Help: "Total estimates by variant and status",
		}, []string{"variant", "status"}),

		CappedBases: f.NewCounter(prometheus.CounterOpts{
			Name: "proptax_capped_tax_bases_total",
			Help: "Estimates whose tax base was limited by a schedule ceiling",
		}),

		Notices: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proptax_notices_total",
			Help: "Notices raised by rule and outcome",
		}, []string{"rule", "outcome"}),

		EstimateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "proptax_estimate_duration_seconds",
			Help:    "Duration of one estimate including notice rules",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		}),

		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proptax_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),

		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proptax_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		Throttled: f.NewCounter(prometheus.CounterOpts{
			Name: "proptax_throttled_requests_total",
			Help: "Requests rejected by the per-client throttle",
		}),

		RulesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "proptax_rules_loaded",
			Help: "Notice rules currently loaded in the engine",
		}),
	}
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveEstimate records one finished estimate.
func (m *Metrics) ObserveEstimate(variant, status string, capped bool, d time.Duration) {
	if m == nil {
		return
	}
	m.Estimates.WithLabelValues(variant, status).Inc()
	if capped {
		m.CappedBases.Inc()
	}
	m.EstimateLatency.Observe(d.Seconds())
}

// IncrementNotice records a notice raised by a rule.
func (m *Metrics) IncrementNotice(rule, outcome string) {
	if m != nil {
		m.Notices.WithLabelValues(rule, outcome).Inc()
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, http.StatusText(code)).Inc()
	m.Latency.WithLabelValues(route).Observe(d.Seconds())
}

// IncrementThrottled records a throttled request.
func (m *Metrics) IncrementThrottled() {
	if m != nil {
		m.Throttled.Inc()
	}
}

// SetRulesLoaded records the loaded rule count.
func (m *Metrics) SetRulesLoaded(n int) {
	if m != nil {
		m.RulesLoaded.Set(float64(n))
	}
}
