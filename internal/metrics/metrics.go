// Package metrics exposes the admin /metrics endpoint via
// prometheus/client_golang, grounded in zalando-skipper's use of
// HistogramVec/CounterVec for proxy metrics. This is ambient
// observability (§10/§11 of SPEC_FULL.md), not an admission-pipeline
// feature.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentryproxy"

// Registry holds every counter/histogram the proxy reports.
type Registry struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	forwardLatency prometheus.Histogram
	registrySize   prometheus.Gauge
}

// New constructs a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total requests by admission outcome.",
	}, []string{"outcome"})

	forwardLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "forward_latency_seconds",
		Help:      "Latency of the upstream exchange for admitted requests.",
		Buckets:   prometheus.DefBuckets,
	})

	registrySize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_entries",
		Help:      "Current number of tracked per-IP registry entries.",
	})

	reg.MustRegister(requestsTotal, forwardLatency, registrySize)

	return &Registry{
		registry:       reg,
		requestsTotal:  requestsTotal,
		forwardLatency: forwardLatency,
		registrySize:   registrySize,
	}
}

// ObserveOutcome increments the per-outcome request counter.
func (r *Registry) ObserveOutcome(outcome string) {
	r.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveForwardLatency records how long an admitted request's upstream
// exchange took.
func (r *Registry) ObserveForwardLatency(d time.Duration) {
	r.forwardLatency.Observe(d.Seconds())
}

// SetRegistrySize reports the current registry size for the gauge.
func (r *Registry) SetRegistrySize(n int) {
	r.registrySize.Set(float64(n))
}

// Handler returns the promhttp handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
