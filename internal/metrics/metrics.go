// Package metrics exposes Prometheus instrumentation for provider calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// ProviderMetrics tracks provider traffic, latency, failures and
// availability. A nil *ProviderMetrics is valid and records nothing.
//
// Metrics:
//   - <ns>_provider_requests_total{provider,model,outcome}
//   - <ns>_provider_latency_seconds{provider}
//   - <ns>_provider_errors_total{provider,kind}
//   - <ns>_provider_available{provider}
type ProviderMetrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	available *prometheus.GaugeVec
}

// New creates the metrics on a dedicated registry that also carries the Go
// runtime and process collectors.
func New(namespace string) *ProviderMetrics {
	pm := &ProviderMetrics{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of chat requests sent to each provider",
			},
			[]string{"provider", "model", "outcome"},
		),

		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Provider chat call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider failures by error kind",
			},
			[]string{"provider", "kind"},
		),

		available: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_available",
				Help:      "Provider availability (1=API key configured, 0=not configured)",
			},
			[]string{"provider"},
		),
	}

	pm.registry.MustRegister(
		pm.requests,
		pm.latency,
		pm.errors,
		pm.available,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return pm
}

// ObserveChat records one completed provider call. kind is the error kind
// label and is ignored for successful calls.
func (pm *ProviderMetrics) ObserveChat(provider, model string, elapsed time.Duration, success bool, kind string) {
	if pm == nil {
		return
	}
	if model == "" {
		model = "default"
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
		pm.errors.WithLabelValues(provider, kind).Inc()
	}
	pm.requests.WithLabelValues(provider, model, outcome).Inc()
	pm.latency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// SetAvailable updates the availability gauge of a provider.
func (pm *ProviderMetrics) SetAvailable(provider string, available bool) {
	if pm == nil {
		return
	}
	value := 0.0
	if available {
		value = 1.0
	}
	pm.available.WithLabelValues(provider).Set(value)
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *ProviderMetrics) Handler() http.Handler {
	if pm == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
