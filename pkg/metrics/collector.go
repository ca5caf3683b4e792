// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the promauto-registered instruments. The API layer
// increments Transitions for each accepted submission; the scheduler
// holds no Collector, so the other instruments are registered and
// exposed but stay at their zero values.
type Collector struct {
	QueueDepth       *prometheus.GaugeVec
	DispatchAttempts prometheus.Counter
	DispatchFailures prometheus.Counter
	GPUsBusy         prometheus.Gauge
	GPUsTotal        prometheus.Gauge
	TickDuration     prometheus.Histogram
	Transitions      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector registers a fresh set of instruments against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test runs.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gflow",
			Name:      "queue_depth",
			Help:      "Number of jobs currently in each state.",
		}, []string{"state"}),
		DispatchAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gflow",
			Name:      "dispatch_attempts_total",
			Help:      "Total number of jobs the dispatch pass tried to start.",
		}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gflow",
			Name:      "dispatch_failures_total",
			Help:      "Total number of dispatch attempts that failed to start a session.",
		}),
		GPUsBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gflow",
			Name:      "gpus_busy",
			Help:      "Number of GPUs currently assigned to Running jobs.",
		}),
		GPUsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gflow",
			Name:      "gpus_total",
			Help:      "Number of GPUs detected on this host.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gflow",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock time spent in one scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gflow",
			Name:      "job_transitions_total",
			Help:      "Total number of job state transitions, by target state.",
		}, []string{"state"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// Handler returns the /metrics HTTP handler for the registry this
// Collector's instruments were registered against.
func (c *Collector) Handler() http.Handler {
	if c.gatherer != nil {
		return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
