package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nholik/flag-sentinel/internal/telemetry"
)

// Metrics wraps Prometheus collectors for flag-sentinel.
type Metrics struct {
	registry                   *prometheus.Registry
	evaluationsTotal           *prometheus.CounterVec
	variantAssignmentsTotal    *prometheus.CounterVec
	mutationsTotal             *prometheus.CounterVec
	rollbacksTotal             *prometheus.CounterVec
	cacheRefreshesTotal        prometheus.Counter
	refreshDurationSeconds     prometheus.Histogram
	remoteStoreErrorsTotal     prometheus.Counter
	lastSuccessfulRefreshGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flag_sentinel_evaluations_total",
			Help: "Total flag evaluations by flag and result.",
		}, []string{"flag", "result"}),
		variantAssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flag_sentinel_variant_assignments_total",
			Help: "Total variant assignments by flag and variant.",
		}, []string{"flag", "variant"}),
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flag_sentinel_mutations_total",
			Help: "Total flag mutations by operation.",
		}, []string{"operation"}),
		rollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flag_sentinel_rollbacks_total",
			Help: "Total automated rollbacks by flag.",
		}, []string{"flag"}),
		cacheRefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flag_sentinel_cache_refreshes_total",
			Help: "Total successful snapshot refreshes.",
		}),
		refreshDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flag_sentinel_refresh_duration_seconds",
			Help:    "Duration of snapshot refresh cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		remoteStoreErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flag_sentinel_remote_store_errors_total",
			Help: "Total remote configuration store errors.",
		}),
		lastSuccessfulRefreshGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flag_sentinel_last_successful_refresh_timestamp",
			Help: "Unix timestamp of the last successful refresh.",
		}),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.variantAssignmentsTotal,
		m.mutationsTotal,
		m.rollbacksTotal,
		m.cacheRefreshesTotal,
		m.refreshDurationSeconds,
		m.remoteStoreErrorsTotal,
		m.lastSuccessfulRefreshGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRefreshDuration records the duration of a completed refresh.
func (m *Metrics) ObserveRefreshDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.refreshDurationSeconds.Observe(duration.Seconds())
}

// IncRemoteStoreErrors increments the remote store error counter.
func (m *Metrics) IncRemoteStoreErrors() {
	if m == nil {
		return
	}
	m.remoteStoreErrorsTotal.Inc()
}

// SetLastSuccessfulRefreshTimestamp sets the last successful refresh time.
func (m *Metrics) SetLastSuccessfulRefreshTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulRefreshGauge.Set(float64(t.Unix()))
}

// TryEmit implements telemetry.Emitter, mirroring backend-bound events into
// the local registry so operators still see them when the metrics backend is
// unreachable.
func (m *Metrics) TryEmit(_ context.Context, event telemetry.Event) {
	if m == nil {
		return
	}

	flagName := event.Dimensions[telemetry.DimensionFlagName]

	switch event.Name {
	case telemetry.EventCacheRefresh:
		m.cacheRefreshesTotal.Inc()
	case telemetry.EventEvaluation:
		m.evaluationsTotal.WithLabelValues(flagName, event.Dimensions[telemetry.DimensionResult]).Inc()
	case telemetry.EventVariantAssignment:
		m.variantAssignmentsTotal.WithLabelValues(flagName, event.Dimensions[telemetry.DimensionVariant]).Inc()
	case telemetry.EventFlagUpdate:
		m.mutationsTotal.WithLabelValues("upsert").Inc()
	case telemetry.EventFlagDelete:
		m.mutationsTotal.WithLabelValues("delete").Inc()
	case telemetry.EventRolloutUpdate:
		m.mutationsTotal.WithLabelValues("rollout").Inc()
	case telemetry.EventAutomatedRollback:
		m.rollbacksTotal.WithLabelValues(flagName).Inc()
	}
}
