package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for evaluation runs. A nil *Metrics
// and a disabled one both discard every observation.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	entitiesDeclared *prometheus.CounterVec
	passes           *prometheus.CounterVec
	pending          *prometheus.CounterVec
	reevaluations    prometheus.Counter
	cycles           prometheus.Counter
	errorsByKind     *prometheus.CounterVec

	blockedEntities prometheus.Gauge
	activeRuns      prometheus.Gauge

	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on a private registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	ns := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_started_total",
			Help:      "Total number of evaluation runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_completed_total",
			Help:      "Total number of evaluation runs completed",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Duration of evaluation runs in seconds",
			Buckets:   buckets,
		}, []string{"status"}),

		entitiesDeclared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "entities_declared_total",
			Help:      "Total number of entities registered",
		}, []string{"kind"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "entity_passes_total",
			Help:      "Total number of entity evaluation passes by outcome",
		}, []string{"outcome"}),
		pending: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "pending_references_total",
			Help:      "Total number of unresolved references recorded",
		}, []string{"provenance"}),
		reevaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reevaluations_total",
			Help:      "Total number of entities re-run from the observer queue",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cycles_detected_total",
			Help:      "Total number of dependency cycles detected",
		}),
		errorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Total number of evaluation errors by kind",
		}, []string{"kind"}),

		blockedEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "blocked_entities",
			Help:      "Entities waiting on unresolved names after the last drain",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_runs",
			Help:      "Current number of active runs",
		}),

		policyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "policy_violations_total",
			Help:      "Total number of policy violations by severity",
		}, []string{"severity"}),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.entitiesDeclared,
		m.passes,
		m.pending,
		m.reevaluations,
		m.cycles,
		m.errorsByKind,
		m.blockedEntities,
		m.activeRuns,
		m.policyViolations,
	)
	return m
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRunStarted counts a started run.
func (m *Metrics) RecordRunStarted() {
	if !m.enabled() {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

func (m *Metrics) RecordEntityDeclared(kind string) {
	if !m.enabled() {
		return
	}
	m.entitiesDeclared.WithLabelValues(kind).Inc()
}

// RecordPass counts one evaluation pass; outcome is evaluated or blocked.
func (m *Metrics) RecordPass(outcome string) {
	if !m.enabled() {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPending(provenance string) {
	if !m.enabled() {
		return
	}
	m.pending.WithLabelValues(provenance).Inc()
}

func (m *Metrics) RecordReevaluation() {
	if !m.enabled() {
		return
	}
	m.reevaluations.Inc()
}

func (m *Metrics) RecordCycle() {
	if !m.enabled() {
		return
	}
	m.cycles.Inc()
}

// RecordError counts an error by its kind.
func (m *Metrics) RecordError(kind string) {
	if !m.enabled() {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetBlockedEntities(n float64) {
	if !m.enabled() {
		return
	}
	m.blockedEntities.Set(n)
}

func (m *Metrics) RecordPolicyViolation(severity string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(severity).Inc()
}

// Registry exposes the private registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the registry on the configured listen address until ctx
// is done. It returns immediately when no address is configured.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
