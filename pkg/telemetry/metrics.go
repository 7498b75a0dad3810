package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for manifest execution. A nil
// *Metrics, or one created with metrics disabled, records nothing.
type Metrics struct {
	config MetricsConfig

	// Manifest metrics
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	recipesEvaluated  *prometheus.CounterVec
	resources         *prometheus.GaugeVec

	// Engine metrics
	resourcesApplied *prometheus.CounterVec
	resourceDuration *prometheus.HistogramVec
	policyViolations *prometheus.CounterVec

	// Error metrics
	errors *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of manifest executions",
			},
			[]string{"class", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of manifest executions in seconds",
				Buckets:   buckets,
			},
			[]string{"class"},
		),
		recipesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipes_evaluated_total",
				Help:      "Total number of recipe evaluations",
			},
			[]string{"class", "recipe", "status"},
		),
		resources: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources",
				Help:      "Number of resources in the last built graph",
			},
			[]string{"class", "kind"},
		),

		resourcesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_applied_total",
				Help:      "Total number of resources applied by the local engine",
			},
			[]string{"type", "status"},
		),
		resourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_apply_duration_seconds",
				Help:      "Duration of resource application in seconds",
				Buckets:   buckets,
			},
			[]string{"type"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),

		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.executions,
		m.executionDuration,
		m.recipesEvaluated,
		m.resources,
		m.resourcesApplied,
		m.resourceDuration,
		m.policyViolations,
		m.errors,
	)

	return m, nil
}

// Manifest Metrics

// RecordExecution records a finished manifest execution.
func (m *Metrics) RecordExecution(class, status string, duration time.Duration) {
	if m == nil || m.executions == nil {
		return
	}
	m.executions.WithLabelValues(class, status).Inc()
	m.executionDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// RecordRecipe records the evaluation of a single recipe.
func (m *Metrics) RecordRecipe(class, recipe, status string) {
	if m == nil || m.recipesEvaluated == nil {
		return
	}
	m.recipesEvaluated.WithLabelValues(class, recipe, status).Inc()
}

// SetResources records the size of the last graph built for a class.
func (m *Metrics) SetResources(class string, declared, references int) {
	if m == nil || m.resources == nil {
		return
	}
	m.resources.WithLabelValues(class, "declared").Set(float64(declared))
	m.resources.WithLabelValues(class, "reference").Set(float64(references))
}

// Engine Metrics

// RecordResourceApplied records the outcome of applying one resource.
func (m *Metrics) RecordResourceApplied(resourceType, status string, duration time.Duration) {
	if m == nil || m.resourcesApplied == nil {
		return
	}
	m.resourcesApplied.WithLabelValues(resourceType, status).Inc()
	m.resourceDuration.WithLabelValues(resourceType).Observe(duration.Seconds())
}

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m == nil || m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Error Metrics

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// Registry returns the registry holding the collectors, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics. It returns
// nil without starting anything when metrics are disabled or no listen
// address is configured. The server stops when ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) (*http.Server, error) {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl := logger.Zerolog()
			zl.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server, nil
}
