package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"async without buffer", func(c *Config) { c.Events.EnableAsync = true; c.Events.BufferSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordExecution("Web", "applied", time.Second)
	m.RecordRecipe("Web", "nginx", "ok")
	m.SetResources("Web", 1, 2)
	m.RecordResourceApplied("package", "changed", time.Second)
	m.RecordPolicyViolation("p", "error")
	m.RecordError("evaluation")

	if m.Registry() != nil {
		t.Error("Expected nil registry")
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	m.RecordExecution("Web", "applied", time.Second)
	if m.Registry() != nil {
		t.Error("Expected no registry when disabled")
	}
}

func TestMetrics_Record(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	m.RecordExecution("Web", "applied", time.Second)
	m.RecordExecution("Web", "applied", time.Second)
	m.RecordRecipe("Web", "nginx", "ok")
	m.SetResources("Web", 3, 1)
	m.RecordResourceApplied("package", "changed", time.Millisecond)
	m.RecordPolicyViolation("exec-command-required", "error")
	m.RecordError("application")

	if got := testutil.ToFloat64(m.executions.WithLabelValues("Web", "applied")); got != 2 {
		t.Errorf("Expected 2 executions, got %v", got)
	}
	if got := testutil.ToFloat64(m.resources.WithLabelValues("Web", "declared")); got != 3 {
		t.Errorf("Expected 3 declared resources, got %v", got)
	}
	if got := testutil.ToFloat64(m.resources.WithLabelValues("Web", "reference")); got != 1 {
		t.Errorf("Expected 1 reference, got %v", got)
	}
	if got := testutil.ToFloat64(m.policyViolations.WithLabelValues("exec-command-required", "error")); got != 1 {
		t.Errorf("Expected 1 violation, got %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("application")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func TestMetrics_StartMetricsServer_NoAddress(t *testing.T) {
	m, _ := NewMetrics(MetricsConfig{Enabled: true})
	srv, err := m.StartMetricsServer(context.Background(), NopLogger())
	if err != nil || srv != nil {
		t.Errorf("Expected no server, got %v (%v)", srv, err)
	}
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeResourceChanged))

	_ = ep.PublishResource(EventTypeResourceChanged, "web", "Package[nginx]", "installed")
	_ = ep.PublishResource(EventTypeResourceInSync, "web", "Package[curl]", "")

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("Expected ID and timestamp to be set")
	}
	if got[0].Level != EventLevelInfo {
		t.Errorf("Expected info level, got %s", got[0].Level)
	}
}

func TestEventPublisher_Async(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 8})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var mu sync.Mutex
	var order []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		order = append(order, e.Resource)
		mu.Unlock()
	}, FilterByType(EventTypeResourceChanged, EventTypeResourceFailed))

	_ = ep.PublishResource(EventTypeResourceChanged, "web", "A[1]", "")
	_ = ep.PublishResource(EventTypeResourceInSync, "web", "B[1]", "")
	_ = ep.PublishResource(EventTypeResourceFailed, "web", "C[1]", "")

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "A[1]" || order[1] != "C[1]" {
		t.Errorf("Expected [A[1] C[1]], got %v", order)
	}

	if err := ep.Publish(Event{Type: EventTypeResourceChanged}); err == nil {
		t.Error("Expected publish after shutdown to fail")
	}
}

func TestEventPublisher_Flush(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 64})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer ep.Shutdown(context.Background())

	var mu sync.Mutex
	delivered := 0
	ep.Subscribe(func(e Event) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		delivered++
		mu.Unlock()
	}, nil)

	for i := 0; i < 20; i++ {
		_ = ep.PublishResource(EventTypeResourceChanged, "web", "Package[nginx]", "")
	}
	if err := ep.Flush(context.Background()); err != nil {
		t.Fatalf("Expected flush to succeed, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if delivered != 20 {
		t.Errorf("Expected 20 delivered events after flush, got %d", delivered)
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{})
	called := false
	ep.Subscribe(func(e Event) { called = true }, nil)
	_ = ep.Publish(Event{Type: EventTypeResourceChanged})
	if called {
		t.Error("Expected disabled publisher not to deliver")
	}
}

func TestLogger_NewComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "info", Format: "json"})

	zl := logger.NewComponentLogger("engine").Zerolog()
	zl.Info().Msg("ready")
	if !strings.Contains(buf.String(), `"component":"engine"`) {
		t.Errorf("Expected component field, got %s", buf.String())
	}

	var nilLogger *Logger
	nilZl := nilLogger.NewComponentLogger("engine").Zerolog()
	nilZl.Info().Msg("dropped")
}

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("Expected empty trace ID without a span, got %q", got)
	}

	tracer, err := NewTracer(TracingConfig{Enabled: true, Exporter: "none", SamplingRate: 1}, "test", "dev", "test")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.Start(context.Background(), "manifest.execute")
	defer span.End()
	if got := TraceID(ctx); len(got) != 32 {
		t.Errorf("Expected 32 hex digit trace ID, got %q", got)
	}
	if err := tracer.ForceFlush(ctx); err != nil {
		t.Errorf("Expected flush to succeed, got %v", err)
	}
}

func TestTelemetry_Shutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "discard"
	cfg.Events.EnableAsync = true

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}
