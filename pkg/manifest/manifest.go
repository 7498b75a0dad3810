package manifest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/telemetry"
)

const tracerName = "github.com/openfroyo/manifests/pkg/manifest"

var instanceSeq atomic.Uint64

// Manifest is an executable instance of a Class. It owns one resource graph
// and remembers whether it has been executed. A Manifest is not safe for
// concurrent use.
type Manifest struct {
	class *Class
	name  string
	graph *Graph

	executed bool
	state    State
	last     *Result
	ctx      context.Context

	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	recorder Recorder
}

// Option configures a Manifest.
type Option func(*Manifest)

// WithConfiguration deep-merges values into the class configuration when
// the manifest is created.
func WithConfiguration(values map[string]interface{}) Option {
	return func(m *Manifest) {
		m.class.Configure(values)
	}
}

// WithName overrides the generated instance name.
func WithName(name string) Option {
	return func(m *Manifest) {
		m.name = name
	}
}

// WithLogger sets the manifest logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manifest) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manifest) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manifest) {
		m.tracer = tracer
	}
}

// WithRecorder sets the execution history recorder.
func WithRecorder(recorder Recorder) Option {
	return func(m *Manifest) {
		m.recorder = recorder
	}
}

// New creates a manifest instance of c.
func (c *Class) New(opts ...Option) *Manifest {
	m := &Manifest{
		class:  c,
		name:   fmt.Sprintf("%s#%d", c.name, instanceSeq.Add(1)),
		state:  StateFresh,
		logger: c.rt.logger,
		tracer: otel.Tracer(tracerName),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("manifest", m.name).Logger()

	c.rt.mu.RLock()
	m.graph = newGraph(m, c.rt.execTypes)
	c.rt.mu.RUnlock()
	return m
}

// Name returns the instance name.
func (m *Manifest) Name() string { return m.name }

// Class returns the class of the instance.
func (m *Manifest) Class() *Class { return m.class }

// Graph returns the resource graph.
func (m *Manifest) Graph() *Graph { return m.graph }

// Logger returns the manifest logger.
func (m *Manifest) Logger() zerolog.Logger { return m.logger }

// Context returns the context of the execution in progress, or
// context.Background outside of one.
func (m *Manifest) Context() context.Context { return m.ctx }

// Configure deep-merges values into the class configuration.
func (m *Manifest) Configure(values map[string]interface{}) Configuration {
	return m.class.Configure(values)
}

// Configuration returns a copy of the class configuration.
func (m *Manifest) Configuration() Configuration {
	return m.class.Configuration()
}

// Recipe queues recipes on the class.
func (m *Manifest) Recipe(names ...string) {
	m.class.Recipe(names...)
}

// RecipeWithOptions queues recipes with shared options on the class.
func (m *Manifest) RecipeWithOptions(options map[string]interface{}, names ...string) {
	m.class.RecipeWithOptions(options, names...)
}

// Reference returns the resource (typ, name), creating a bare reference.
func (m *Manifest) Reference(typ, name string) *Resource {
	return m.graph.Reference(typ, name)
}

// Declare declares the resource (typ, name) with params.
func (m *Manifest) Declare(typ, name string, params Params) *Resource {
	return m.graph.Declare(typ, name, params)
}

// Call invokes the dispatch function of a resource type.
func (m *Manifest) Call(typ string, args ...interface{}) (*Resource, error) {
	fn, ok := m.class.dispatchTable().Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("%s: %w", typ, ErrUnknownType)
	}
	return fn(m, args...)
}

// Responds reports whether name resolves to a recipe or resource type.
func (m *Manifest) Responds(name string) bool {
	return m.class.Responds(name)
}

// Resources returns every resource of the instance in creation order.
func (m *Manifest) Resources() []*Resource {
	return m.graph.FlatResources()
}

// Bucket flattens the resource graph into a submission bucket.
func (m *Manifest) Bucket() *catalog.Bucket {
	resources := m.graph.FlatResources()
	b := &catalog.Bucket{
		Name:      m.name,
		Type:      catalog.BucketTypeClass,
		Resources: make([]catalog.Resource, 0, len(resources)),
	}
	for _, r := range resources {
		b.Resources = append(b.Resources, r.Descriptor())
	}
	return b
}

// MissingRecipes returns the queued recipe names that resolve to neither a
// recipe method nor a resource type.
func (m *Manifest) MissingRecipes() []string {
	var missing []string
	for _, entry := range m.class.Recipes() {
		if !m.class.Responds(entry.Name) {
			missing = append(missing, entry.Name)
		}
	}
	return missing
}

// Executable reports whether every queued recipe resolves and the instance
// has not been executed.
func (m *Manifest) Executable() bool {
	return len(m.MissingRecipes()) == 0 && !m.executed
}

// Executed reports whether the instance has been executed.
func (m *Manifest) Executed() bool { return m.executed }

// State returns the position of the instance in the execution state machine.
func (m *Manifest) State() State { return m.state }

// LastResult returns the result of the most recent execution.
func (m *Manifest) LastResult() (Result, bool) {
	if m.last == nil {
		return Result{}, false
	}
	return *m.last, true
}
