package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/policy"
	"github.com/openfroyo/manifests/pkg/telemetry"
)

// DefaultParallelism is the number of resources of one level applied at once.
const DefaultParallelism = 4

// Engine is the local catalog engine. It compiles buckets into catalogs
// applied on this host by registered handlers. An Engine is safe for
// concurrent use.
type Engine struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	policy      *policy.Engine
	parallelism int
	noop        bool
	logger      zerolog.Logger
	telemetry   *telemetry.Telemetry
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPolicy gates compilation with policy evaluation.
func WithPolicy(pe *policy.Engine) Option {
	return func(e *Engine) {
		e.policy = pe
	}
}

// WithParallelism bounds concurrent handler invocations within a level.
// Values below one mean DefaultParallelism.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		e.parallelism = n
	}
}

// WithNoop makes compiled catalogs report changes without making them.
func WithNoop(noop bool) Option {
	return func(e *Engine) {
		e.noop = noop
	}
}

// WithTelemetry sets the tracer, metrics and event publisher.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Engine) {
		if t != nil {
			e.telemetry = t
		}
	}
}

// WithHandler registers a handler for a resource type.
func WithHandler(resourceType string, h Handler) Option {
	return func(e *Engine) {
		e.handlers[resourceType] = h
	}
}

// New creates a local engine without handlers unless options add them.
func New(opts ...Option) *Engine {
	e := &Engine{
		handlers:  make(map[string]Handler),
		logger:    zerolog.Nop(),
		telemetry: telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallelism < 1 {
		e.parallelism = DefaultParallelism
	}
	e.logger = e.logger.With().Str("component", "engine").Logger()
	return e
}

// Register adds or replaces the handler for a resource type.
func (e *Engine) Register(resourceType string, h Handler) error {
	if resourceType == "" {
		return NewPermanentError("resource type is required", nil).WithCode(ErrCodeValidation)
	}
	if h == nil {
		return NewPermanentError(fmt.Sprintf("handler for %s is nil", resourceType), nil).
			WithCode(ErrCodeValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[resourceType] = h
	e.logger.Debug().Str("type", resourceType).Msg("Handler registered")
	return nil
}

// Handler returns the handler for a resource type.
func (e *Engine) Handler(resourceType string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[resourceType]
	return h, ok
}

// Types returns the registered resource types in sorted order.
func (e *Engine) Types(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	types := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

// Policy returns the policy engine gating compilation, or nil.
func (e *Engine) Policy() *policy.Engine {
	return e.policy
}

var _ catalog.Engine = (*Engine)(nil)
