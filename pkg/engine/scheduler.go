package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/telemetry"
)

// ParamRefreshOnly marks resources that only run when refreshed.
const ParamRefreshOnly = "refreshonly"

// Catalog is a compiled bucket ready to be applied on this host. Applies
// are serialized; each one replaces the previous report.
type Catalog struct {
	name        string
	resources   []catalog.Resource
	graph       *ExecutionGraph
	handlers    map[string]Handler
	noop        bool
	parallelism int
	logger      zerolog.Logger
	telemetry   *telemetry.Telemetry

	applyMu sync.Mutex

	// mu protects outcomes and report
	mu       sync.RWMutex
	outcomes map[string]*Outcome
	report   *Report
}

// Name returns the bucket name the catalog was compiled from.
func (c *Catalog) Name() string { return c.name }

// Graph returns the execution graph.
func (c *Catalog) Graph() *ExecutionGraph { return c.graph }

// Len returns the number of resources in the catalog.
func (c *Catalog) Len() int { return len(c.resources) }

// Apply converges the host towards the catalog, one level at a time with
// the resources of a level applied in parallel. A resource whose
// dependency failed is skipped. The returned error joins every resource
// failure.
func (c *Catalog) Apply(ctx context.Context) error {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	ctx, span := c.telemetry.Tracer.StartSpan(ctx, "catalog.apply",
		attribute.String("bucket.name", c.name),
		attribute.Int("catalog.levels", c.graph.Depth),
		attribute.Bool("catalog.noop", c.noop),
	)
	defer span.End()

	report := &Report{Bucket: c.name, Noop: c.noop, StartedAt: time.Now()}
	c.mu.Lock()
	c.outcomes = make(map[string]*Outcome, len(c.resources))
	c.report = nil
	c.mu.Unlock()

	_ = c.telemetry.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeCatalogStarted,
		Bucket:  c.name,
		Message: fmt.Sprintf("applying %d resources", len(c.resources)),
	})
	c.logger.Info().
		Int("resources", len(c.resources)).
		Int("levels", c.graph.Depth).
		Bool("noop", c.noop).
		Msg("Applying catalog")

	var cancelled error
	for level, refs := range c.graph.Levels {
		if err := ctx.Err(); err != nil {
			cancelled = err
			c.skipRemaining(c.graph.Levels[level:], err)
			break
		}
		c.executeLevelParallel(ctx, refs)
	}

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	c.mu.Lock()
	for _, ref := range orderedRefs(c.graph) {
		if o, ok := c.outcomes[ref]; ok {
			report.Outcomes = append(report.Outcomes, *o)
		}
	}
	c.report = report
	c.mu.Unlock()

	var errs []error
	for _, o := range report.Outcomes {
		if o.Status == StatusFailed {
			errs = append(errs, o.Err)
		}
	}
	if cancelled != nil {
		errs = append(errs, cancelled)
	}
	err := errors.Join(errs...)

	counts := report.Counts()
	level := zerolog.InfoLevel
	if err != nil {
		level = zerolog.ErrorLevel
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	c.logger.WithLevel(level).
		Int("changed", counts[StatusChanged]).
		Int("unchanged", counts[StatusUnchanged]).
		Int("failed", counts[StatusFailed]).
		Int("skipped", counts[StatusSkipped]).
		Int("noop", counts[StatusNoop]).
		Dur("duration", report.Duration).
		Msg("Catalog applied")

	_ = c.telemetry.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeCatalogCompleted,
		Bucket:  c.name,
		Message: fmt.Sprintf("%d changed, %d failed", counts[StatusChanged], counts[StatusFailed]),
		Level:   eventLevel(err),
		Data: map[string]interface{}{
			"changed":   counts[StatusChanged],
			"unchanged": counts[StatusUnchanged],
			"failed":    counts[StatusFailed],
			"skipped":   counts[StatusSkipped],
			"noop":      counts[StatusNoop],
		},
	})

	return err
}

// executeLevelParallel applies the resources of one level. Dependencies
// all live in earlier levels, so their outcomes are final here.
func (c *Catalog) executeLevelParallel(ctx context.Context, refs []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for _, ref := range refs {
		node := c.graph.Nodes[ref]
		g.Go(func() error {
			outcome := c.executeResource(gctx, node)
			c.storeOutcome(outcome)
			c.observe(outcome)
			return nil
		})
	}

	_ = g.Wait()
}

// executeResource decides whether and how a resource runs, then runs it.
func (c *Catalog) executeResource(ctx context.Context, node *GraphNode) *Outcome {
	res := node.Resource
	outcome := &Outcome{
		Ref:   node.Ref,
		Type:  res.Type,
		Name:  res.Name,
		Level: node.Level,
	}

	if failed := c.failedDependencies(node); len(failed) > 0 {
		outcome.Status = StatusSkipped
		outcome.Err = NewPermanentError(fmt.Sprintf("dependency %s failed", failed[0]), nil).
			WithCode(ErrCodeDependencyFailed).WithResource(node.Ref).WithDetail("failed", failed)
		outcome.Message = outcome.Err.Error()
		return outcome
	}

	if !res.Declared {
		outcome.Status = StatusUnchanged
		outcome.Message = "reference"
		return outcome
	}

	refresh := c.refreshed(node)
	if !refresh && boolParam(res, ParamRefreshOnly) {
		outcome.Status = StatusSkipped
		outcome.Message = "refreshonly without refresh event"
		return outcome
	}
	outcome.Refresh = refresh

	start := time.Now()
	result, err := c.invoke(ctx, node, refresh)
	outcome.Duration = time.Since(start)

	switch {
	case err != nil:
		outcome.Status = StatusFailed
		outcome.Err = NewPermanentError("resource failed", err).
			WithCode(ErrCodeResourceFailed).WithResource(node.Ref).WithOperation("apply")
		outcome.Message = err.Error()
	case result.Changed && c.noop:
		outcome.Status = StatusNoop
		outcome.Message = result.Message
	case result.Changed:
		outcome.Status = StatusChanged
		outcome.Message = result.Message
	default:
		outcome.Status = StatusUnchanged
		outcome.Message = result.Message
	}
	return outcome
}

// invoke calls the handler inside a resource span, recovering panics.
func (c *Catalog) invoke(ctx context.Context, node *GraphNode, refresh bool) (result Result, err error) {
	res := node.Resource
	ctx, span := c.telemetry.Tracer.StartResourceSpan(ctx, res.Type, res.Name)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	h := c.handlers[res.Type]
	req := &Request{
		Resource: *res,
		Params:   res.ParamMap(),
		Noop:     c.noop,
		Refresh:  refresh,
		Logger:   c.logger.With().Str("resource", node.Ref).Logger(),
	}
	return h.Apply(ctx, req)
}

// failedDependencies lists dependencies that failed or were skipped
// because of a failure.
func (c *Catalog) failedDependencies(node *GraphNode) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var failed []string
	for _, dep := range node.Dependencies {
		o, ok := c.outcomes[dep]
		if !ok {
			continue
		}
		if o.Status == StatusFailed || HasCode(o.Err, ErrCodeDependencyFailed) {
			failed = append(failed, dep)
		}
	}
	return failed
}

// refreshed reports whether a refresh source of node changed.
func (c *Catalog) refreshed(node *GraphNode) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, src := range node.RefreshSources {
		if o, ok := c.outcomes[src]; ok && o.Status.Triggers() {
			return true
		}
	}
	return false
}

// skipRemaining records cancelled resources of the remaining levels.
func (c *Catalog) skipRemaining(levels [][]string, cause error) {
	for _, refs := range levels {
		for _, ref := range refs {
			node := c.graph.Nodes[ref]
			outcome := &Outcome{
				Ref:     ref,
				Type:    node.Resource.Type,
				Name:    node.Resource.Name,
				Level:   node.Level,
				Status:  StatusSkipped,
				Message: cause.Error(),
			}
			c.storeOutcome(outcome)
			c.observe(outcome)
		}
	}
}

func (c *Catalog) storeOutcome(o *Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[o.Ref] = o
}

// observe logs, counts and publishes one outcome.
func (c *Catalog) observe(o *Outcome) {
	c.telemetry.Metrics.RecordResourceApplied(o.Type, string(o.Status), o.Duration)
	_ = c.telemetry.Events.PublishResource(o.Status.EventType(), c.name, o.Ref, o.Message)

	var ev *zerolog.Event
	switch o.Status {
	case StatusFailed:
		ev = c.logger.Error().Err(o.Err)
	case StatusSkipped:
		ev = c.logger.Warn()
	case StatusChanged, StatusNoop:
		ev = c.logger.Info()
	default:
		ev = c.logger.Debug()
	}
	ev.Str("resource", o.Ref).
		Str("status", string(o.Status)).
		Bool("refresh", o.Refresh).
		Dur("duration", o.Duration).
		Msg(o.Message)
}

// Report returns the report of the last Apply, or nil before the first.
func (c *Catalog) Report() *Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}

// DOT renders the catalog graph, colored by the last Apply when there was one.
func (c *Catalog) DOT(title string) string {
	c.mu.RLock()
	statuses := make(map[string]Status, len(c.outcomes))
	for ref, o := range c.outcomes {
		statuses[ref] = o.Status
	}
	c.mu.RUnlock()

	if title == "" {
		title = c.name
	}
	return ToDOT(title, c.graph, statuses)
}

// orderedRefs returns the graph refs in bucket order.
func orderedRefs(g *ExecutionGraph) []string {
	refs := make([]string, len(g.Nodes))
	for ref, node := range g.Nodes {
		refs[node.Index] = ref
	}
	return refs
}

func boolParam(res *catalog.Resource, name string) bool {
	req := Request{Params: res.ParamMap()}
	return req.Bool(name, false)
}

func eventLevel(err error) string {
	if err != nil {
		return telemetry.EventLevelError
	}
	return telemetry.EventLevelInfo
}

var (
	_ catalog.Catalog = (*Catalog)(nil)
	_ catalog.Grapher = (*Catalog)(nil)
)
