package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/telemetry"
)

// dependencyParams are scanned for references, in this order.
var dependencyParams = []EdgeKind{EdgeRequire, EdgeBefore, EdgeSubscribe, EdgeNotify}

// Compile implements catalog.Engine.
func (e *Engine) Compile(ctx context.Context, bucket *catalog.Bucket) (catalog.Catalog, error) {
	cat, err := e.Build(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// Build validates a bucket, orders its resources and runs the policy gate.
func (e *Engine) Build(ctx context.Context, bucket *catalog.Bucket) (*Catalog, error) {
	if bucket == nil {
		return nil, NewPermanentError("bucket is nil", nil).
			WithCode(ErrCodeValidation).WithOperation("compile")
	}

	ctx, span := e.telemetry.Tracer.StartSpan(ctx, "engine.compile",
		attribute.String("bucket.name", bucket.Name),
		attribute.Int("bucket.resources", bucket.Len()),
	)
	defer span.End()

	cat, err := e.build(ctx, bucket)
	if err != nil {
		telemetry.RecordError(span, err)
		e.logger.Error().Err(err).Str("bucket", bucket.Name).Msg("Catalog compilation failed")
		return nil, err
	}

	telemetry.RecordSuccess(span)
	e.logger.Debug().
		Str("bucket", bucket.Name).
		Int("resources", len(cat.resources)).
		Int("levels", cat.graph.Depth).
		Msg("Catalog compiled")
	return cat, nil
}

func (e *Engine) build(ctx context.Context, bucket *catalog.Bucket) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resources := make([]catalog.Resource, len(bucket.Resources))
	copy(resources, bucket.Resources)

	handlers, err := e.resolveHandlers(resources)
	if err != nil {
		return nil, err
	}

	edges, err := buildDependencies(resources)
	if err != nil {
		return nil, err
	}

	graph, err := NewDAGBuilder().BuildGraph(resources, edges)
	if err != nil {
		return nil, err
	}

	if err := e.checkPolicies(ctx, bucket); err != nil {
		return nil, err
	}

	return &Catalog{
		name:        bucket.Name,
		resources:   resources,
		graph:       graph,
		handlers:    handlers,
		noop:        e.noop,
		parallelism: e.parallelism,
		logger:      e.logger.With().Str("bucket", bucket.Name).Logger(),
		telemetry:   e.telemetry,
	}, nil
}

// resolveHandlers looks up the handler of every declared resource.
func (e *Engine) resolveHandlers(resources []catalog.Resource) (map[string]Handler, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	handlers := make(map[string]Handler)
	for i := range resources {
		res := &resources[i]
		if !res.Declared {
			continue
		}
		h, ok := e.handlers[res.Type]
		if !ok {
			return nil, NewPermanentError(fmt.Sprintf("no handler for resource type %q", res.Type), nil).
				WithCode(ErrCodeUnknownType).WithResource(res.String()).WithOperation("compile")
		}
		handlers[res.Type] = h
	}
	return handlers, nil
}

// buildDependencies derives graph edges from the dependency parameters of
// every resource. before and notify point away from the declaring resource.
func buildDependencies(resources []catalog.Resource) ([]GraphEdge, error) {
	known := make(map[string]bool, len(resources))
	for i := range resources {
		known[resources[i].String()] = true
	}

	var edges []GraphEdge
	for i := range resources {
		res := &resources[i]
		self := res.String()

		for _, kind := range dependencyParams {
			value, ok := res.Param(string(kind))
			if !ok || strings.TrimSpace(value) == "" {
				continue
			}

			refs := catalog.ParseReferences(value)
			if len(refs) == 0 {
				return nil, NewPermanentError(
					fmt.Sprintf("%s parameter %q is not a reference", kind, value), nil,
				).WithCode(ErrCodeValidation).WithResource(self)
			}

			for _, ref := range refs {
				target := ref.String()
				if !known[target] {
					return nil, NewPermanentError(
						fmt.Sprintf("%s on %s is not in the catalog", kind, target), nil,
					).WithCode(ErrCodeUnknownDependency).WithResource(self).WithDetail("target", target)
				}

				switch kind {
				case EdgeRequire, EdgeSubscribe:
					edges = append(edges, GraphEdge{From: target, To: self, Kind: kind})
				default:
					edges = append(edges, GraphEdge{From: self, To: target, Kind: kind})
				}
			}
		}
	}
	return edges, nil
}

// checkPolicies evaluates the policy gate. Every violation is logged,
// counted and published; blocking ones fail compilation.
func (e *Engine) checkPolicies(ctx context.Context, bucket *catalog.Bucket) error {
	if e.policy == nil {
		return nil
	}

	result, err := e.policy.Evaluate(ctx, bucket)
	if err != nil {
		return NewPermanentError("policy evaluation failed", err).
			WithCode(ErrCodePolicyDenied).WithOperation("compile")
	}

	for _, w := range result.Warnings {
		e.logger.Warn().Str("bucket", bucket.Name).Msg(w)
	}
	for _, v := range result.Violations {
		e.telemetry.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		_ = e.telemetry.Events.PublishPolicyViolation(bucket.Name, v.Resource, v.Policy, v.Message)

		ev := e.logger.Warn()
		if v.Severity.Blocking() {
			ev = e.logger.Error()
		}
		ev.Str("policy", v.Policy).
			Str("resource", v.Resource).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}

	if result.Allowed {
		return nil
	}

	blocking := result.Blocking()
	messages := make([]string, 0, len(blocking))
	for _, v := range blocking {
		messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return NewPermanentError(
		fmt.Sprintf("%d blocking policy violation(s): %s", len(blocking), strings.Join(messages, "; ")), nil,
	).WithCode(ErrCodePolicyDenied).WithOperation("compile").WithDetail("violations", blocking)
}
