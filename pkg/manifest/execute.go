package manifest

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/telemetry"
)

// State is a position in the execution state machine:
// Fresh → Evaluating → Built → Applied, or Evaluating/Built → Failed.
type State int

const (
	StateFresh State = iota
	StateEvaluating
	StateBuilt
	StateApplied
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateEvaluating:
		return "evaluating"
	case StateBuilt:
		return "built"
	case StateApplied:
		return "applied"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of one execution.
type Result struct {
	// Applied is true when the catalog was compiled and applied.
	Applied bool

	// Err is the fault that stopped the execution, if any.
	Err error

	// Forced is true when the execution bypassed the executed check.
	Forced bool

	// Resources is the number of resources submitted.
	Resources int

	// Duration is the total execution time.
	Duration time.Duration
}

// Execute evaluates the queued recipes and applies the resulting catalog.
// It returns false without doing anything when the instance has already
// executed and force is false, and false when evaluation or application
// failed; the error itself is discarded.
func (m *Manifest) Execute(ctx context.Context, force bool) bool {
	ok, err := m.ExecuteStrict(ctx, force)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Manifest execution failed")
		return false
	}
	return ok
}

// ExecuteStrict behaves like Execute but returns the fault that stopped the
// execution. An instance that already executed returns (false, nil) unless
// force is set.
func (m *Manifest) ExecuteStrict(ctx context.Context, force bool) (bool, error) {
	if m.executed && !force {
		m.logger.Debug().Msg("Manifest already executed, skipping")
		return false, nil
	}
	res := m.run(ctx, force)
	return res.Applied, res.Err
}

// run drives the state machine once. The executed flag is set on every exit
// path.
func (m *Manifest) run(ctx context.Context, force bool) (res Result) {
	started := time.Now()
	res.Forced = force

	ctx, span := m.tracer.Start(ctx, "manifest.execute", trace.WithAttributes(
		telemetry.AttrManifestName.String(m.name),
		telemetry.AttrManifestClass.String(m.class.name),
		attribute.Bool("manifest.forced", force),
	))

	var bucket *catalog.Bucket
	defer func() {
		m.executed = true
		res.Duration = time.Since(started)
		m.last = &res
		m.finish(ctx, span, started, bucket, res)
	}()

	m.logger.Info().Bool("forced", force).Msg("Executing manifest")

	m.state = StateEvaluating
	if err := m.evaluateRecipes(ctx); err != nil {
		m.state = StateFailed
		res.Err = err
		return res
	}

	bucket = m.Bucket()
	res.Resources = bucket.Len()
	m.state = StateBuilt

	declared, refs := m.graph.Counts()
	m.metrics.SetResources(m.class.name, declared, refs)
	m.logger.Debug().
		Int("declared", declared).
		Int("references", refs).
		Msg("Resource graph built")

	if err := m.apply(ctx, bucket); err != nil {
		m.state = StateFailed
		res.Err = err
		return res
	}

	m.state = StateApplied
	res.Applied = true
	return res
}

func (m *Manifest) finish(ctx context.Context, span trace.Span, started time.Time, bucket *catalog.Bucket, res Result) {
	status := RunStatusApplied
	if res.Err != nil {
		status = RunStatusFailed
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		if f, ok := res.Err.(*Fault); ok {
			m.metrics.RecordError(string(f.Kind))
		}
		m.logger.Error().Err(res.Err).Dur("duration", res.Duration).Msg("Manifest execution failed")
	} else {
		span.SetStatus(codes.Ok, "")
		m.logger.Info().
			Int("resources", res.Resources).
			Dur("duration", res.Duration).
			Msg("Manifest applied")
	}
	span.SetAttributes(attribute.Int("manifest.resources", res.Resources))
	span.End()

	m.metrics.RecordExecution(m.class.name, string(status), res.Duration)

	if m.recorder == nil {
		return
	}
	rec := &RunRecord{
		Manifest:    m.name,
		Class:       m.class.name,
		Status:      status,
		Forced:      res.Forced,
		StartedAt:   started,
		CompletedAt: started.Add(res.Duration),
		Err:         res.Err,
		Bucket:      bucket,
		TraceID:     telemetry.TraceID(ctx),
	}
	if err := m.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to record run")
	}
}

// evaluateRecipes invokes the queued recipes in order. Recipes queued while
// evaluating are picked up in the same pass.
func (m *Manifest) evaluateRecipes(ctx context.Context) error {
	prev := m.ctx
	m.ctx = ctx
	defer func() { m.ctx = prev }()

	for i := 0; ; i++ {
		entry, ok := m.class.recipeAt(i)
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return NewEvaluationFault("evaluation cancelled", err).
				WithCode(CodeCancelled).
				WithRecipe(entry.Name).
				WithManifest(m.name)
		}
		if err := m.invoke(ctx, entry); err != nil {
			return err
		}
	}
}

func (m *Manifest) invoke(ctx context.Context, entry RecipeEntry) (err error) {
	recipe, ok := m.class.resolve(entry.Name)
	if !ok {
		m.metrics.RecordRecipe(m.class.name, entry.Name, "unresolved")
		return NewEvaluationFault("recipe not found", ErrUnresolvedRecipe).
			WithCode(CodeUnresolved).
			WithRecipe(entry.Name).
			WithManifest(m.name)
	}

	_, span := m.tracer.Start(ctx, "manifest.recipe", trace.WithAttributes(
		attribute.String("recipe.name", entry.Name),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = NewEvaluationFault("recipe panicked", fmt.Errorf("%v", r)).
				WithCode(CodePanic).
				WithRecipe(entry.Name).
				WithManifest(m.name)
		}
		status := "ok"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		m.metrics.RecordRecipe(m.class.name, entry.Name, status)
	}()

	m.logger.Debug().Str("recipe", entry.Name).Msg("Evaluating recipe")
	if err := recipe.invoke(m, entry.Args); err != nil {
		return NewEvaluationFault("recipe failed", err).
			WithCode(CodeRecipe).
			WithRecipe(entry.Name).
			WithManifest(m.name)
	}
	return nil
}

// compile hands the bucket to the catalog engine.
func (m *Manifest) compile(ctx context.Context, bucket *catalog.Bucket) (cat catalog.Catalog, err error) {
	engine := m.class.Engine()
	if engine == nil {
		return nil, NewApplicationFault("cannot compile catalog", ErrNoEngine).
			WithCode(CodeNoEngine).
			WithManifest(m.name)
	}
	defer m.recoverEngine("compile", &err)
	cat, err = engine.Compile(ctx, bucket)
	if err != nil {
		return nil, NewApplicationFault("catalog compilation failed", err).
			WithCode(CodeCompile).
			WithManifest(m.name)
	}
	return cat, nil
}

func (m *Manifest) apply(ctx context.Context, bucket *catalog.Bucket) (err error) {
	cat, err := m.compile(ctx, bucket)
	if err != nil {
		return err
	}
	defer m.recoverEngine("apply", &err)
	if err := cat.Apply(ctx); err != nil {
		return NewApplicationFault("catalog application failed", err).
			WithCode(CodeApply).
			WithManifest(m.name)
	}
	return nil
}

// recoverEngine turns a panic raised by the catalog engine into an
// application fault stored in *err.
func (m *Manifest) recoverEngine(stage string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	m.logger.Error().Str("stage", stage).Interface("panic", r).Msg("Catalog engine panicked")
	*err = NewApplicationFault("catalog engine panicked during "+stage, fmt.Errorf("%v", r)).
		WithCode(CodeEngine).
		WithManifest(m.name)
}

// GraphTo evaluates the queued recipes, compiles the catalog and writes its
// relationship graph in DOT format to w. Nothing is applied and the
// instance is not marked executed.
func (m *Manifest) GraphTo(ctx context.Context, title string, w io.Writer) error {
	if err := m.evaluateRecipes(ctx); err != nil {
		return err
	}
	cat, err := m.compile(ctx, m.Bucket())
	if err != nil {
		return err
	}
	g, ok := cat.(catalog.Grapher)
	if !ok {
		return ErrGraphUnsupported
	}
	if title == "" {
		title = m.name
	}
	_, err = io.WriteString(w, g.DOT(title))
	return err
}
