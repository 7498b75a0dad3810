package manifest

import (
	"context"
	"errors"
	"testing"

	"github.com/openfroyo/manifests/pkg/catalog"
)

// fakeEngine records compiled buckets and applies them without side effects.
type fakeEngine struct {
	types      []string
	typesErr   error
	compileErr error
	applyErr   error

	compilePanic interface{}
	applyPanic   interface{}

	compiled []*catalog.Bucket
	applied  int
}

func (e *fakeEngine) Types(ctx context.Context) ([]string, error) {
	return e.types, e.typesErr
}

func (e *fakeEngine) Compile(ctx context.Context, bucket *catalog.Bucket) (catalog.Catalog, error) {
	if e.compilePanic != nil {
		panic(e.compilePanic)
	}
	if e.compileErr != nil {
		return nil, e.compileErr
	}
	e.compiled = append(e.compiled, bucket)
	return &fakeCatalog{engine: e, bucket: bucket}, nil
}

type fakeCatalog struct {
	engine *fakeEngine
	bucket *catalog.Bucket
}

func (c *fakeCatalog) Apply(ctx context.Context) error {
	c.engine.applied++
	if c.engine.applyPanic != nil {
		panic(c.engine.applyPanic)
	}
	return c.engine.applyErr
}

func (c *fakeCatalog) DOT(title string) string {
	return "digraph \"" + title + "\" {}\n"
}

// recorderFunc adapts a function to the Recorder interface.
type recorderFunc func(ctx context.Context, rec *RunRecord) error

func (f recorderFunc) RecordRun(ctx context.Context, rec *RunRecord) error {
	return f(ctx, rec)
}

var errBoom = errors.New("boom")

func newTestBase(t *testing.T, engine *fakeEngine) *Class {
	t.Helper()

	if engine == nil {
		engine = &fakeEngine{}
	}
	if engine.types == nil {
		engine.types = []string{"exec", "file", "package", "service"}
	}
	base, err := NewBase(context.Background(), "Base", engine)
	if err != nil {
		t.Fatalf("Failed to create base class: %v", err)
	}
	return base
}
