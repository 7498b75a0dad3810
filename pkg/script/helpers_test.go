package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/manifest"
)

// fakeEngine captures the last compiled bucket.
type fakeEngine struct {
	bucket *catalog.Bucket
}

func (e *fakeEngine) Types(ctx context.Context) ([]string, error) {
	return []string{"exec", "file", "package", "service", "apache::vhost"}, nil
}

func (e *fakeEngine) Compile(ctx context.Context, bucket *catalog.Bucket) (catalog.Catalog, error) {
	e.bucket = bucket
	return nopCatalog{}, nil
}

type nopCatalog struct{}

func (nopCatalog) Apply(ctx context.Context) error { return nil }

func newTestBase(t *testing.T) (*manifest.Class, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	base, err := manifest.NewBase(context.Background(), "Base", engine)
	if err != nil {
		t.Fatalf("Failed to create base class: %v", err)
	}
	return base, engine
}

func mustLoad(t *testing.T, base *manifest.Class, src string, opts ...Option) *manifest.Class {
	t.Helper()
	class, err := Load(context.Background(), base, "site.star", []byte(src), opts...)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return class
}

// execute runs a fresh instance of class and returns the submitted bucket.
func execute(t *testing.T, class *manifest.Class, engine *fakeEngine) *catalog.Bucket {
	t.Helper()
	ok, err := class.New().ExecuteStrict(context.Background(), false)
	if err != nil {
		t.Fatalf("ExecuteStrict failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected execution to succeed")
	}
	return engine.bucket
}

func resourceOf(t *testing.T, bucket *catalog.Bucket, ref string) *catalog.Resource {
	t.Helper()
	for i := range bucket.Resources {
		if bucket.Resources[i].String() == ref {
			return &bucket.Resources[i]
		}
	}
	t.Fatalf("Expected %s in bucket, got %v", ref, bucket.Resources)
	return nil
}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
