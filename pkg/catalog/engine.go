package catalog

import "context"

// Engine compiles buckets of resources into applicable catalogs.
type Engine interface {
	// Types returns every resource type identifier the engine supports.
	Types(ctx context.Context) ([]string, error)

	// Compile turns a bucket into an applicable catalog.
	Compile(ctx context.Context, bucket *Bucket) (Catalog, error)
}

// Catalog is the compiled, applicable form of a bucket.
type Catalog interface {
	// Apply converges the host towards the catalog. It blocks until done.
	Apply(ctx context.Context) error
}

// Grapher is implemented by catalogs that can render their relationship graph.
type Grapher interface {
	// DOT returns a Graphviz representation of the catalog.
	DOT(title string) string
}
