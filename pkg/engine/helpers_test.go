package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/manifests/pkg/catalog"
)

// recordingHandler records invocations. Resources named in changed report
// a change, those in fail return an error.
type recordingHandler struct {
	mu        sync.Mutex
	calls     []string
	refreshed map[string]bool
	noop      map[string]bool
	changed   map[string]bool
	fail      map[string]bool
	panics    map[string]bool
	delay     time.Duration
	active    int
	maxActive int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		refreshed: make(map[string]bool),
		noop:      make(map[string]bool),
		changed:   make(map[string]bool),
		fail:      make(map[string]bool),
		panics:    make(map[string]bool),
	}
}

func (h *recordingHandler) Apply(ctx context.Context, req *Request) (Result, error) {
	ref := req.Resource.String()

	h.mu.Lock()
	h.calls = append(h.calls, ref)
	h.refreshed[ref] = req.Refresh
	h.noop[ref] = req.Noop
	h.active++
	if h.active > h.maxActive {
		h.maxActive = h.active
	}
	changed, fail, panics := h.changed[ref], h.fail[ref], h.panics[ref]
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.active--
		h.mu.Unlock()
	}()

	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if panics {
		panic("boom")
	}
	if fail {
		return Result{}, fmt.Errorf("%s failed", ref)
	}
	if changed {
		return Result{Changed: true, Message: "converged"}, nil
	}
	return Result{Message: "in sync"}, nil
}

func (h *recordingHandler) called(ref string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.calls {
		if c == ref {
			return true
		}
	}
	return false
}

func (h *recordingHandler) position(ref string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.calls {
		if c == ref {
			return i
		}
	}
	return -1
}

// newTestEngine returns an engine with h registered for exec, file,
// package and service.
func newTestEngine(t *testing.T, h Handler, opts ...Option) *Engine {
	t.Helper()
	e := New(opts...)
	for _, typ := range []string{"exec", "file", "package", "service"} {
		if err := e.Register(typ, h); err != nil {
			t.Fatalf("Failed to register %s: %v", typ, err)
		}
	}
	return e
}

func bucketOf(resources ...catalog.Resource) *catalog.Bucket {
	return &catalog.Bucket{Name: "test#1", Type: catalog.BucketTypeClass, Resources: resources}
}

func mustBuild(t *testing.T, e *Engine, bucket *catalog.Bucket) *Catalog {
	t.Helper()
	cat, err := e.Build(context.Background(), bucket)
	if err != nil {
		t.Fatalf("Failed to compile bucket: %v", err)
	}
	return cat
}

func outcomeOf(t *testing.T, cat *Catalog, ref string) Outcome {
	t.Helper()
	o, ok := cat.Report().Outcome(ref)
	if !ok {
		t.Fatalf("Expected an outcome for %s", ref)
	}
	return o
}
