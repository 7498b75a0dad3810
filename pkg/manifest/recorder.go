package manifest

import (
	"context"
	"time"

	"github.com/openfroyo/manifests/pkg/catalog"
)

// RunStatus is the outcome of one execution.
type RunStatus string

const (
	RunStatusApplied RunStatus = "applied"
	RunStatusFailed  RunStatus = "failed"
)

// RunRecord describes one execution of a manifest instance.
type RunRecord struct {
	Manifest    string
	Class       string
	Status      RunStatus
	Forced      bool
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
	Bucket      *catalog.Bucket

	// TraceID is the trace of the execution span, empty when untraced.
	TraceID string
}

// Recorder persists execution history.
type Recorder interface {
	RecordRun(ctx context.Context, rec *RunRecord) error
}
