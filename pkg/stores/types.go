package stores

import (
	"time"

	"github.com/openfroyo/manifests/pkg/catalog"
)

// RunStatus mirrors manifest.RunStatus in stored form.
type RunStatus string

const (
	RunStatusApplied RunStatus = "applied"
	RunStatusFailed  RunStatus = "failed"
)

// Run represents one recorded execution of a manifest instance
type Run struct {
	ID            string    `json:"id"`
	Manifest      string    `json:"manifest"`
	Class         string    `json:"class"`
	Status        RunStatus `json:"status"`
	Forced        bool      `json:"forced"`
	Error         string    `json:"error,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
	Bucket        string    `json:"bucket"`
	ResourceCount int       `json:"resource_count"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunResource is a resource descriptor captured at the time of a run
type RunResource struct {
	RunID      string              `json:"run_id"`
	Position   int                 `json:"position"`
	Type       string              `json:"type"`
	Name       string              `json:"name"`
	Declared   bool                `json:"declared"`
	Source     string              `json:"source,omitempty"`
	Parameters []catalog.Parameter `json:"parameters,omitempty"`
}

// Resource converts the stored row back into a catalog descriptor.
func (r *RunResource) Resource() catalog.Resource {
	return catalog.Resource{
		Type:       r.Type,
		Name:       r.Name,
		Declared:   r.Declared,
		Source:     r.Source,
		Parameters: r.Parameters,
	}
}

// String returns the reference form, e.g. Package[nginx].
func (r *RunResource) String() string {
	return catalog.FormatReference(r.Type, r.Name)
}
