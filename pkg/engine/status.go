package engine

import (
	"encoding/json"
	"fmt"

	"github.com/openfroyo/manifests/pkg/telemetry"
)

// Status is the outcome of applying one resource.
type Status string

const (
	// StatusChanged indicates the handler converged the resource.
	StatusChanged Status = "changed"

	// StatusUnchanged indicates the resource was already in sync, or is a
	// bare reference that is never applied.
	StatusUnchanged Status = "unchanged"

	// StatusFailed indicates the handler returned an error.
	StatusFailed Status = "failed"

	// StatusSkipped indicates the resource was not applied, because a
	// dependency failed or because it only runs on refresh.
	StatusSkipped Status = "skipped"

	// StatusNoop indicates the resource would have changed in noop mode.
	StatusNoop Status = "noop"
)

// Triggers returns true if the status refreshes subscribers.
func (s Status) Triggers() bool {
	return s == StatusChanged || s == StatusNoop
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusChanged, StatusUnchanged, StatusFailed, StatusSkipped, StatusNoop:
		return nil
	default:
		return fmt.Errorf("invalid resource status: %s", s)
	}
}

// EventType returns the telemetry event type published for the status.
func (s Status) EventType() string {
	switch s {
	case StatusChanged, StatusNoop:
		return telemetry.EventTypeResourceChanged
	case StatusFailed:
		return telemetry.EventTypeResourceFailed
	case StatusSkipped:
		return telemetry.EventTypeResourceSkipped
	default:
		return telemetry.EventTypeResourceInSync
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Status(str)
	return s.Validate()
}
