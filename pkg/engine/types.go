package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/manifests/pkg/catalog"
)

// Handler converges one resource type on the local host.
type Handler interface {
	// Apply brings the resource described by req into its desired state.
	// It reports whether anything changed. With req.Noop set it must not
	// modify the host and reports whether it would have.
	Apply(ctx context.Context, req *Request) (Result, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) (Result, error)

// Apply calls f(ctx, req).
func (f HandlerFunc) Apply(ctx context.Context, req *Request) (Result, error) {
	return f(ctx, req)
}

// Request is the input of a single handler invocation.
type Request struct {
	// Resource is the bucket descriptor being applied.
	Resource catalog.Resource

	// Params are the resource parameters keyed by name.
	Params map[string]string

	// Noop asks the handler to report without changing the host.
	Noop bool

	// Refresh is set when a subscribed resource changed during this apply.
	Refresh bool

	// Logger is scoped to the resource.
	Logger zerolog.Logger
}

// Param returns the named parameter.
func (r *Request) Param(name string) (string, bool) {
	v, ok := r.Params[name]
	return v, ok
}

// ParamDefault returns the named parameter, or def when unset or empty.
func (r *Request) ParamDefault(name, def string) string {
	if v, ok := r.Params[name]; ok && v != "" {
		return v
	}
	return def
}

// Bool parses the named parameter as a boolean, returning def when unset
// or unparsable.
func (r *Request) Bool(name string, def bool) bool {
	v, ok := r.Params[name]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// List returns the named parameter as a list. Values rendered as
// "[a, b]" are split; any other non-empty value is a single element.
func (r *Request) List(name string) []string {
	v, ok := r.Params[name]
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		v = strings.TrimSpace(v[1 : len(v)-1])
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ", ")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	if v == "" {
		return nil
	}
	return []string{v}
}

// Result is the output of a handler invocation.
type Result struct {
	// Changed reports whether the host was (or in noop mode would be) modified.
	Changed bool

	// Message describes what was done.
	Message string
}

// Outcome records how one resource fared during Apply.
type Outcome struct {
	Ref      string        `json:"ref"`
	Type     string        `json:"type"`
	Name     string        `json:"name"`
	Level    int           `json:"level"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Refresh  bool          `json:"refresh,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Report summarizes one Apply of a catalog. Outcomes follow bucket order.
type Report struct {
	Bucket      string        `json:"bucket"`
	Noop        bool          `json:"noop"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Outcomes    []Outcome     `json:"outcomes"`
	Duration    time.Duration `json:"duration"`
}

// Counts returns the number of outcomes per status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	if r == nil {
		return counts
	}
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Outcome returns the outcome for ref.
func (r *Report) Outcome(ref string) (Outcome, bool) {
	if r == nil {
		return Outcome{}, false
	}
	for _, o := range r.Outcomes {
		if o.Ref == ref {
			return o, true
		}
	}
	return Outcome{}, false
}

// Failed returns the outcomes with status failed.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	if r == nil {
		return out
	}
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}
