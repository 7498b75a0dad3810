package manifest

import (
	"errors"
	"fmt"
)

// FaultKind classifies a failed execution.
type FaultKind string

const (
	// FaultEvaluation marks an error raised while invoking a queued recipe,
	// including recipes that could not be resolved.
	FaultEvaluation FaultKind = "evaluation"

	// FaultApplication marks an error raised by the catalog engine while
	// compiling or applying the submission bucket.
	FaultApplication FaultKind = "application"
)

// Sentinel errors wrapped by faults.
var (
	// ErrUnresolvedRecipe is returned when a queued recipe names neither a
	// defined recipe nor a resource type.
	ErrUnresolvedRecipe = errors.New("unresolved recipe")

	// ErrUnknownType is returned when a resource type is not in the engine's
	// capability set.
	ErrUnknownType = errors.New("unknown resource type")

	// ErrMissingResourceName is returned when a resource type is invoked
	// without a name.
	ErrMissingResourceName = errors.New("missing resource name")

	// ErrNoEngine is returned when a manifest is applied without a catalog engine.
	ErrNoEngine = errors.New("no catalog engine configured")

	// ErrGraphUnsupported is returned when the compiled catalog cannot render
	// its relationship graph.
	ErrGraphUnsupported = errors.New("catalog does not support graph rendering")
)

// Fault codes.
const (
	CodeUnresolved = "UNRESOLVED_RECIPE"
	CodeRecipe     = "RECIPE_FAILED"
	CodePanic      = "RECIPE_PANIC"
	CodeCancelled  = "CANCELLED"
	CodeNoEngine   = "NO_ENGINE"
	CodeCompile    = "COMPILE_FAILED"
	CodeApply      = "APPLY_FAILED"
	CodeEngine     = "ENGINE_PANIC"
)

// Fault is a classified execution error. It unwraps to the underlying cause
// so callers can match on the original error.
type Fault struct {
	// Kind is the fault classification.
	Kind FaultKind

	// Message is the human-readable description.
	Message string

	// Code is a machine-readable code.
	Code string

	// Recipe is the recipe being evaluated, if any.
	Recipe string

	// Manifest is the name of the manifest instance.
	Manifest string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	msg := fmt.Sprintf("[%s] %s", f.Kind, f.Message)
	if f.Recipe != "" {
		msg += fmt.Sprintf(" (recipe=%s)", f.Recipe)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Is reports whether target is a Fault of the same kind. A target with an
// empty code matches any code.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Kind == t.Kind && (t.Code == "" || f.Code == t.Code)
}

// NewEvaluationFault creates a fault for a recipe evaluation error.
func NewEvaluationFault(message string, err error) *Fault {
	return &Fault{Kind: FaultEvaluation, Message: message, Err: err}
}

// NewApplicationFault creates a fault for a catalog engine error.
func NewApplicationFault(message string, err error) *Fault {
	return &Fault{Kind: FaultApplication, Message: message, Err: err}
}

// WithRecipe adds the recipe name to the fault.
func (f *Fault) WithRecipe(name string) *Fault {
	f.Recipe = name
	return f
}

// WithCode adds a code to the fault.
func (f *Fault) WithCode(code string) *Fault {
	f.Code = code
	return f
}

// WithManifest adds the manifest name to the fault.
func (f *Fault) WithManifest(name string) *Fault {
	f.Manifest = name
	return f
}

// IsEvaluationFault reports whether err is, or wraps, an evaluation fault.
func IsEvaluationFault(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == FaultEvaluation
}

// IsApplicationFault reports whether err is, or wraps, an application fault.
func IsApplicationFault(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == FaultApplication
}
