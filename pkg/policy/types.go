package policy

import (
	"fmt"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block compilation.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that block compilation.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity block a catalog.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Validate checks if the severity is known.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %q", s)
	}
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the Type[name] reference of the offending resource.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of evaluating a bucket.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that block compilation.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document bound to input during evaluation.
type Input struct {
	// Resource is the resource under evaluation.
	Resource ResourceInput `json:"resource"`

	// Bucket describes the submission the resource belongs to.
	Bucket BucketInput `json:"bucket"`
}

// ResourceInput is the policy view of a catalog resource.
type ResourceInput struct {
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Ref      string            `json:"ref"`
	Declared bool              `json:"declared"`
	Source   string            `json:"source,omitempty"`
	Params   map[string]string `json:"params"`
}

// BucketInput is the policy view of a catalog bucket.
type BucketInput struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Resources int    `json:"resources"`
}
