package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/manifests/pkg/telemetry"
)

// Settings is the runtime configuration of froyo-manifest.
type Settings struct {
	// StateDB is the path of the SQLite run history.
	StateDB string `yaml:"state_db" validate:"required"`

	// Environment labels telemetry (development, production).
	Environment string `yaml:"environment"`

	Logging telemetry.LoggingConfig `yaml:"logging"`
	Tracing telemetry.TracingConfig `yaml:"tracing"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`

	Policy PolicySettings `yaml:"policy"`
	Engine EngineSettings `yaml:"engine"`
}

// PolicySettings configures the policy gate of the local engine.
type PolicySettings struct {
	// Enabled turns the gate on. The built-in policies always load.
	Enabled bool `yaml:"enabled"`

	// Paths lists extra .rego or .json policy files and directories.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Watch reloads Paths when they change in watch mode.
	Watch bool `yaml:"watch"`
}

// EngineSettings configures catalog compilation and application.
type EngineSettings struct {
	// Parallelism bounds the resources applied at once within a level.
	Parallelism int `yaml:"parallelism" validate:"gte=1,lte=256"`

	// Noop reports changes without making them.
	Noop bool `yaml:"noop"`

	// ExecutionTypes get a path parameter from $PATH on declaration.
	ExecutionTypes []string `yaml:"execution_types" validate:"dive,required"`
}

// ValidationError is a configuration problem with its location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path (e.g., "engine.parallelism").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error renders the location and message.
func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in one load.
type ValidationErrors []ValidationError

// Error joins the individual errors, one per line.
func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "\n")
}
