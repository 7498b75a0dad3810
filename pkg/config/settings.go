package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/manifests/pkg/telemetry"
)

// DefaultStateDB is the run history path used when none is configured.
const DefaultStateDB = ".froyo/manifests.db"

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	tc := telemetry.DefaultConfig()
	return &Settings{
		StateDB:     DefaultStateDB,
		Environment: tc.Environment,
		Logging:     tc.Logging,
		Tracing:     tc.Tracing,
		Metrics:     tc.Metrics,
		Engine: EngineSettings{
			Parallelism:    4,
			ExecutionTypes: []string{"exec"},
		},
	}
}

// LoadSettings reads a YAML settings file over the defaults. An empty path
// returns the defaults. The file is checked against the built-in CUE schema
// before decoding and the result is validated with its struct tags.
func LoadSettings(ctx context.Context, path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if raw != nil {
		if err := NewSchemaRegistry().Validate(ctx, SettingsSchema, raw); err != nil {
			return nil, fmt.Errorf("invalid settings %s: %w", path, err)
		}
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(settings); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode settings %s: %w", path, err)
	}

	// Relative state paths are anchored at the settings file.
	if !filepath.IsAbs(settings.StateDB) && settings.StateDB != ":memory:" {
		settings.StateDB = filepath.Join(filepath.Dir(path), settings.StateDB)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}

	return settings, nil
}

// Validate checks the struct tags of s.
func (s *Settings) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed on %q (value %v)", fe.Tag(), fe.Value()),
		})
	}
	return out
}

// Telemetry returns the telemetry configuration described by s.
func (s *Settings) Telemetry() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if s.Environment != "" {
		tc.Environment = s.Environment
	}
	tc.Logging = s.Logging
	tc.Tracing = s.Tracing
	tc.Metrics = s.Metrics
	return tc
}
