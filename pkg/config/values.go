package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/manifests/pkg/manifest"
)

// ValuesLoader loads manifest configuration values from YAML, JSON and
// CUE files. Files are deep-merged in the order given; directories
// contribute their supported files in lexical order.
type ValuesLoader struct {
	ctx     *cue.Context
	schemas *SchemaRegistry
	schema  string
	logger  zerolog.Logger
}

// ValuesOption configures a ValuesLoader.
type ValuesOption func(*ValuesLoader)

// WithSchema validates the merged values against a registered schema.
func WithSchema(registry *SchemaRegistry, name string) ValuesOption {
	return func(l *ValuesLoader) {
		l.schemas = registry
		l.schema = name
	}
}

// WithValuesLogger sets the logger.
func WithValuesLogger(logger zerolog.Logger) ValuesOption {
	return func(l *ValuesLoader) {
		l.logger = logger.With().Str("component", "values").Logger()
	}
}

// NewValuesLoader creates a values loader.
func NewValuesLoader(opts ...ValuesOption) *ValuesLoader {
	l := &ValuesLoader{
		ctx:    cuecontext.New(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Supported reports whether path has a values file extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".cue":
		return true
	}
	return false
}

// Load reads and merges the values at paths.
func (l *ValuesLoader) Load(ctx context.Context, paths ...string) (manifest.Configuration, error) {
	files, err := l.expand(paths)
	if err != nil {
		return nil, err
	}

	merged := manifest.Configuration{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values, err := l.LoadFile(file)
		if err != nil {
			return nil, err
		}
		merged = merged.Merge(values)

		l.logger.Debug().Str("file", file).Int("keys", len(values)).Msg("Loaded values")
	}

	if l.schemas != nil && l.schema != "" {
		if err := l.schemas.Validate(ctx, l.schema, merged.ToMap()); err != nil {
			return nil, fmt.Errorf("values do not match schema %s: %w", l.schema, err)
		}
	}

	return merged, nil
}

// LoadFile reads one values file. The top level must be a mapping.
func (l *ValuesLoader) LoadFile(path string) (map[string]interface{}, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return l.loadCUE(path)
	case ".yaml", ".yml", ".json":
		return loadYAML(path)
	default:
		return nil, fmt.Errorf("unsupported values file %s", path)
	}
}

func (l *ValuesLoader) expand(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat values %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && Supported(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk values directory %s: %w", path, err)
		}
	}
	return files, nil
}

// loadYAML reads YAML or JSON; JSON documents are valid YAML.
func loadYAML(path string) (map[string]interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read values %s: %w", path, err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse values %s: %w", path, err)
	}

	switch v := doc.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	default:
		return nil, fmt.Errorf("values %s: top level must be a mapping, got %T", path, doc)
	}
}

func (l *ValuesLoader) loadCUE(path string) (map[string]interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read values %s: %w", path, err)
	}

	val := l.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}
	if val.Kind() != cue.StructKind {
		return nil, fmt.Errorf("values %s: top level must be a struct, got %s", path, val.Kind())
	}

	var out map[string]interface{}
	if err := val.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode values %s: %w", path, err)
	}
	return out, nil
}
