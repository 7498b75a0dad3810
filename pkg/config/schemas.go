package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// SchemaDefinition is the CUE definition every schema must declare.
const SchemaDefinition = "#Schema"

// SettingsSchema is the name of the built-in schema for Settings files.
const SettingsSchema = "settings"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in
// settings schema.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SettingsSchema, builtinSettingsSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles src and registers its #Schema definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, src string) error {
	return sr.register(name, src, name)
}

// RegisterSchemaFile registers the #Schema definition of a .cue file.
func (sr *SchemaRegistry) RegisterSchemaFile(name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return sr.register(name, string(content), path)
}

func (sr *SchemaRegistry) register(name, src, filename string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(SchemaDefinition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, SchemaDefinition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against a named schema. Failures are returned as
// ValidationErrors.
func (sr *SchemaRegistry) Validate(ctx context.Context, schemaName string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// A cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	return nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{Message: cueerrors.Details(e, nil)}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}

	return out
}

// builtinSettingsSchema mirrors the yaml layout of Settings.
const builtinSettingsSchema = `
#Schema: {
	state_db?:    string & !=""
	environment?: string

	logging?: {
		level?:       "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		format?:      "console" | "json"
		output?:      string
		caller?:      bool
		time_format?: string
		no_color?:    bool
	}

	tracing?: {
		enabled?:        bool
		exporter?:       "otlp" | "stdout" | "none"
		endpoint?:       string
		sampling_rate?:  number & >=0 & <=1
		export_timeout?: string
		headers?: {[string]: string}
		insecure?: bool
	}

	metrics?: {
		enabled?:        bool
		listen_address?: string
		path?:           string
		namespace?:      string
		buckets?: [...number]
	}

	policy?: {
		enabled?: bool
		paths?: [...string]
		watch?: bool
	}

	engine?: {
		parallelism?: int & >=1 & <=256
		noop?:        bool
		execution_types?: [...string]
	}
}
`
