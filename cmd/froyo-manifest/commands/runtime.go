package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/manifests/pkg/config"
	"github.com/openfroyo/manifests/pkg/engine"
	"github.com/openfroyo/manifests/pkg/engine/handlers"
	"github.com/openfroyo/manifests/pkg/manifest"
	"github.com/openfroyo/manifests/pkg/policy"
	"github.com/openfroyo/manifests/pkg/script"
	"github.com/openfroyo/manifests/pkg/stores"
	"github.com/openfroyo/manifests/pkg/telemetry"
)

// baseClassName names the root class every script subclasses.
const baseClassName = "Manifest"

// runtime wires settings, telemetry, the local engine and the run history
// for one command invocation.
type runtime struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	policy    *policy.Engine
	engine    *engine.Engine
	store     *stores.SQLiteStore
	base      *manifest.Class
}

type runtimeOptions struct {
	// noop forces noop mode regardless of settings.
	noop bool

	// history opens the run history store.
	history bool

	// handlers registers the built-in resource handlers.
	handlers bool
}

// manifestOptions select the values merged into a loaded script class.
type manifestOptions struct {
	values []string
	schema string
}

func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	settings, err := config.LoadSettings(ctx, configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Logging.Level = "debug"
	}
	if opts.noop {
		settings.Engine.Noop = true
	}

	t, err := telemetry.NewTelemetry(settings.Telemetry())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	rt := &runtime{
		settings:  settings,
		telemetry: t,
		logger:    t.Logger.Zerolog(),
	}

	engineOpts := []engine.Option{
		engine.WithLogger(rt.logger),
		engine.WithParallelism(settings.Engine.Parallelism),
		engine.WithNoop(settings.Engine.Noop),
		engine.WithTelemetry(t),
	}
	if settings.Policy.Enabled {
		pe, err := policy.NewEngine(rt.logger)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
		}
		if len(settings.Policy.Paths) > 0 {
			if err := pe.LoadPolicies(ctx, settings.Policy.Paths); err != nil {
				_ = rt.Close(ctx)
				return nil, fmt.Errorf("failed to load policies: %w", err)
			}
		}
		rt.policy = pe
		engineOpts = append(engineOpts, engine.WithPolicy(pe))
	}

	rt.engine = engine.New(engineOpts...)
	if opts.handlers {
		if err := handlers.Register(rt.engine, nil); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}

	if opts.history {
		if err := rt.openStore(ctx); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}

	rt.base, err = manifest.NewBase(ctx, baseClassName, rt.engine,
		manifest.WithExecutionTypes(settings.Engine.ExecutionTypes...),
		manifest.WithBaseLogger(rt.manifestLogger()),
	)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) manifestLogger() zerolog.Logger {
	return rt.telemetry.Logger.NewComponentLogger("manifest").Zerolog()
}

func (rt *runtime) openStore(ctx context.Context) error {
	path := rt.settings.StateDB
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := stores.Open(ctx, stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open run history %s: %w", path, err)
	}
	rt.store = store
	return nil
}

// loadManifest evaluates a recipe script and returns a fresh instance of its
// class with values merged into the class configuration.
func (rt *runtime) loadManifest(ctx context.Context, path string, mo manifestOptions) (*manifest.Manifest, error) {
	class, err := script.LoadFile(ctx, rt.base, path, script.WithLogger(rt.logger))
	if err != nil {
		return nil, err
	}

	opts := []manifest.Option{
		manifest.WithLogger(rt.manifestLogger()),
		manifest.WithMetrics(rt.telemetry.Metrics),
		manifest.WithTracer(rt.telemetry.Tracer.Tracer()),
	}

	if len(mo.values) > 0 {
		values, err := rt.loadValues(ctx, mo)
		if err != nil {
			return nil, err
		}
		opts = append(opts, manifest.WithConfiguration(values.ToMap()))
	}

	if rt.store != nil {
		opts = append(opts, manifest.WithRecorder(rt.store))
	}

	return class.New(opts...), nil
}

func (rt *runtime) loadValues(ctx context.Context, mo manifestOptions) (manifest.Configuration, error) {
	loaderOpts := []config.ValuesOption{config.WithValuesLogger(rt.logger)}
	if mo.schema != "" {
		registry := config.NewSchemaRegistry()
		if err := registry.RegisterSchemaFile("values", mo.schema); err != nil {
			return nil, err
		}
		loaderOpts = append(loaderOpts, config.WithSchema(registry, "values"))
	}
	return config.NewValuesLoader(loaderOpts...).Load(ctx, mo.values...)
}

// Close releases the store and flushes telemetry.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.telemetry != nil {
		errs = append(errs, rt.telemetry.Shutdown(context.WithoutCancel(ctx)))
	}
	return errors.Join(errs...)
}
