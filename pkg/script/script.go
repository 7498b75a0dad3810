package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/manifests/pkg/manifest"
)

// Extension is the file extension of recipe scripts.
const Extension = ".star"

// DefaultTimeout bounds the top-level execution of a script.
const DefaultTimeout = 30 * time.Second

// localManifest is the thread-local key holding the manifest a recipe runs for.
const localManifest = "manifest"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Option configures Load.
type Option func(*loader)

// WithLogger sets the logger. Script print() output goes to it at info level.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *loader) {
		l.logger = logger.With().Str("component", "script").Logger()
	}
}

// WithClassName names the class instead of deriving it from the file name.
func WithClassName(name string) Option {
	return func(l *loader) {
		l.className = name
	}
}

// WithTimeout bounds the top-level execution. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(l *loader) {
		l.timeout = d
	}
}

type loader struct {
	logger    zerolog.Logger
	className string
	timeout   time.Duration

	dir         string
	class       *manifest.Class
	predeclared starlark.StringDict
	modules     map[string]*module
}

type module struct {
	globals starlark.StringDict
	err     error
	loading bool
}

// LoadFile reads path and loads it with Load.
func LoadFile(ctx context.Context, base *manifest.Class, path string, opts ...Option) (*manifest.Class, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return Load(ctx, base, path, src, opts...)
}

// Load executes a Starlark script and returns a new subclass of base
// holding what it declared. Top-level functions become recipes: with no
// parameters as manifest.Func, with one as manifest.OptionsFunc receiving
// the queued payload. Top-level calls to recipe, recipe_with and configure
// act on the class.
func Load(ctx context.Context, base *manifest.Class, path string, src []byte, opts ...Option) (*manifest.Class, error) {
	if base == nil {
		return nil, errors.New("script: base class is required")
	}

	l := &loader{
		logger:  zerolog.Nop(),
		timeout: DefaultTimeout,
		modules: make(map[string]*module),
	}
	for _, opt := range opts {
		opt(l)
	}

	name := l.className
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	l.class = base.Subclass(name)
	l.dir = filepath.Dir(path)
	l.predeclared = l.builtins()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	thread := l.newThread(path, nil)
	stop := cancelOnDone(ctx, thread)
	defer stop()

	globals, err := starlark.ExecFile(thread, path, src, l.predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, describe(err))
	}

	count, err := l.defineRecipes(globals)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	l.logger.Info().
		Str("script", path).
		Str("class", name).
		Int("recipes", count).
		Int("queued", len(l.class.Recipes())).
		Msg("Script loaded")

	return l.class, nil
}

func (l *loader) newThread(name string, m *manifest.Manifest) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Info().Str("thread", name).Msg(msg)
		},
		Load: l.load,
	}
	if m != nil {
		thread.SetLocal(localManifest, m)
	}
	return thread
}

// cancelOnDone cancels thread when ctx is done.
func cancelOnDone(ctx context.Context, thread *starlark.Thread) func() bool {
	return context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
}

// describe appends the Starlark call stack to evaluation errors.
func describe(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) && len(evalErr.CallStack) > 0 {
		return fmt.Errorf("%w\n%s", err, strings.TrimRight(evalErr.CallStack.String(), "\n"))
	}
	return err
}

func (l *loader) defineRecipes(globals starlark.StringDict) (int, error) {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	count := 0
	for _, name := range names {
		fn, ok := globals[name].(*starlark.Function)
		if !ok || strings.HasPrefix(name, "_") {
			continue
		}
		recipe, err := l.recipe(name, fn)
		if err != nil {
			return count, err
		}
		l.class.Define(name, recipe)
		l.logger.Debug().Str("recipe", name).Int("params", fn.NumParams()).Msg("Recipe defined")
		count++
	}
	return count, nil
}

func (l *loader) recipe(name string, fn *starlark.Function) (manifest.Recipe, error) {
	call := func(m *manifest.Manifest, args starlark.Tuple) error {
		ctx := m.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		thread := l.newThread(name, m)
		stop := cancelOnDone(ctx, thread)
		defer stop()

		if _, err := starlark.Call(thread, fn, args, nil); err != nil {
			return describe(err)
		}
		return nil
	}

	switch fn.NumParams() {
	case 0:
		return manifest.Func(func(m *manifest.Manifest) error {
			return call(m, nil)
		}), nil
	case 1:
		return manifest.OptionsFunc(func(m *manifest.Manifest, args manifest.Args) error {
			payload, err := toStarlarkValue(args.Value())
			if err != nil {
				return fmt.Errorf("recipe %s: %w", name, err)
			}
			return call(m, starlark.Tuple{payload})
		}), nil
	default:
		return nil, fmt.Errorf("recipe %s takes %d parameters; recipes take zero or one", name, fn.NumParams())
	}
}

// load implements load() relative to the directory of the main script.
func (l *loader) load(thread *starlark.Thread, name string) (starlark.StringDict, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}

	if mod, ok := l.modules[path]; ok {
		if mod.loading {
			return nil, fmt.Errorf("cycle in load graph at %s", name)
		}
		return mod.globals, mod.err
	}

	mod := &module{loading: true}
	l.modules[path] = mod

	src, err := os.ReadFile(path)
	if err != nil {
		mod.err = err
	} else {
		child := l.newThread(path, nil)
		mod.globals, mod.err = starlark.ExecFile(child, path, src, l.predeclared)
	}
	mod.loading = false
	return mod.globals, mod.err
}

// builtins returns the predeclared environment of every script.
func (l *loader) builtins() starlark.StringDict {
	env := starlark.StringDict{
		"struct":        starlark.NewBuiltin("struct", starlarkstruct.Make),
		"recipe":        starlark.NewBuiltin("recipe", l.builtinRecipe),
		"recipe_with":   starlark.NewBuiltin("recipe_with", l.builtinRecipeWith),
		"configure":     starlark.NewBuiltin("configure", l.builtinConfigure),
		"configuration": starlark.NewBuiltin("configuration", l.builtinConfiguration),
		"reference":     starlark.NewBuiltin("reference", builtinReference),
		"declare":       starlark.NewBuiltin("declare", builtinDeclare),
		"types":         starlark.NewBuiltin("types", l.builtinTypes),
	}

	for _, typ := range l.class.Types() {
		if _, taken := env[typ]; taken || !identifier.MatchString(typ) {
			continue
		}
		if _, universal := starlark.Universe[typ]; universal {
			continue
		}
		env[typ] = starlark.NewBuiltin(typ, typeBuiltin(typ))
	}

	return env
}

// manifestOf returns the manifest a recipe thread runs for.
func manifestOf(thread *starlark.Thread) *manifest.Manifest {
	m, _ := thread.Local(localManifest).(*manifest.Manifest)
	return m
}

func requireManifest(thread *starlark.Thread, b *starlark.Builtin) (*manifest.Manifest, error) {
	m := manifestOf(thread)
	if m == nil {
		return nil, fmt.Errorf("%s: only available inside a recipe", b.Name())
	}
	return m, nil
}

func unpackNames(b *starlark.Builtin, args starlark.Tuple) ([]string, error) {
	names := make([]string, 0, len(args))
	for i, a := range args {
		s, ok := starlark.AsString(a)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a recipe name, got %s", b.Name(), i+1, a.Type())
		}
		names = append(names, s)
	}
	return names, nil
}

// recipe("a", "b") queues recipes with their configuration as payload.
func (l *loader) builtinRecipe(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	names, err := unpackNames(b, args)
	if err != nil {
		return nil, err
	}
	if m := manifestOf(thread); m != nil {
		m.Recipe(names...)
	} else {
		l.class.Recipe(names...)
	}
	return starlark.None, nil
}

// recipe_with({"k": v}, "a", "b") queues recipes sharing the options.
func (l *loader) builtinRecipeWith(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing options", b.Name())
	}
	options, err := asMapping(b, args[0])
	if err != nil {
		return nil, err
	}
	names, err := unpackNames(b, args[1:])
	if err != nil {
		return nil, err
	}
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}

	if m := manifestOf(thread); m != nil {
		m.RecipeWithOptions(options, names...)
	} else {
		l.class.RecipeWithOptions(options, names...)
	}
	return starlark.None, nil
}

// configure({...}) or configure(key=value) deep-merges into the configuration.
func (l *loader) builtinConfigure(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	values := make(map[string]interface{})
	switch len(args) {
	case 0:
	case 1:
		m, err := asMapping(b, args[0])
		if err != nil {
			return nil, err
		}
		values = m
	default:
		return nil, fmt.Errorf("%s: takes at most one positional argument", b.Name())
	}
	for _, kv := range kwargs {
		v, err := fromStarlarkValue(kv[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		values[string(kv[0].(starlark.String))] = v
	}

	var result manifest.Configuration
	if m := manifestOf(thread); m != nil {
		result = m.Configure(values)
	} else {
		result = l.class.Configure(values)
	}
	return mapToDict(result)
}

// configuration() returns a copy of the configuration.
func (l *loader) builtinConfiguration(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if m := manifestOf(thread); m != nil {
		return mapToDict(m.Configuration())
	}
	return mapToDict(l.class.Configuration())
}

// types() lists the resource types of the engine.
func (l *loader) builtinTypes(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return toStarlarkValue(l.class.Types())
}

// reference("package", "nginx") returns a resource without declaring it.
func builtinReference(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var typ string
	var name starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &typ, &name); err != nil {
		return nil, err
	}
	m, err := requireManifest(thread, b)
	if err != nil {
		return nil, err
	}
	goName, err := fromStarlarkValue(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return &Resource{res: m.Reference(typ, manifest.Stringify(goName))}, nil
}

// declare("package", "nginx", ensure="installed") declares any engine type,
// including those whose names are not identifiers.
func builtinDeclare(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%s: expected type and name", b.Name())
	}
	typ, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("%s: type must be a string, got %s", b.Name(), args[0].Type())
	}
	return declareResource(thread, b, typ, args[1:], kwargs, true)
}

// typeBuiltin returns the builtin for one resource type. With only a name
// it returns a reference; with parameters, given as a dict or as keyword
// arguments, it declares the resource.
func typeBuiltin(typ string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return declareResource(thread, b, typ, args, kwargs, false)
	}
}

func declareResource(thread *starlark.Thread, b *starlark.Builtin, typ string, args starlark.Tuple, kwargs []starlark.Tuple, always bool) (starlark.Value, error) {
	m, err := requireManifest(thread, b)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: %w", b.Name(), manifest.ErrMissingResourceName)
	}
	if len(args) > 2 {
		return nil, fmt.Errorf("%s: takes a name and at most one dict of parameters", b.Name())
	}

	name, err := fromStarlarkValue(args[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	if len(args) == 1 && len(kwargs) == 0 && !always {
		res, err := m.Call(typ, name)
		if err != nil {
			return nil, err
		}
		return &Resource{res: res}, nil
	}

	params := make(manifest.Params)
	if len(args) == 2 {
		fromDict, err := asMapping(b, args[1])
		if err != nil {
			return nil, err
		}
		for k, v := range fromDict {
			params[k] = v
		}
	}
	fromKwargs, err := kwargsToParams(kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	for k, v := range fromKwargs {
		params[k] = v
	}

	res, err := m.Call(typ, name, params)
	if err != nil {
		return nil, err
	}
	return &Resource{res: res}, nil
}

func asMapping(b *starlark.Builtin, v starlark.Value) (map[string]interface{}, error) {
	goVal, err := fromStarlarkValue(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	m, ok := goVal.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: expected a dict, got %s", b.Name(), v.Type())
	}
	return m, nil
}
