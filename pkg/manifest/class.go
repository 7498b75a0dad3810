package manifest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/manifests/pkg/catalog"
)

// DefaultExecutionTypes are the resource types that receive the process
// search path as their path parameter.
var DefaultExecutionTypes = []string{"exec"}

// Class is a manifest type descriptor. It owns the configuration store, the
// recipe queue and the recipe methods of the manifests it instantiates.
//
// Subclasses are seeded with copies of their parent's configuration and
// recipe queue when declared, so later changes to the parent do not reach
// an existing subclass. Recipe methods are looked up through the parent
// chain. The base class additionally owns the catalog engine and the
// dispatch table shared by every subclass.
type Class struct {
	name   string
	parent *Class
	rt     *shared

	mu      sync.RWMutex
	config  Configuration
	recipes []RecipeEntry
	methods map[string]Recipe
}

// shared is held by a base class and all of its subclasses.
type shared struct {
	mu        sync.RWMutex
	engine    catalog.Engine
	dispatch  *DispatchTable
	execTypes map[string]bool
	logger    zerolog.Logger
}

// BaseOption configures a base class.
type BaseOption func(*shared)

// WithExecutionTypes replaces the set of execution-style resource types.
func WithExecutionTypes(types ...string) BaseOption {
	return func(rt *shared) {
		rt.execTypes = make(map[string]bool, len(types))
		for _, t := range types {
			rt.execTypes[t] = true
		}
	}
}

// WithBaseLogger sets the logger inherited by manifests of every class
// derived from the base.
func WithBaseLogger(logger zerolog.Logger) BaseOption {
	return func(rt *shared) {
		rt.logger = logger
	}
}

// NewBase creates a base class bound to a catalog engine. The engine is
// queried once for its resource types, which become the dispatch table. A
// nil engine yields a base with no resource types that cannot apply.
func NewBase(ctx context.Context, name string, engine catalog.Engine, opts ...BaseOption) (*Class, error) {
	rt := &shared{
		engine: engine,
		logger: zerolog.Nop(),
	}
	WithExecutionTypes(DefaultExecutionTypes...)(rt)
	for _, opt := range opts {
		opt(rt)
	}

	c := &Class{
		name:    name,
		rt:      rt,
		config:  Configuration{},
		methods: make(map[string]Recipe),
	}
	if err := c.ReloadTypes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ReloadTypes queries the engine for its resource types and rebuilds the
// dispatch table shared by the whole class hierarchy.
func (c *Class) ReloadTypes(ctx context.Context) error {
	c.rt.mu.Lock()
	defer c.rt.mu.Unlock()

	if c.rt.engine == nil {
		c.rt.dispatch = NewDispatchTable(nil)
		return nil
	}

	types, err := c.rt.engine.Types(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover resource types: %w", err)
	}
	c.rt.dispatch = NewDispatchTable(types)
	c.rt.logger.Debug().
		Str("class", c.name).
		Int("types", len(types)).
		Msg("Resource types loaded")
	return nil
}

// Subclass declares a new class derived from c.
func (c *Class) Subclass(name string) *Class {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Class{
		name:    name,
		parent:  c,
		rt:      c.rt,
		config:  c.config.Clone(),
		recipes: cloneEntries(c.recipes),
		methods: make(map[string]Recipe),
	}
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Parent returns the parent class, or nil for a base class.
func (c *Class) Parent() *Class { return c.parent }

// Engine returns the catalog engine of the class hierarchy.
func (c *Class) Engine() catalog.Engine {
	c.rt.mu.RLock()
	defer c.rt.mu.RUnlock()
	return c.rt.engine
}

// Types returns the resource types callable on manifests of this class.
func (c *Class) Types() []string {
	return c.dispatchTable().Types()
}

func (c *Class) dispatchTable() *DispatchTable {
	c.rt.mu.RLock()
	defer c.rt.mu.RUnlock()
	return c.rt.dispatch
}

// Configure deep-merges values into the class configuration and returns a
// copy of the result.
func (c *Class) Configure(values map[string]interface{}) Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	deepMerge(c.config, NewConfiguration(values))
	return c.config.Clone()
}

// Configuration returns a copy of the class configuration.
func (c *Class) Configuration() Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Clone()
}

// Recipe queues the named recipes. Each receives configuration[name] as its
// payload, or an empty mapping when there is none.
func (c *Class) Recipe(names ...string) {
	c.RecipeWithOptions(nil, names...)
}

// RecipeWithOptions queues the named recipes, each receiving its own copy of
// options. Empty options behave like Recipe.
func (c *Class) RecipeWithOptions(options map[string]interface{}, names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range names {
		var args Args
		switch v, ok := c.config.Lookup(name); {
		case len(options) > 0:
			args = NewArgs(NewConfiguration(options))
		case ok:
			args = NewArgs(v)
		default:
			args = NewArgs(Configuration{})
		}
		c.recipes = append(c.recipes, RecipeEntry{Name: name, Args: args})
	}
}

// Recipes returns a copy of the recipe queue.
func (c *Class) Recipes() []RecipeEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneEntries(c.recipes)
}

// cloneEntries copies a recipe queue so no payload map is shared.
func cloneEntries(entries []RecipeEntry) []RecipeEntry {
	out := make([]RecipeEntry, len(entries))
	for i, e := range entries {
		e.Args = e.Args.Clone()
		out[i] = e
	}
	return out
}

func (c *Class) recipeAt(i int) (RecipeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i >= len(c.recipes) {
		return RecipeEntry{}, false
	}
	e := c.recipes[i]
	e.Args = e.Args.Clone()
	return e, true
}

// Define installs a recipe method on the class.
func (c *Class) Define(name string, recipe Recipe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[name] = recipe
}

// Include installs every recipe of a module on the class.
func (c *Class) Include(module Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, recipe := range module {
		c.methods[name] = recipe
	}
}

// method looks name up on c and its ancestors.
func (c *Class) method(name string) (Recipe, bool) {
	for cls := c; cls != nil; cls = cls.parent {
		cls.mu.RLock()
		r, ok := cls.methods[name]
		cls.mu.RUnlock()
		if ok {
			return r, true
		}
	}
	return nil, false
}

// resolve finds the callable for a queued recipe name: a defined method
// first, then a resource type.
func (c *Class) resolve(name string) (Recipe, bool) {
	if r, ok := c.method(name); ok {
		return r, true
	}
	if fn, ok := c.dispatchTable().Lookup(name); ok {
		return dispatchRecipe{typ: name, fn: fn}, true
	}
	return nil, false
}

// Responds reports whether name resolves to a recipe method or resource type.
func (c *Class) Responds(name string) bool {
	_, ok := c.resolve(name)
	return ok
}
