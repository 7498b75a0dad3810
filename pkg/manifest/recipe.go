package manifest

import "fmt"

// Recipe is a unit of provisioning logic that can be queued on a class.
// The two implementations, Func and OptionsFunc, decide whether the recipe
// receives the queued payload.
type Recipe interface {
	invoke(m *Manifest, args Args) error
}

// Func is a recipe that takes no options.
type Func func(m *Manifest) error

func (f Func) invoke(m *Manifest, _ Args) error { return f(m) }

// OptionsFunc is a recipe that receives the payload captured when it was
// queued.
type OptionsFunc func(m *Manifest, args Args) error

func (f OptionsFunc) invoke(m *Manifest, args Args) error { return f(m, args) }

// Module is a named set of recipes that can be included into a class.
type Module map[string]Recipe

// RecipeEntry is a queued recipe invocation.
type RecipeEntry struct {
	// Name is the recipe to invoke.
	Name string

	// Args is the payload passed to OptionsFunc recipes.
	Args Args
}

// dispatchRecipe lets a resource type be queued as a recipe. A scalar
// payload becomes a reference; a mapping payload must carry the resource
// name under "name" and declares the resource with the remaining options.
type dispatchRecipe struct {
	typ string
	fn  TypeFunc
}

func (d dispatchRecipe) invoke(m *Manifest, args Args) error {
	if !args.IsMapping() {
		_, err := d.fn(m, args.Value())
		return err
	}
	opts := args.Options().Clone()
	name, ok := opts.Lookup("name")
	if !ok {
		return fmt.Errorf("resource type %s queued as a recipe without a name: %w", d.typ, ErrMissingResourceName)
	}
	delete(opts, "name")
	_, err := d.fn(m, name, Params(opts))
	return err
}
