package manifest

// Args is the payload captured for a queued recipe: either the options given
// when the recipe was queued, the configuration entry named after the recipe,
// or an empty mapping.
type Args struct {
	value interface{}
}

// NewArgs captures a deep copy of value.
func NewArgs(value interface{}) Args {
	if value == nil {
		return Args{value: Configuration{}}
	}
	return Args{value: normalizeValue(value)}
}

// Clone returns a deep copy of the payload.
func (a Args) Clone() Args {
	return NewArgs(a.value)
}

// Value returns the raw payload. Mappings are returned as Configuration.
func (a Args) Value() interface{} {
	if a.value == nil {
		return Configuration{}
	}
	return a.value
}

// IsMapping reports whether the payload is a mapping.
func (a Args) IsMapping() bool {
	_, ok := a.Value().(Configuration)
	return ok
}

// Options returns the payload as a mapping. Scalar payloads yield an empty
// Configuration.
func (a Args) Options() Configuration {
	if c, ok := a.value.(Configuration); ok {
		return c
	}
	return Configuration{}
}

// Get returns an option by key.
func (a Args) Get(key interface{}) interface{} {
	return a.Options().Get(key)
}

// GetString returns an option by key in string form.
func (a Args) GetString(key interface{}) string {
	return a.Options().GetString(key)
}

// String renders the payload the way resource parameters are rendered.
func (a Args) String() string {
	return Stringify(a.Value())
}
