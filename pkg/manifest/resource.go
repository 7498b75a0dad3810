package manifest

import (
	"github.com/openfroyo/manifests/pkg/catalog"
)

// ParamPath is the search path parameter injected into execution-style resources.
const ParamPath = "path"

// Params are resource parameters supplied at declaration time.
type Params map[string]interface{}

// ResourceKey identifies a resource within one manifest instance.
type ResourceKey struct {
	Type string
	Name string
}

// String returns the Type[name] form of the key.
func (k ResourceKey) String() string {
	return catalog.FormatReference(k.Type, k.Name)
}

// Resource is a unit of declarative intent collected by a manifest. A
// resource is either a full declaration or a bare reference that only exists
// to be used as a dependency target. References are promoted when the same
// key is declared; declarations are never demoted.
type Resource struct {
	key      ResourceKey
	owner    *Manifest
	source   string
	declared bool

	order  []string
	values map[string]string
}

func newResource(owner *Manifest, key ResourceKey) *Resource {
	return &Resource{
		key:    key,
		owner:  owner,
		values: make(map[string]string),
	}
}

// Type returns the resource type identifier.
func (r *Resource) Type() string { return r.key.Type }

// Name returns the resource name.
func (r *Resource) Name() string { return r.key.Name }

// Key returns the (type, name) key.
func (r *Resource) Key() ResourceKey { return r.key }

// Manifest returns the manifest instance that owns the resource.
func (r *Resource) Manifest() *Manifest { return r.owner }

// Source returns the name of the declaring manifest, or "" for references.
func (r *Resource) Source() string { return r.source }

// IsDeclared reports whether the resource is a full declaration.
func (r *Resource) IsDeclared() bool { return r.declared }

// IsReference reports whether the resource is a bare reference.
func (r *Resource) IsReference() bool { return !r.declared }

// Param returns a parameter value.
func (r *Resource) Param(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Path returns the injected search path of an execution-style resource.
func (r *Resource) Path() string {
	return r.values[ParamPath]
}

// Params returns the parameters in the order they were first set.
func (r *Resource) Params() []catalog.Parameter {
	params := make([]catalog.Parameter, 0, len(r.order))
	for _, name := range r.order {
		params = append(params, catalog.Parameter{Name: name, Value: r.values[name]})
	}
	return params
}

// String returns the reference form of the resource, e.g. Package[nginx].
// It is the value stored when a resource is used as a dependency.
func (r *Resource) String() string {
	return r.key.String()
}

// Descriptor converts the resource into its submission form.
func (r *Resource) Descriptor() catalog.Resource {
	return catalog.Resource{
		Type:       r.key.Type,
		Name:       r.key.Name,
		Declared:   r.declared,
		Source:     r.source,
		Parameters: r.Params(),
	}
}

func (r *Resource) setParam(name, value string) {
	if _, ok := r.values[name]; !ok {
		r.order = append(r.order, name)
	}
	r.values[name] = value
}
