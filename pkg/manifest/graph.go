package manifest

import (
	"os"
	"sort"

	"github.com/openfroyo/manifests/pkg/catalog"
)

// Graph holds the resources of one manifest instance indexed by type and
// name. It holds at most one resource per key.
type Graph struct {
	owner     *Manifest
	byKey     map[ResourceKey]*Resource
	order     []*Resource
	execTypes map[string]bool
}

func newGraph(owner *Manifest, execTypes map[string]bool) *Graph {
	return &Graph{
		owner:     owner,
		byKey:     make(map[ResourceKey]*Resource),
		execTypes: execTypes,
	}
}

// Reference returns the resource stored under (typ, name), creating a bare
// reference when there is none.
func (g *Graph) Reference(typ, name string) *Resource {
	key := ResourceKey{Type: typ, Name: name}
	if r, ok := g.byKey[key]; ok {
		return r
	}
	r := newResource(g.owner, key)
	g.store(r)
	return r
}

// Declare returns the resource stored under (typ, name) with params merged
// into it. A missing resource is created as a full declaration; an existing
// bare reference is promoted and keeps any parameters it already carries.
func (g *Graph) Declare(typ, name string, params Params) *Resource {
	key := ResourceKey{Type: typ, Name: name}
	r, ok := g.byKey[key]
	if !ok {
		r = newResource(g.owner, key)
		g.store(r)
	}

	if !r.declared {
		r.declared = true
		if g.owner != nil {
			r.source = g.owner.Name()
		}
	}

	if g.execTypes[typ] {
		if _, set := r.values[ParamPath]; !set {
			r.setParam(ParamPath, os.Getenv("PATH"))
		}
	}

	applyParams(r, params)
	return r
}

// Get returns the resource stored under (typ, name).
func (g *Graph) Get(typ, name string) (*Resource, bool) {
	r, ok := g.byKey[ResourceKey{Type: typ, Name: name}]
	return r, ok
}

// Len returns the number of stored resources, references included.
func (g *Graph) Len() int {
	return len(g.order)
}

// FlatResources returns every stored resource, references included, in the
// order they were first created.
func (g *Graph) FlatResources() []*Resource {
	out := make([]*Resource, len(g.order))
	copy(out, g.order)
	return out
}

// Counts returns the number of declarations and bare references.
func (g *Graph) Counts() (declared, references int) {
	for _, r := range g.order {
		if r.declared {
			declared++
		} else {
			references++
		}
	}
	return declared, references
}

func (g *Graph) store(r *Resource) {
	g.byKey[r.key] = r
	g.order = append(g.order, r)
}

// applyParams stringifies and sets params in sorted name order. Dependency
// parameters whose value is not a Type[name] reference are dropped.
func applyParams(r *Resource, params Params) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := Stringify(params[name])
		if isDependencyParam(name) && !catalog.IsReference(value) {
			continue
		}
		r.setParam(name, value)
	}
}

func isDependencyParam(name string) bool {
	return name == catalog.ParamRequire || name == catalog.ParamBefore
}
