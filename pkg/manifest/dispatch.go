package manifest

import (
	"fmt"
	"sort"
)

// TypeFunc declares or references a resource of one type. Called with a
// single argument it returns a reference; otherwise the first argument is
// the resource name and a trailing mapping holds the parameters.
type TypeFunc func(m *Manifest, args ...interface{}) (*Resource, error)

// DispatchTable maps resource type identifiers to their TypeFunc.
type DispatchTable struct {
	funcs map[string]TypeFunc
	types []string
}

// NewDispatchTable builds a table with one TypeFunc per type.
func NewDispatchTable(types []string) *DispatchTable {
	d := &DispatchTable{
		funcs: make(map[string]TypeFunc, len(types)),
		types: make([]string, 0, len(types)),
	}
	for _, typ := range types {
		if typ == "" {
			continue
		}
		if _, dup := d.funcs[typ]; dup {
			continue
		}
		d.funcs[typ] = newTypeFunc(typ)
		d.types = append(d.types, typ)
	}
	sort.Strings(d.types)
	return d
}

// Lookup returns the TypeFunc for typ.
func (d *DispatchTable) Lookup(typ string) (TypeFunc, bool) {
	if d == nil {
		return nil, false
	}
	fn, ok := d.funcs[typ]
	return fn, ok
}

// Types returns the registered type identifiers in sorted order.
func (d *DispatchTable) Types() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.types))
	copy(out, d.types)
	return out
}

func newTypeFunc(typ string) TypeFunc {
	return func(m *Manifest, args ...interface{}) (*Resource, error) {
		switch len(args) {
		case 0:
			return nil, fmt.Errorf("%s: %w", typ, ErrMissingResourceName)
		case 1:
			return m.Reference(typ, Stringify(args[0])), nil
		}

		name := Stringify(args[0])
		var params Params
		if p, ok := asParams(args[len(args)-1]); ok {
			params = p
		}
		return m.Declare(typ, name, params), nil
	}
}

func asParams(v interface{}) (Params, bool) {
	switch val := v.(type) {
	case Params:
		return val, true
	case map[string]interface{}:
		return Params(val), true
	case Configuration:
		return Params(val), true
	case map[string]string:
		p := make(Params, len(val))
		for k, x := range val {
			p[k] = x
		}
		return p, true
	default:
		return nil, false
	}
}
