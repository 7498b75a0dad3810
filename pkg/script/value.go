package script

import (
	"go.starlark.net/starlark"

	"github.com/openfroyo/manifests/pkg/manifest"
)

// Resource is the Starlark view of a manifest resource. Passing one as a
// parameter value renders it as Type[name], so it can be used directly in
// require, before, subscribe and notify.
type Resource struct {
	res *manifest.Resource
}

var (
	_ starlark.Value    = (*Resource)(nil)
	_ starlark.HasAttrs = (*Resource)(nil)
)

// String returns the Type[name] reference.
func (r *Resource) String() string { return r.res.String() }

// Type implements starlark.Value.
func (r *Resource) Type() string { return "resource" }

// Freeze implements starlark.Value. The resource graph is owned by the
// manifest, not the script.
func (r *Resource) Freeze() {}

// Truth implements starlark.Value.
func (r *Resource) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (r *Resource) Hash() (uint32, error) {
	return starlark.String(r.res.String()).Hash()
}

// Attr implements starlark.HasAttrs.
func (r *Resource) Attr(name string) (starlark.Value, error) {
	switch name {
	case "type":
		return starlark.String(r.res.Type()), nil
	case "name":
		return starlark.String(r.res.Name()), nil
	case "declared":
		return starlark.Bool(r.res.IsDeclared()), nil
	case "ref":
		return starlark.String(r.res.String()), nil
	case "param":
		return starlark.NewBuiltin("param", r.param), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (r *Resource) AttrNames() []string {
	return []string{"declared", "name", "param", "ref", "type"}
}

func (r *Resource) param(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	if v, ok := r.res.Param(name); ok {
		return starlark.String(v), nil
	}
	return starlark.None, nil
}

// Unwrap returns the underlying resource.
func (r *Resource) Unwrap() *manifest.Resource { return r.res }
