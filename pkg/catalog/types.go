package catalog

// BucketTypeClass is the bucket type used for manifest submissions.
const BucketTypeClass = "class"

// Bucket is a named, ordered collection of resource descriptors submitted
// to an Engine for compilation.
type Bucket struct {
	// Name identifies the submitting manifest instance.
	Name string `json:"name"`

	// Type is the bucket kind, always BucketTypeClass for manifests.
	Type string `json:"type"`

	// Resources are the descriptors in submission order.
	Resources []Resource `json:"resources"`
}

// Len returns the number of resources in the bucket.
func (b *Bucket) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Resources)
}

// Resource describes a single unit of declarative intent.
type Resource struct {
	// Type is the resource type identifier (e.g., "package", "exec").
	Type string `json:"type"`

	// Name is the resource title, unique per type within a bucket.
	Name string `json:"name"`

	// Declared is false for bare references that only exist as dependency targets.
	Declared bool `json:"declared"`

	// Source names the manifest that declared the resource.
	Source string `json:"source,omitempty"`

	// Parameters are the stringified parameters in the order they were first set.
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Parameter is a single resource parameter.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Key returns the (type, name) key of the resource.
func (r *Resource) Key() Ref {
	return Ref{Type: r.Type, Name: r.Name}
}

// Param returns the named parameter value.
func (r *Resource) Param(name string) (string, bool) {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// ParamMap returns the parameters as a map.
func (r *Resource) ParamMap() map[string]string {
	out := make(map[string]string, len(r.Parameters))
	for _, p := range r.Parameters {
		out[p.Name] = p.Value
	}
	return out
}

// String returns the reference form of the resource, e.g. Package[nginx].
func (r *Resource) String() string {
	return FormatReference(r.Type, r.Name)
}
