package catalog

import (
	"regexp"
	"strings"
)

// ReferencePattern matches a Type[name] reference anywhere in a value.
var ReferencePattern = regexp.MustCompile(`\w+\[[^\[\]]+\]`)

var referenceParts = regexp.MustCompile(`(\w+(?:::\w+)*)\[([^\[\]]+)\]`)

// Dependency parameter names recognised by engines.
const (
	ParamRequire   = "require"
	ParamBefore    = "before"
	ParamSubscribe = "subscribe"
	ParamNotify    = "notify"
)

// Ref identifies a resource by type and name.
type Ref struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// String returns the Type[name] form of the reference.
func (r Ref) String() string {
	return FormatReference(r.Type, r.Name)
}

// FormatReference renders a reference with each type segment capitalised,
// so ("package", "nginx") becomes Package[nginx].
func FormatReference(typ, name string) string {
	segments := strings.Split(typ, "::")
	for i, s := range segments {
		if s == "" {
			continue
		}
		segments[i] = strings.ToUpper(s[:1]) + s[1:]
	}
	return strings.Join(segments, "::") + "[" + name + "]"
}

// IsReference reports whether value contains at least one Type[name] reference.
func IsReference(value string) bool {
	return ReferencePattern.MatchString(value)
}

// ParseReferences extracts every reference contained in value. Type names are
// lowercased so they compare equal to resource type identifiers.
func ParseReferences(value string) []Ref {
	matches := referenceParts.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Ref{
			Type: strings.ToLower(m[1]),
			Name: strings.TrimSpace(m[2]),
		})
	}
	return refs
}
