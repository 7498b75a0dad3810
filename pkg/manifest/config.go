package manifest

import (
	"fmt"
	"sort"
	"strconv"
)

// Configuration is a mapping whose keys are stored in canonical string form,
// so lookups by a string or by any other key type with the same textual
// representation resolve to the same entry. Nested mappings are stored as
// Configuration values.
type Configuration map[string]interface{}

// Key is a symbolic configuration key. It is interchangeable with the plain
// string of the same spelling.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

// CanonicalKey converts a key of any type into its canonical string form.
func CanonicalKey(key interface{}) string {
	switch k := key.(type) {
	case string:
		return k
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprint(k)
	}
}

// NewConfiguration normalises values into a Configuration. The input is
// copied; later changes to it are not observed.
func NewConfiguration(values map[string]interface{}) Configuration {
	out := make(Configuration, len(values))
	for k, v := range values {
		out[k] = normalizeValue(v)
	}
	return out
}

// normalizeValue deep-copies v, turning every mapping into a Configuration.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Configuration:
		out := make(Configuration, len(val))
		for k, x := range val {
			out[k] = normalizeValue(x)
		}
		return out
	case Params:
		return NewConfiguration(val)
	case map[string]interface{}:
		return NewConfiguration(val)
	case map[interface{}]interface{}:
		out := make(Configuration, len(val))
		for k, x := range val {
			out[CanonicalKey(k)] = normalizeValue(x)
		}
		return out
	case map[string]string:
		out := make(Configuration, len(val))
		for k, x := range val {
			out[k] = x
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, x := range val {
			out[i] = normalizeValue(x)
		}
		return out
	default:
		return v
	}
}

// deepMerge merges src into dst. Nested mappings present on both sides are
// merged recursively; every other value in src replaces the one in dst.
func deepMerge(dst, src Configuration) {
	for k, v := range src {
		if incoming, ok := v.(Configuration); ok {
			if existing, ok := dst[k].(Configuration); ok {
				deepMerge(existing, incoming)
				continue
			}
		}
		dst[k] = v
	}
}

// Merge returns a copy of c with values deep-merged into it.
func (c Configuration) Merge(values map[string]interface{}) Configuration {
	out := c.Clone()
	deepMerge(out, NewConfiguration(values))
	return out
}

// Clone returns a deep copy of the configuration.
func (c Configuration) Clone() Configuration {
	if c == nil {
		return Configuration{}
	}
	return normalizeValue(c).(Configuration)
}

// Lookup returns the value stored under key.
func (c Configuration) Lookup(key interface{}) (interface{}, bool) {
	v, ok := c[CanonicalKey(key)]
	return v, ok
}

// Get returns the value stored under key, or nil.
func (c Configuration) Get(key interface{}) interface{} {
	return c[CanonicalKey(key)]
}

// Has reports whether key is present.
func (c Configuration) Has(key interface{}) bool {
	_, ok := c.Lookup(key)
	return ok
}

// GetString returns the value under key in string form, or "" when absent.
func (c Configuration) GetString(key interface{}) string {
	v, ok := c.Lookup(key)
	if !ok {
		return ""
	}
	return Stringify(v)
}

// GetInt returns the value under key as an int.
func (c Configuration) GetInt(key interface{}) (int, bool) {
	switch v := c.Get(key).(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// GetBool returns the value under key as a bool. Strings are parsed with
// strconv.ParseBool; anything else is false.
func (c Configuration) GetBool(key interface{}) bool {
	switch v := c.Get(key).(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// GetMap returns the nested mapping under key, or an empty Configuration.
func (c Configuration) GetMap(key interface{}) Configuration {
	if v, ok := c.Get(key).(Configuration); ok {
		return v
	}
	return Configuration{}
}

// Keys returns the keys in sorted order.
func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToMap converts the configuration into plain nested map[string]interface{}
// values, for encoders that do not know about Configuration.
func (c Configuration) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(c))
	for k, v := range c {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Configuration:
		return val.ToMap()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, x := range val {
			out[i] = plainValue(x)
		}
		return out
	default:
		return v
	}
}
