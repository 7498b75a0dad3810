package manifest

import (
	"fmt"
	"strconv"
	"strings"
)

// Stringify renders a parameter value the way it is stored on a resource.
// Resources render as references (Package[nginx]), slices as [a, b] and
// nil as the empty string.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case *Resource:
		if val == nil {
			return ""
		}
		return val.String()
	case fmt.Stringer:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case []*Resource:
		parts := make([]string, len(val))
		for i, r := range val {
			parts[i] = Stringify(r)
		}
		return joinList(parts)
	case []string:
		return joinList(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, x := range val {
			parts[i] = Stringify(x)
		}
		return joinList(parts)
	default:
		return fmt.Sprint(val)
	}
}

func joinList(parts []string) string {
	return "[" + strings.Join(parts, ", ") + "]"
}
