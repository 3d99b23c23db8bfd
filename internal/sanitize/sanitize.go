// Package sanitize is the boundary that strips markup from payload
// values before they cross into or out of the orchestration core.
package sanitize

import (
	"strings"

	kg "github.com/kennygrant/sanitize"
)

// String strips HTML tags and script content from a single value. The
// result carries no markup that could survive into a rendering layer.
func String(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(kg.HTML(s))
}

// Value walks a decoded JSON payload and sanitizes every string it
// contains, including map keys. Non-string leaves pass through
// unchanged.
func Value(v any) any {
	switch val := v.(type) {
	case string:
		return String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[String(k)] = Value(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Value(item)
		}
		return out
	default:
		return v
	}
}
