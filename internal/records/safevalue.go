package records

import (
	"encoding/json"
	"fmt"
)

const (
	maxDepth     = 4
	maxStringLen = 2000
	maxArrayLen  = 50
)

// SafeValue bounds a value for persistence: strings are truncated, arrays
// capped, nesting depth limited. Values are normalized through their JSON
// shape first, so struct fields survive as maps.
func SafeValue(value any) any {
	if value == nil {
		return nil
	}
	// Normalize typed values (records, result structs) into generic JSON
	// shapes before bounding them.
	switch value.(type) {
	case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64, []any, map[string]any:
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return truncate(fmt.Sprintf("%v", value), 500)
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return truncate(string(data), maxStringLen)
		}
		value = generic
	}
	return safeValue(value, 0)
}

func safeValue(value any, depth int) any {
	if depth > maxDepth {
		return "[depth-limit]"
	}

	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return truncate(v, maxStringLen)
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return v
	case []any:
		if len(v) > maxArrayLen {
			v = v[:maxArrayLen]
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = safeValue(item, depth+1)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = safeValue(item, depth+1)
		}
		return out
	default:
		// Structs and other types round-trip through fmt for a bounded string.
		return truncate(fmt.Sprintf("%v", v), 500)
	}
}

func safeSlice(items []any) []any {
	if items == nil {
		return []any{}
	}
	if len(items) > maxArrayLen {
		items = items[:maxArrayLen]
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = safeValue(item, 1)
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "…"
	}
	return s
}
