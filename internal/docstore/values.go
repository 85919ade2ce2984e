package docstore

// Tolerant accessors for decoded document fields. Backends differ in the
// concrete numeric and slice types they hand back (sqlite JSON decodes
// numbers as float64, mongo as int32/int64), so domain mapping goes through
// these.

// AsString returns v as a string, or "" when absent or mistyped.
func AsString(v any) string {
	s, _ := v.(string)
	return s
}

// AsBool returns v as a bool, or false when absent or mistyped.
func AsBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// AsInt64 returns v as an int64, accepting the numeric types backends decode to.
func AsInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

// AsStringSlice returns v as a []string, tolerating []any elements.
func AsStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		out := make([]string, len(s))
		copy(out, s)
		return out
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// AsMap returns v as a nested document, or nil.
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
