package docstore

// ResolveFields materializes sentinel write values against the existing
// document, recursing into nested maps. The same stamp is shared by every
// server timestamp in one commit. Backends without native operator support
// (memory, sqlite) run writes through this before persisting.
func ResolveFields(fields map[string]any, existing map[string]any, stamp int64) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		var cur any
		if existing != nil {
			cur = existing[k]
		}
		out[k] = resolveValue(v, cur, stamp)
	}
	return out
}

func resolveValue(v, cur any, stamp int64) any {
	switch sv := v.(type) {
	case ArrayUnionValue:
		arr := AsStringSlice(cur)
		existing := make(map[string]bool, len(arr))
		result := make([]any, 0, len(arr)+len(sv.Values))
		for _, e := range arr {
			existing[e] = true
			result = append(result, e)
		}
		for _, add := range sv.Values {
			if s, ok := add.(string); ok && existing[s] {
				continue
			}
			result = append(result, add)
		}
		return result
	case ArrayRemoveValue:
		arr, _ := cur.([]any)
		if arr == nil {
			for _, s := range AsStringSlice(cur) {
				arr = append(arr, s)
			}
		}
		result := make([]any, 0, len(arr))
		for _, e := range arr {
			removed := false
			for _, rm := range sv.Values {
				if e == rm {
					removed = true
					break
				}
			}
			if !removed {
				result = append(result, e)
			}
		}
		return result
	case IncrementValue:
		return AsInt64(cur) + sv.By
	case map[string]any:
		return ResolveFields(sv, AsMap(cur), stamp)
	default:
		if v == ServerTimestamp {
			return stamp
		}
		return CopyValue(v)
	}
}

// CopyMap returns a deep copy of a document, so callers can hand snapshots
// out without aliasing stored state.
func CopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue deep-copies a single document value.
func CopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return CopyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = CopyValue(e)
		}
		return out
	case []string:
		out := make([]string, len(tv))
		copy(out, tv)
		return out
	default:
		return v
	}
}

// CompareValues orders two field values for listing: strings sort
// lexicographically, everything else numerically, nil first.
func CompareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		bv := AsString(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case nil:
		if b == nil {
			return 0
		}
		return -1
	default:
		ai, bi := AsInt64(a), AsInt64(b)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
}
