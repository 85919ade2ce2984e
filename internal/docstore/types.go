package docstore

// Doc is a snapshot of a single document.
type Doc struct {
	Path   string
	ID     string
	Data   map[string]any
	Exists bool
}

// Query bounds and orders a collection listing.
type Query struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// Change notifies a watcher that the document at Path was written. Observers
// re-read their scope on every change and treat the result as a full
// replacement of their view, not a patch.
type Change struct {
	Path string
}

// serverTimestamp is the sentinel resolved to the store clock at commit time.
type serverTimestamp struct{}

// ServerTimestamp marks a field to be stamped with the store's server clock
// when the write commits.
var ServerTimestamp = serverTimestamp{}

// ArrayUnionValue appends values to an array field, skipping duplicates.
type ArrayUnionValue struct {
	Values []any
}

// ArrayUnion returns a sentinel that adds the values to an array field.
func ArrayUnion(values ...any) ArrayUnionValue {
	return ArrayUnionValue{Values: values}
}

// ArrayRemoveValue removes values from an array field.
type ArrayRemoveValue struct {
	Values []any
}

// ArrayRemove returns a sentinel that removes the values from an array field.
func ArrayRemove(values ...any) ArrayRemoveValue {
	return ArrayRemoveValue{Values: values}
}

// IncrementValue atomically adds By to a numeric field, treating a missing
// field as zero.
type IncrementValue struct {
	By int64
}

// Increment returns a sentinel that adds n to a numeric field.
func Increment(n int64) IncrementValue {
	return IncrementValue{By: n}
}
