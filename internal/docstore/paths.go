package docstore

import (
	"fmt"
	"strings"
)

// Paths alternate collection and document segments: an even number of
// segments addresses a document, an odd number a collection.

// IsDocPath reports whether path addresses a document.
func IsDocPath(path string) bool {
	n := len(strings.Split(path, "/"))
	return n > 0 && n%2 == 0
}

// ValidateDocPath rejects empty or malformed document paths.
func ValidateDocPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty document path", ErrInvalidArgument)
	}
	segs := strings.Split(path, "/")
	if len(segs)%2 != 0 {
		return fmt.Errorf("%w: %q is not a document path", ErrInvalidArgument, path)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidArgument, path)
		}
	}
	return nil
}

// ValidateCollectionPath rejects empty or malformed collection paths.
func ValidateCollectionPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty collection path", ErrInvalidArgument)
	}
	segs := strings.Split(path, "/")
	if len(segs)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidArgument, path)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidArgument, path)
		}
	}
	return nil
}

// Parent returns the collection path holding the document at path.
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// LeafID returns the final path segment.
func LeafID(path string) string {
	i := strings.LastIndex(path, "/")
	return path[i+1:]
}

// InScope reports whether a change to the document at docPath is visible to
// a watcher of scope. A scope matches the exact document or, when it is a
// collection path, that collection's immediate documents.
func InScope(scope, docPath string) bool {
	return docPath == scope || Parent(docPath) == scope
}
