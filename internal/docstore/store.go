// Package docstore defines the contract to the remote document store: a tree
// of collections and documents addressed by slash-separated paths, atomic
// single-document writes, all-or-nothing batch writes, and push-based change
// subscriptions. The persisted layout is fixed for interop:
//
//	users/{uid}                          profile
//	users/{uid}/conversations/{cid}      per-user membership record
//	conversations/{cid}                  conversation metadata
//	conversations/{cid}/messages/{mid}   ordered message log
package docstore

import "context"

// Store is a document store backend.
//
// Server timestamps are assigned from the store's clock, never the caller's,
// and are monotonically non-decreasing per store; equal stamps sort by
// insertion order.
type Store interface {
	// Get returns the document at path. A missing document is not an error:
	// the returned Doc has Exists == false.
	Get(ctx context.Context, path string) (Doc, error)

	// Create writes a new document, failing with ErrAlreadyExists when one
	// is present. This is the conditional write that makes lookup-before-
	// create flows idempotent under racing clients.
	Create(ctx context.Context, path string, data map[string]any) error

	// Set writes the full document, replacing any existing content.
	Set(ctx context.Context, path string, data map[string]any) error

	// Merge updates the given fields on an existing document, failing with
	// ErrNotFound when it does not exist. Values may be sentinel writes
	// (ServerTimestamp, ArrayUnion, ArrayRemove, Increment).
	Merge(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the document at path. Deleting a missing document is a
	// no-op.
	Delete(ctx context.Context, path string) error

	// List returns the documents of a collection, ordered and bounded per
	// the query.
	List(ctx context.Context, collection string, q Query) ([]Doc, error)

	// Batch starts an all-or-nothing multi-document write. There is no
	// cross-batch isolation.
	Batch() Batch

	// Watch subscribes to change notifications for a scope: either a single
	// document path or a collection path (matching its immediate documents).
	// The returned teardown must be called when the owning view is
	// discarded, or the subscription leaks.
	Watch(scope string, bufSize int) (<-chan Change, func())

	// Now returns the store's current server clock in unix milliseconds.
	Now() int64

	// Close releases the backend connection.
	Close(ctx context.Context) error
}

// Batch accumulates writes that commit atomically.
type Batch interface {
	Create(path string, data map[string]any)
	Set(path string, data map[string]any)
	Merge(path string, fields map[string]any)
	Commit(ctx context.Context) error
}
