// Package memstore is an in-memory document store backend. It backs tests
// and the embedded deployment mode, and defines the reference semantics the
// other backends follow: monotonic server stamps, insertion-order tie-breaks
// and all-or-nothing batches.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/docstore"
)

type record struct {
	data map[string]any
	seq  int64
}

// Memory implements docstore.Store over process memory.
type Memory struct {
	*docstore.Notifier

	mu      sync.RWMutex
	docs    map[string]*record
	nextSeq int64

	clockMu sync.Mutex
	last    int64
}

var _ docstore.Store = (*Memory)(nil)

// New creates an empty store fanning change events out on b.
func New(b *bus.Bus) *Memory {
	return &Memory{
		Notifier: docstore.NewNotifier(b),
		docs:     make(map[string]*record),
	}
}

// Now returns the store clock in unix milliseconds, never going backwards.
func (m *Memory) Now() int64 {
	m.clockMu.Lock()
	defer m.clockMu.Unlock()
	now := time.Now().UnixMilli()
	if now < m.last {
		now = m.last
	}
	m.last = now
	return now
}

func (m *Memory) Get(_ context.Context, path string) (docstore.Doc, error) {
	if err := docstore.ValidateDocPath(path); err != nil {
		return docstore.Doc{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.docs[path]
	if !ok {
		return docstore.Doc{Path: path, ID: docstore.LeafID(path)}, nil
	}
	return docstore.Doc{
		Path:   path,
		ID:     docstore.LeafID(path),
		Data:   docstore.CopyMap(rec.data),
		Exists: true,
	}, nil
}

func (m *Memory) Create(ctx context.Context, path string, data map[string]any) error {
	b := m.Batch()
	b.Create(path, data)
	return b.Commit(ctx)
}

func (m *Memory) Set(ctx context.Context, path string, data map[string]any) error {
	b := m.Batch()
	b.Set(path, data)
	return b.Commit(ctx)
}

func (m *Memory) Merge(ctx context.Context, path string, fields map[string]any) error {
	b := m.Batch()
	b.Merge(path, fields)
	return b.Commit(ctx)
}

func (m *Memory) Delete(_ context.Context, path string) error {
	if err := docstore.ValidateDocPath(path); err != nil {
		return err
	}
	m.mu.Lock()
	_, existed := m.docs[path]
	delete(m.docs, path)
	m.mu.Unlock()
	if existed {
		m.Notify(path)
	}
	return nil
}

func (m *Memory) List(_ context.Context, collection string, q docstore.Query) ([]docstore.Doc, error) {
	if err := docstore.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	type entry struct {
		doc docstore.Doc
		seq int64
	}
	var entries []entry
	for path, rec := range m.docs {
		if docstore.Parent(path) != collection {
			continue
		}
		entries = append(entries, entry{
			doc: docstore.Doc{
				Path:   path,
				ID:     docstore.LeafID(path),
				Data:   docstore.CopyMap(rec.data),
				Exists: true,
			},
			seq: rec.seq,
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if q.OrderBy != "" {
			c := docstore.CompareValues(entries[i].doc.Data[q.OrderBy], entries[j].doc.Data[q.OrderBy])
			if c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		// Ties resolve by insertion order at the store.
		if q.Descending && q.OrderBy != "" {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].seq < entries[j].seq
	})

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	docs := make([]docstore.Doc, len(entries))
	for i, e := range entries {
		docs[i] = e.doc
	}
	return docs, nil
}

func (m *Memory) Close(context.Context) error { return nil }

type opKind int

const (
	opCreate opKind = iota
	opSet
	opMerge
)

type stagedOp struct {
	kind   opKind
	path   string
	fields map[string]any
}

type batch struct {
	store *Memory
	ops   []stagedOp
}

// Batch starts an all-or-nothing write applied under one lock acquisition.
func (m *Memory) Batch() docstore.Batch {
	return &batch{store: m}
}

func (b *batch) Create(path string, data map[string]any) {
	b.ops = append(b.ops, stagedOp{kind: opCreate, path: path, fields: data})
}

func (b *batch) Set(path string, data map[string]any) {
	b.ops = append(b.ops, stagedOp{kind: opSet, path: path, fields: data})
}

func (b *batch) Merge(path string, fields map[string]any) {
	b.ops = append(b.ops, stagedOp{kind: opMerge, path: path, fields: fields})
}

func (b *batch) Commit(context.Context) error {
	for _, op := range b.ops {
		if err := docstore.ValidateDocPath(op.path); err != nil {
			return err
		}
	}

	stamp := b.store.Now()
	m := b.store
	m.mu.Lock()

	// Validate the whole batch before mutating anything.
	for _, op := range b.ops {
		switch op.kind {
		case opCreate:
			if _, ok := m.docs[op.path]; ok {
				m.mu.Unlock()
				return fmt.Errorf("create %q: %w", op.path, docstore.ErrAlreadyExists)
			}
		case opMerge:
			if _, ok := m.docs[op.path]; !ok {
				m.mu.Unlock()
				return fmt.Errorf("merge %q: %w", op.path, docstore.ErrNotFound)
			}
		}
	}

	changed := make([]string, 0, len(b.ops))
	for _, op := range b.ops {
		switch op.kind {
		case opCreate, opSet:
			m.nextSeq++
			m.docs[op.path] = &record{
				data: docstore.ResolveFields(op.fields, nil, stamp),
				seq:  m.nextSeq,
			}
		case opMerge:
			rec := m.docs[op.path]
			for k, v := range docstore.ResolveFields(op.fields, rec.data, stamp) {
				rec.data[k] = v
			}
		}
		changed = append(changed, op.path)
	}
	m.mu.Unlock()

	for _, path := range changed {
		m.Notify(path)
	}
	return nil
}

