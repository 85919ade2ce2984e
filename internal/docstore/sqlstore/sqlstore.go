// Package sqlstore is the sqlite-backed document store. Documents are rows
// keyed by path with their fields as a JSON blob, so the schema never changes
// when the document shapes do. One daemon process owns the database file
// (guarded by the profile lock), which lets the insertion sequence and the
// server clock live in process memory.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/docstore/sqlstore/migrations"
)

// SQL implements docstore.Store over a sqlite database file.
type SQL struct {
	*docstore.Notifier
	db *sql.DB

	// writeMu serializes write transactions and guards nextSeq.
	writeMu sync.Mutex
	nextSeq int64

	clockMu sync.Mutex
	last    int64
}

var _ docstore.Store = (*SQL)(nil)

// Open opens (creating if needed) the database at path, runs pending
// migrations and fans change events out on b.
func Open(path string, b *bus.Bus) (*SQL, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(seq) FROM documents`).Scan(&maxSeq); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load sequence: %w", err)
	}

	return &SQL{
		Notifier: docstore.NewNotifier(b),
		db:       db,
		nextSeq:  maxSeq.Int64,
	}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// Now returns the store clock in unix milliseconds, never going backwards.
func (s *SQL) Now() int64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := time.Now().UnixMilli()
	if now < s.last {
		now = s.last
	}
	s.last = now
	return now
}

func (s *SQL) Get(ctx context.Context, path string) (docstore.Doc, error) {
	if err := docstore.ValidateDocPath(path); err != nil {
		return docstore.Doc{}, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Doc{Path: path, ID: docstore.LeafID(path)}, nil
	}
	if err != nil {
		return docstore.Doc{}, &docstore.RemoteError{Op: "get", Err: err}
	}
	data, err := decodeDoc(raw)
	if err != nil {
		return docstore.Doc{}, &docstore.RemoteError{Op: "get", Err: err}
	}
	return docstore.Doc{Path: path, ID: docstore.LeafID(path), Data: data, Exists: true}, nil
}

func (s *SQL) Create(ctx context.Context, path string, data map[string]any) error {
	b := s.Batch()
	b.Create(path, data)
	return b.Commit(ctx)
}

func (s *SQL) Set(ctx context.Context, path string, data map[string]any) error {
	b := s.Batch()
	b.Set(path, data)
	return b.Commit(ctx)
}

func (s *SQL) Merge(ctx context.Context, path string, fields map[string]any) error {
	b := s.Batch()
	b.Merge(path, fields)
	return b.Commit(ctx)
}

func (s *SQL) Delete(ctx context.Context, path string) error {
	if err := docstore.ValidateDocPath(path); err != nil {
		return err
	}
	s.writeMu.Lock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	s.writeMu.Unlock()
	if err != nil {
		return &docstore.RemoteError{Op: "delete", Err: err}
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.Notify(path)
	}
	return nil
}

func (s *SQL) List(ctx context.Context, collection string, q docstore.Query) ([]docstore.Doc, error) {
	if err := docstore.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, data, seq FROM documents WHERE parent = ?`, collection)
	if err != nil {
		return nil, &docstore.RemoteError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	type entry struct {
		doc docstore.Doc
		seq int64
	}
	var entries []entry
	for rows.Next() {
		var path, raw string
		var seq int64
		if err := rows.Scan(&path, &raw, &seq); err != nil {
			return nil, &docstore.RemoteError{Op: "list", Err: err}
		}
		data, err := decodeDoc(raw)
		if err != nil {
			return nil, &docstore.RemoteError{Op: "list", Err: err}
		}
		entries = append(entries, entry{
			doc: docstore.Doc{Path: path, ID: docstore.LeafID(path), Data: data, Exists: true},
			seq: seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &docstore.RemoteError{Op: "list", Err: err}
	}

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

func (s *SQL) Close(context.Context) error {
	return s.db.Close()
}

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
	store *SQL
	ops   []stagedOp
}

// Batch starts an all-or-nothing write applied inside one transaction.
func (s *SQL) Batch() docstore.Batch {
	return &batch{store: s}
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

func (b *batch) Commit(ctx context.Context) error {
	for _, op := range b.ops {
		if err := docstore.ValidateDocPath(op.path); err != nil {
			return err
		}
	}

	s := b.store
	stamp := s.Now()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &docstore.RemoteError{Op: "batch", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	// Validate the whole batch before mutating anything.
	existing := make(map[string]map[string]any, len(b.ops))
	for _, op := range b.ops {
		cur, found, err := loadTx(ctx, tx, op.path)
		if err != nil {
			return &docstore.RemoteError{Op: "batch", Err: err}
		}
		switch op.kind {
		case opCreate:
			if found {
				return fmt.Errorf("create %q: %w", op.path, docstore.ErrAlreadyExists)
			}
		case opMerge:
			if !found {
				return fmt.Errorf("merge %q: %w", op.path, docstore.ErrNotFound)
			}
		}
		if found {
			existing[op.path] = cur
		}
	}

	seq := s.nextSeq
	for _, op := range b.ops {
		switch op.kind {
		case opCreate, opSet:
			data := docstore.ResolveFields(op.fields, nil, stamp)
			raw, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("encode %q: %w", op.path, err)
			}
			// A full write takes a fresh insertion sequence; merges below
			// keep the original one.
			seq++
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (path, parent, data, seq) VALUES (?, ?, ?, ?)
				ON CONFLICT(path) DO UPDATE SET data = excluded.data, seq = excluded.seq`,
				op.path, docstore.Parent(op.path), string(raw), seq)
			if err != nil {
				return &docstore.RemoteError{Op: "batch", Err: err}
			}
			// Track the new state so later ops in the batch see earlier writes.
			existing[op.path] = data
		case opMerge:
			data := existing[op.path]
			for k, v := range docstore.ResolveFields(op.fields, data, stamp) {
				data[k] = v
			}
			raw, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("encode %q: %w", op.path, err)
			}
			_, err = tx.ExecContext(ctx, `UPDATE documents SET data = ? WHERE path = ?`,
				string(raw), op.path)
			if err != nil {
				return &docstore.RemoteError{Op: "batch", Err: err}
			}
			existing[op.path] = data
		}
	}

	if err := tx.Commit(); err != nil {
		return &docstore.RemoteError{Op: "batch", Err: err}
	}
	s.nextSeq = seq

	for _, op := range b.ops {
		s.Notify(op.path)
	}
	return nil
}

func loadTx(ctx context.Context, tx *sql.Tx, path string) (map[string]any, bool, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := decodeDoc(raw)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func decodeDoc(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}
