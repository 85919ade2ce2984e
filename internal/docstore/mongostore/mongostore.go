// Package mongostore is the mongo-backed document store for shared
// deployments. Documents live in one collection keyed by full path, with the
// user fields nested under "d" so path metadata never collides with them.
// Sentinel writes map onto native update operators, and batches run inside a
// mongo transaction.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/docstore"
)

// Mongo implements docstore.Store over a mongo database.
type Mongo struct {
	*docstore.Notifier
	client   *mongo.Client
	docs     *mongo.Collection
	counters *mongo.Collection

	clockMu sync.Mutex
	last    int64
}

var _ docstore.Store = (*Mongo)(nil)

// Open connects to the mongo deployment at uri and fans change events out on b.
func Open(ctx context.Context, uri, database string, b *bus.Bus) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	return &Mongo{
		Notifier: docstore.NewNotifier(b),
		client:   client,
		docs:     db.Collection("documents"),
		counters: db.Collection("counters"),
	}, nil
}

// Now returns the store clock in unix milliseconds, never going backwards.
func (m *Mongo) Now() int64 {
	m.clockMu.Lock()
	defer m.clockMu.Unlock()
	now := time.Now().UnixMilli()
	if now < m.last {
		now = m.last
	}
	m.last = now
	return now
}

// nextSeq allocates n insertion sequence numbers, returning the first.
func (m *Mongo) nextSeq(ctx context.Context, n int64) (int64, error) {
	var out struct {
		V int64 `bson:"v"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "seq"},
		bson.M{"$inc": bson.M{"v": n}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, err
	}
	return out.V - n + 1, nil
}

func (m *Mongo) Get(ctx context.Context, path string) (docstore.Doc, error) {
	if err := docstore.ValidateDocPath(path); err != nil {
		return docstore.Doc{}, err
	}
	doc, found, err := m.load(ctx, m.docs, path)
	if err != nil {
		return docstore.Doc{}, &docstore.RemoteError{Op: "get", Err: err}
	}
	if !found {
		return docstore.Doc{Path: path, ID: docstore.LeafID(path)}, nil
	}
	return docstore.Doc{Path: path, ID: docstore.LeafID(path), Data: doc, Exists: true}, nil
}

type row struct {
	Path   string `bson:"_id"`
	Parent string `bson:"parent"`
	Seq    int64  `bson:"seq"`
	D      bson.M `bson:"d"`
}

func (m *Mongo) load(ctx context.Context, col *mongo.Collection, path string) (map[string]any, bool, error) {
	var r row
	err := col.FindOne(ctx, bson.M{"_id": path}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return normalizeMap(r.D), true, nil
}

func (m *Mongo) Create(ctx context.Context, path string, data map[string]any) error {
	b := m.Batch()
	b.Create(path, data)
	return b.Commit(ctx)
}

func (m *Mongo) Set(ctx context.Context, path string, data map[string]any) error {
	b := m.Batch()
	b.Set(path, data)
	return b.Commit(ctx)
}

func (m *Mongo) Merge(ctx context.Context, path string, fields map[string]any) error {
	b := m.Batch()
	b.Merge(path, fields)
	return b.Commit(ctx)
}

func (m *Mongo) Delete(ctx context.Context, path string) error {
	if err := docstore.ValidateDocPath(path); err != nil {
		return err
	}
	res, err := m.docs.DeleteOne(ctx, bson.M{"_id": path})
	if err != nil {
		return &docstore.RemoteError{Op: "delete", Err: err}
	}
	if res.DeletedCount > 0 {
		m.Notify(path)
	}
	return nil
}

func (m *Mongo) List(ctx context.Context, collection string, q docstore.Query) ([]docstore.Doc, error) {
	if err := docstore.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}

	dir := 1
	if q.Descending {
		dir = -1
	}
	sort := bson.D{}
	if q.OrderBy != "" {
		sort = append(sort, bson.E{Key: "d." + q.OrderBy, Value: dir})
	}
	// Ties resolve by insertion order at the store.
	sort = append(sort, bson.E{Key: "seq", Value: dir})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cursor, err := m.docs.Find(ctx, bson.M{"parent": collection}, opts)
	if err != nil {
		return nil, &docstore.RemoteError{Op: "list", Err: err}
	}
	defer func() { _ = cursor.Close(ctx) }()

	var rows []row
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, &docstore.RemoteError{Op: "list", Err: err}
	}
	docs := make([]docstore.Doc, len(rows))
	for i, r := range rows {
		docs[i] = docstore.Doc{
			Path:   r.Path,
			ID:     docstore.LeafID(r.Path),
			Data:   normalizeMap(r.D),
			Exists: true,
		}
	}
	return docs, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
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
	store *Mongo
	ops   []stagedOp
}

// Batch starts an all-or-nothing write committed in one transaction.
func (m *Mongo) Batch() docstore.Batch {
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

func (b *batch) Commit(ctx context.Context) error {
	for _, op := range b.ops {
		if err := docstore.ValidateDocPath(op.path); err != nil {
			return err
		}
	}

	m := b.store
	stamp := m.Now()

	writes := 0
	for _, op := range b.ops {
		if op.kind != opMerge {
			writes++
		}
	}
	firstSeq, err := m.nextSeq(ctx, int64(max(writes, 1)))
	if err != nil {
		return &docstore.RemoteError{Op: "batch", Err: err}
	}

	session, err := m.client.StartSession()
	if err != nil {
		return &docstore.RemoteError{Op: "batch", Err: err}
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		seq := firstSeq
		for _, op := range b.ops {
			switch op.kind {
			case opCreate:
				data := docstore.ResolveFields(op.fields, nil, stamp)
				_, err := m.docs.InsertOne(sc, row{
					Path:   op.path,
					Parent: docstore.Parent(op.path),
					Seq:    seq,
					D:      bson.M(data),
				})
				if mongo.IsDuplicateKeyError(err) {
					return nil, fmt.Errorf("create %q: %w", op.path, docstore.ErrAlreadyExists)
				}
				if err != nil {
					return nil, err
				}
				seq++
			case opSet:
				data := docstore.ResolveFields(op.fields, nil, stamp)
				_, err := m.docs.ReplaceOne(sc, bson.M{"_id": op.path}, row{
					Path:   op.path,
					Parent: docstore.Parent(op.path),
					Seq:    seq,
					D:      bson.M(data),
				}, options.Replace().SetUpsert(true))
				if err != nil {
					return nil, err
				}
				seq++
			case opMerge:
				update := mergeUpdate(op.fields, stamp)
				res, err := m.docs.UpdateOne(sc, bson.M{"_id": op.path}, update)
				if err != nil {
					return nil, err
				}
				if res.MatchedCount == 0 {
					return nil, fmt.Errorf("merge %q: %w", op.path, docstore.ErrNotFound)
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) || errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		return &docstore.RemoteError{Op: "batch", Err: err}
	}

	for _, op := range b.ops {
		m.Notify(op.path)
	}
	return nil
}

// mergeUpdate translates sentinel writes into native update operators.
// Nested maps flatten to dotted field paths so sibling fields survive.
func mergeUpdate(fields map[string]any, stamp int64) bson.M {
	set := bson.M{}
	inc := bson.M{}
	addToSet := bson.M{}
	pull := bson.M{}

	var walk func(prefix string, fields map[string]any)
	walk = func(prefix string, fields map[string]any) {
		for k, v := range fields {
			key := prefix + k
			switch sv := v.(type) {
			case docstore.ArrayUnionValue:
				addToSet[key] = bson.M{"$each": sv.Values}
			case docstore.ArrayRemoveValue:
				pull[key] = bson.M{"$in": sv.Values}
			case docstore.IncrementValue:
				inc[key] = sv.By
			case map[string]any:
				walk(key+".", sv)
			default:
				if v == docstore.ServerTimestamp {
					set[key] = stamp
				} else {
					set[key] = v
				}
			}
		}
	}
	walk("d.", fields)

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	if len(update) == 0 {
		// An empty merge still has to match the document for the not-found
		// check, so touch nothing.
		update["$set"] = bson.M{}
	}
	return update
}

// normalizeMap converts decoded bson values into the generic document shape
// the tolerant accessors expect.
func normalizeMap(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch tv := v.(type) {
	case bson.M:
		return normalizeMap(tv)
	case bson.D:
		out := make(map[string]any, len(tv))
		for _, e := range tv {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
