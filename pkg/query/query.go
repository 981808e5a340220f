// Package query implements the CRUD and filter/sort/paginate engine that
// sits in front of the storage hierarchy: every mutation is proposed
// through consensus and applied here (Engine implements
// consensus.Applier), every read decodes whatever tier answered, and
// every peer-pushed replica (Engine implements transport.LocalStore) is
// reconciled against what this node already has before it's persisted.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/codec"
	"github.com/aerolithdb/aerolithdb/pkg/conflict"
	"github.com/aerolithdb/aerolithdb/pkg/consensus"
	"github.com/aerolithdb/aerolithdb/pkg/crypto"
	"github.com/aerolithdb/aerolithdb/pkg/events"
	"github.com/aerolithdb/aerolithdb/pkg/integrity"
	"github.com/aerolithdb/aerolithdb/pkg/log"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
	"github.com/aerolithdb/aerolithdb/pkg/vectorclock"
)

// Cold is the subset of storage.ColdStore the engine touches directly,
// independent of the Hot/Warm-promoting Hierarchy: a peer's replica push
// or pull (transport.LocalStore) lands here, bypassing Hot/Warm the same
// way a local replication.Manager write does, and every collection-wide
// scan (QueryDocuments, ListDocuments, Stats, Collections) walks it too.
type Cold interface {
	Get(ctx context.Context, key types.Key) (*storage.Object, error)
	Put(ctx context.Context, key types.Key, obj *storage.Object) error
	List(ctx context.Context, collection string, offset, limit int) ([]string, error)
	Count(collection string) (int, error)
	Collections() ([]string, error)
	DropCollection(name string) error
}

// Config bounds the query engine's behavior; see config.QueryConfig.
type Config struct {
	MaxConcurrentQueries  int
	ExecutionTimeout      time.Duration
	OptimizerEnabled      bool
	CostBasedOptimization bool
}

// Engine is the query and mutation entrypoint: pkg/node constructs one per
// node, wiring it to that node's consensus Service as both the Propose
// caller and the Applier consensus calls back into.
type Engine struct {
	self      types.PeerID
	consensus consensus.Service
	hierarchy *storage.Hierarchy
	cold      Cold
	conflicts *conflict.Engine
	broker    *events.Broker
	cipher    *crypto.AtRestCipher // nil when encryption_at_rest is disabled
	codec     *codec.Codec
	cfg       Config
	logger    zerolog.Logger

	startedAt time.Time
	reads     atomic.Int64
	cacheHits atomic.Int64
}

// New constructs an Engine. cipher may be nil (encryption_at_rest
// disabled); cold is normally the node's *storage.ColdStore.
func New(self types.PeerID, svc consensus.Service, hierarchy *storage.Hierarchy, cold Cold, conflicts *conflict.Engine, broker *events.Broker, cipher *crypto.AtRestCipher, codecCfg codec.Config, cfg Config) *Engine {
	return &Engine{
		self:      self,
		consensus: svc,
		hierarchy: hierarchy,
		cold:      cold,
		conflicts: conflicts,
		broker:    broker,
		cipher:    cipher,
		codec:     codec.New(codecCfg),
		cfg:       cfg,
		logger:    log.WithComponent("query"),
		startedAt: time.Now(),
	}
}

// Collections implements placement.CollectionSource and
// reconciler.CollectionSource: both walk whatever this node's Cold shard
// currently holds, which is the durable source of truth for what exists
// (Hot/Warm are caches of it).
func (e *Engine) Collections() []string {
	names, err := e.cold.Collections()
	if err != nil {
		e.logger.Warn().Err(err).Msg("list collections")
		return nil
	}
	return names
}

// StoreDocument proposes an insert and returns the stored document once
// committed.
func (e *Engine) StoreDocument(ctx context.Context, collection, id string, data any) (types.Document, error) {
	op := types.Operation{Kind: types.OpInsert, Collection: collection, DocumentID: id, Data: data}
	return e.proposeSingle(ctx, op, "store_document")
}

// UpdateDocument proposes an update, failing at apply time if
// expectedVersion no longer matches the document's current version.
func (e *Engine) UpdateDocument(ctx context.Context, collection, id string, data any, expectedVersion uint64) (types.Document, error) {
	op := types.Operation{Kind: types.OpUpdate, Collection: collection, DocumentID: id, Data: data, ExpectedVersion: expectedVersion}
	return e.proposeSingle(ctx, op, "update_document")
}

// DeleteDocument proposes a delete, failing at apply time on a version
// mismatch the same way UpdateDocument does.
func (e *Engine) DeleteDocument(ctx context.Context, collection, id string, expectedVersion uint64) error {
	op := types.Operation{Kind: types.OpDelete, Collection: collection, DocumentID: id, ExpectedVersion: expectedVersion}
	_, err := e.proposeSingle(ctx, op, "delete_document")
	return err
}

// CreateCollection proposes a collection's creation; schema is advisory
// (no schema enforcement is implemented) and carried through for a future
// consumer to validate against.
func (e *Engine) CreateCollection(ctx context.Context, name string, schema any) error {
	op := types.Operation{Kind: types.OpCreateCollection, Collection: name, Schema: schema}
	_, err := e.proposeSingle(ctx, op, "create_collection")
	return err
}

// DropCollection proposes a collection's removal.
func (e *Engine) DropCollection(ctx context.Context, name string) error {
	op := types.Operation{Kind: types.OpDropCollection, Collection: name}
	_, err := e.proposeSingle(ctx, op, "drop_collection")
	return err
}

// proposeSingle batches op alone through consensus, publishes its commit
// outcome to the event stream, and — for ops that leave a document behind
// — re-reads it so the caller gets back the version that actually landed
// (including the version/vector-clock bump Apply applied).
func (e *Engine) proposeSingle(ctx context.Context, op types.Operation, label string) (types.Document, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryRequestDuration, label)

	entry, err := e.consensus.Propose(ctx, []types.Operation{op})
	if err != nil {
		metrics.QueryRequestsTotal.WithLabelValues(label, "error").Inc()
		return types.Document{}, fmt.Errorf("query: %s: %w", label, err)
	}

	outcome := entry.Outcomes[0]
	e.broker.PublishOutcome(entry.Round, op, outcome)
	if !outcome.Applied {
		metrics.QueryRequestsTotal.WithLabelValues(label, "rejected").Inc()
		return types.Document{}, outcome.Err
	}
	metrics.QueryRequestsTotal.WithLabelValues(label, "ok").Inc()

	switch op.Kind {
	case types.OpDelete, types.OpCreateCollection, types.OpDropCollection:
		return types.Document{}, nil
	default:
		return e.GetDocument(ctx, op.Collection, op.DocumentID)
	}
}

// GetDocument reads a single document through the Hierarchy, decoding and
// integrity-checking whatever tier answers.
func (e *Engine) GetDocument(ctx context.Context, collection, id string) (types.Document, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryRequestDuration, "get_document")

	key := types.Key{Collection: collection, ID: id}
	result, err := e.hierarchy.Get(ctx, key)
	if err != nil {
		metrics.QueryRequestsTotal.WithLabelValues("get_document", "miss").Inc()
		return types.Document{}, fmt.Errorf("query: get %s: %w", key, err)
	}
	doc, err := e.decodeDocument(result.Object)
	if err != nil {
		return types.Document{}, err
	}
	e.recordRead(result.CacheHit)
	metrics.QueryRequestsTotal.WithLabelValues("get_document", "ok").Inc()
	return *doc, nil
}

// ListDocuments returns one page of a collection's documents in storage
// order, with no filter or sort applied — the cheap path for a plain
// browse, as opposed to QueryDocuments' full scan-filter-sort-paginate.
func (e *Engine) ListDocuments(ctx context.Context, collection string, offset, limit int) ([]types.Document, error) {
	ids, err := e.cold.List(ctx, collection, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query: list %s: %w", collection, err)
	}
	docs := make([]types.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := e.GetDocument(ctx, collection, id)
		if err != nil {
			e.logger.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("skipping document in list")
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// QueryDocuments scans every document in collection, keeps the ones
// matching req.Filter, stably sorts the matches by req.Sort, and returns
// the req.Offset/req.Limit page: list, then filter, then sort, then
// paginate. There is no index: a filter on an unindexed field costs a
// full collection scan (secondary indexes are out of scope).
func (e *Engine) QueryDocuments(ctx context.Context, collection string, req QueryRequest) (QueryResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryRequestDuration, "query_documents")
	start := time.Now()

	ids, err := e.cold.List(ctx, collection, 0, 0)
	if err != nil {
		metrics.QueryRequestsTotal.WithLabelValues("query_documents", "error").Inc()
		return QueryResult{}, fmt.Errorf("query: list %s: %w", collection, err)
	}

	matched := make([]types.Document, 0, len(ids))
	fromCache := len(ids) > 0
	for _, id := range ids {
		key := types.Key{Collection: collection, ID: id}
		result, err := e.hierarchy.Get(ctx, key)
		if err != nil {
			// Listed in Cold but gone from every tier by the time the
			// scan reached it (e.g. concurrent delete): skip, not fatal.
			continue
		}
		if !result.CacheHit {
			fromCache = false
		}
		e.recordRead(result.CacheHit)

		doc, err := e.decodeDocument(result.Object)
		if err != nil {
			e.logger.Warn().Err(err).Str("key", key.String()).Msg("skipping undecodable document in scan")
			continue
		}
		if matchesFilter(doc.Data, req.Filter) {
			matched = append(matched, *doc)
		}
	}

	sortDocuments(matched, req.Sort)
	total := len(matched)
	page := paginate(matched, req.Offset, req.Limit)

	metrics.QueryRequestsTotal.WithLabelValues("query_documents", "ok").Inc()
	return QueryResult{
		Documents:     page,
		Total:         total,
		ExecutionTime: time.Since(start),
		FromCache:     fromCache,
	}, nil
}

func (e *Engine) recordRead(cacheHit bool) {
	e.reads.Add(1)
	if cacheHit {
		e.cacheHits.Add(1)
	}
}

// Apply implements consensus.Applier: the consensus engine calls this once
// a proposal commits, for every operation in it, in order.
func (e *Engine) Apply(op types.Operation) error {
	ctx := context.Background()
	switch op.Kind {
	case types.OpInsert:
		return e.applyInsert(ctx, op)
	case types.OpUpdate:
		return e.applyUpdate(ctx, op)
	case types.OpDelete:
		return e.applyDelete(ctx, op)
	case types.OpCreateCollection:
		return nil // the bucket is created lazily on first insert
	case types.OpDropCollection:
		return e.applyDropCollection(ctx, op)
	default:
		return fmt.Errorf("query: %w: unknown operation kind %q", apperr.ErrInvalidOperation, op.Kind)
	}
}

func (e *Engine) applyInsert(ctx context.Context, op types.Operation) error {
	key := types.Key{Collection: op.Collection, ID: op.DocumentID}
	if _, err := e.hierarchy.Get(ctx, key); err == nil {
		return fmt.Errorf("query: insert %s: %w", key, apperr.ErrAlreadyExists)
	}

	doc := types.Document{
		ID:          op.DocumentID,
		Collection:  op.Collection,
		Data:        op.Data,
		Version:     1,
		VectorClock: vectorclock.New().Increment(string(e.self)),
		Timestamp:   time.Now(),
		Author:      e.self,
	}
	obj, err := e.encodeDocument(&doc)
	if err != nil {
		return err
	}
	if err := e.hierarchy.Put(ctx, key, obj); err != nil {
		return fmt.Errorf("query: insert %s: %w", key, err)
	}
	return nil
}

func (e *Engine) applyUpdate(ctx context.Context, op types.Operation) error {
	key := types.Key{Collection: op.Collection, ID: op.DocumentID}
	result, err := e.hierarchy.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("query: update %s: %w", key, err)
	}
	current, err := e.decodeDocument(result.Object)
	if err != nil {
		return err
	}
	if op.ExpectedVersion != 0 && current.Version != op.ExpectedVersion {
		return fmt.Errorf("query: update %s: %w", key, apperr.ErrVersionMismatch)
	}

	updated := types.Document{
		ID:          op.DocumentID,
		Collection:  op.Collection,
		Data:        op.Data,
		Version:     current.Version + 1,
		VectorClock: current.VectorClock.Increment(string(e.self)),
		Timestamp:   time.Now(),
		Author:      e.self,
	}
	obj, err := e.encodeDocument(&updated)
	if err != nil {
		return err
	}
	if err := e.hierarchy.Put(ctx, key, obj); err != nil {
		return fmt.Errorf("query: update %s: %w", key, err)
	}
	return nil
}

func (e *Engine) applyDelete(ctx context.Context, op types.Operation) error {
	key := types.Key{Collection: op.Collection, ID: op.DocumentID}
	result, err := e.hierarchy.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("query: delete %s: %w", key, err)
	}
	current, err := e.decodeDocument(result.Object)
	if err != nil {
		return err
	}
	if op.ExpectedVersion != 0 && current.Version != op.ExpectedVersion {
		return fmt.Errorf("query: delete %s: %w", key, apperr.ErrVersionMismatch)
	}
	if err := e.hierarchy.Delete(ctx, key); err != nil {
		return fmt.Errorf("query: delete %s: %w", key, err)
	}
	return nil
}

func (e *Engine) applyDropCollection(ctx context.Context, op types.Operation) error {
	ids, err := e.cold.List(ctx, op.Collection, 0, 0)
	if err != nil {
		return fmt.Errorf("query: drop collection %s: %w", op.Collection, err)
	}
	for _, id := range ids {
		_ = e.hierarchy.Delete(ctx, types.Key{Collection: op.Collection, ID: id})
	}
	if err := e.cold.DropCollection(op.Collection); err != nil {
		return fmt.Errorf("query: drop collection %s: %w", op.Collection, err)
	}
	return nil
}

// Put implements transport.LocalStore: a peer is pushing a replica of key
// onto this node. The incoming version may be concurrent with whatever
// this node already has for the same key — an independent local write
// racing the push — so conflict resolution runs before anything is
// persisted, rather than letting the last write in blindly win.
func (e *Engine) Put(ctx context.Context, key types.Key, obj *storage.Object) error {
	incoming, err := e.decodeDocument(obj)
	if err != nil {
		return fmt.Errorf("query: decode incoming replica %s: %w", key, err)
	}

	existingObj, err := e.cold.Get(ctx, key)
	if err != nil {
		if err == apperr.ErrNotFound {
			return e.cold.Put(ctx, key, obj)
		}
		return fmt.Errorf("query: read existing %s before replica push: %w", key, err)
	}

	existing, err := e.decodeDocument(existingObj)
	if err != nil {
		return err
	}

	conflictingVersion, detected := e.conflicts.Detect(key.Collection, key.ID, existing.AsVersion(), incoming.AsVersion())
	if !detected {
		if existing.VectorClock.HappensBefore(incoming.VectorClock) {
			return e.cold.Put(ctx, key, obj)
		}
		return nil // existing is newer or identical: nothing to do
	}

	e.broker.Publish(&events.Event{Type: events.EventConflictDetected, Collection: key.Collection, DocumentID: key.ID})
	resolution, err := e.conflicts.Resolve(ctx, conflictingVersion)
	if err != nil {
		return fmt.Errorf("query: resolve conflict %s: %w", key, err)
	}
	if resolution.RequiresManualReview {
		return fmt.Errorf("query: conflict %s: %w", key, apperr.ErrManualReview)
	}

	resolved := types.Document{
		ID:          key.ID,
		Collection:  key.Collection,
		Data:        resolution.ResolvedData,
		Version:     resolution.ResolvedVersion,
		VectorClock: resolution.ResolvedVectorClock,
		Timestamp:   time.Now(),
		Author:      incoming.Author,
	}
	resolvedObj, err := e.encodeDocument(&resolved)
	if err != nil {
		return err
	}
	if err := e.cold.Put(ctx, key, resolvedObj); err != nil {
		return fmt.Errorf("query: persist resolved %s: %w", key, err)
	}
	e.broker.Publish(&events.Event{Type: events.EventConflictResolved, Collection: key.Collection, DocumentID: key.ID, Message: resolution.StrategyName})
	return nil
}

// Get implements transport.LocalStore: a peer pulling a replica reads the
// same shard of Cold this node owns, unmediated by Hot/Warm.
func (e *Engine) Get(ctx context.Context, key types.Key) (*storage.Object, error) {
	return e.cold.Get(ctx, key)
}

// encodeDocument turns a Document into its stored form: a checksum over
// Data, the whole document (minus the Encrypted field, which would
// otherwise recurse into itself) marshaled to JSON, optionally
// AES-256-GCM-sealed, then compressed. Object.Checksum covers the final
// compressed bytes — the blob-integrity check pkg/replication uses to
// detect a divergent replica — which is deliberately a different checksum
// than the Document's own Data checksum.
func (e *Engine) encodeDocument(doc *types.Document) (*storage.Object, error) {
	dataChecksum, err := integrity.Checksum(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("query: checksum document: %w", err)
	}
	doc.Checksum = dataChecksum

	envelope := *doc
	envelope.Encrypted = nil
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("query: marshal document: %w", err)
	}
	doc.Size = len(raw)

	payload := raw
	encrypted := false
	if e.cipher != nil {
		ciphertext, err := e.cipher.Encrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("query: encrypt document: %w", err)
		}
		doc.Encrypted = ciphertext
		payload = ciphertext
		encrypted = true
	}

	compressed, err := e.codec.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("query: compress document: %w", err)
	}

	return &storage.Object{
		Key:       types.Key{Collection: doc.Collection, ID: doc.ID},
		Payload:   compressed,
		Checksum:  integrity.ChecksumBytes(compressed),
		Version:   doc.Version,
		StoredAt:  doc.Timestamp,
		Encrypted: encrypted,
	}, nil
}

// decodeDocument reverses encodeDocument: decompress, decrypt if
// Object.Encrypted says to, unmarshal into a Document, then verify its
// Data checksum — a mismatch here means corruption survived compression
// and tier storage undetected, and is reported rather than swallowed.
func (e *Engine) decodeDocument(obj *storage.Object) (*types.Document, error) {
	raw, err := e.codec.Decompress(obj.Payload)
	if err != nil {
		return nil, fmt.Errorf("query: decompress %s: %w", obj.Key, err)
	}

	if obj.Encrypted {
		if e.cipher == nil {
			return nil, fmt.Errorf("query: %s: %w: encrypted but no at-rest cipher configured", obj.Key, apperr.ErrInvalidOperation)
		}
		plain, err := e.cipher.Decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("query: decrypt %s: %w", obj.Key, err)
		}
		raw = plain
	}

	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("query: unmarshal %s: %w", obj.Key, err)
	}

	ok, err := integrity.Verify(doc.Data, doc.Checksum)
	if err != nil {
		return nil, fmt.Errorf("query: verify checksum %s: %w", obj.Key, err)
	}
	if !ok {
		return nil, fmt.Errorf("query: %s: %w", obj.Key, apperr.ErrChecksumMismatch)
	}
	return &doc, nil
}
