package query

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aerolithdb/aerolithdb/pkg/codec"
	"github.com/aerolithdb/aerolithdb/pkg/conflict"
	"github.com/aerolithdb/aerolithdb/pkg/crypto"
	"github.com/aerolithdb/aerolithdb/pkg/events"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// fakeConsensus applies every operation synchronously and in order,
// standing in for a real consensus.Service so query engine tests don't
// need a live quorum.
type fakeConsensus struct {
	mu      sync.Mutex
	round   uint64
	applier applierFunc
}

type applierFunc func(op types.Operation) error

func (f *fakeConsensus) setApplier(fn applierFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applier = fn
}

func (f *fakeConsensus) Propose(_ context.Context, ops []types.Operation) (types.CommittedEntry, error) {
	f.mu.Lock()
	f.round++
	round := f.round
	applier := f.applier
	f.mu.Unlock()

	outcomes := make([]types.ApplyOutcome, len(ops))
	for i, op := range ops {
		err := applier(op)
		outcomes[i] = types.ApplyOutcome{Index: i, Applied: err == nil, Err: err}
	}
	return types.CommittedEntry{
		Round:    round,
		Proposal: types.Proposal{Operations: ops},
		Outcomes: outcomes,
	}, nil
}

func (f *fakeConsensus) IsLeader() bool         { return true }
func (f *fakeConsensus) Stats() map[string]any { return nil }

func newTestEngine(t *testing.T, encrypted bool) *Engine {
	t.Helper()
	dir := t.TempDir()

	hot, err := storage.NewHotStore(1024, 64<<20)
	if err != nil {
		t.Fatal(err)
	}
	warm, err := storage.NewWarmStore(filepath.Join(dir, "warm"), 0)
	if err != nil {
		t.Fatal(err)
	}
	cold, err := storage.NewColdStore(filepath.Join(dir, "cold"))
	if err != nil {
		t.Fatal(err)
	}
	archive, err := storage.NewArchiveStore(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cold.Close(); archive.Close() })

	hierarchy := storage.NewHierarchy(hot, warm, cold, archive, 0, 1)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	var cipher *crypto.AtRestCipher
	if encrypted {
		key := crypto.DeriveAtRestKey("test-cluster-secret")
		cipher, err = crypto.NewAtRestCipher(key)
		if err != nil {
			t.Fatal(err)
		}
	}

	consensusFake := &fakeConsensus{}
	engine := New(
		types.PeerID("node-1"),
		consensusFake,
		hierarchy,
		cold,
		conflict.NewEngine(conflict.LastWriterWins),
		broker,
		cipher,
		codec.Config{Algorithm: codec.Fast, Adaptive: true},
		Config{MaxConcurrentQueries: 8},
	)
	consensusFake.setApplier(engine.Apply)
	return engine
}

func TestStoreAndGetDocument(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	doc, err := engine.StoreDocument(ctx, "users", "u1", map[string]any{"name": "ada", "age": float64(30)})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 1 {
		t.Fatalf("expected version 1, got %d", doc.Version)
	}

	got, err := engine.GetDocument(ctx, "users", "u1")
	if err != nil {
		t.Fatal(err)
	}
	data, ok := got.Data.(map[string]any)
	if !ok || data["name"] != "ada" {
		t.Fatalf("unexpected document data: %+v", got.Data)
	}
}

func TestStoreAndGetDocumentEncrypted(t *testing.T) {
	engine := newTestEngine(t, true)
	ctx := context.Background()

	if _, err := engine.StoreDocument(ctx, "secrets", "s1", map[string]any{"token": "xyz"}); err != nil {
		t.Fatal(err)
	}
	got, err := engine.GetDocument(ctx, "secrets", "s1")
	if err != nil {
		t.Fatal(err)
	}
	data, ok := got.Data.(map[string]any)
	if !ok || data["token"] != "xyz" {
		t.Fatalf("unexpected decrypted data: %+v", got.Data)
	}
}

func TestInsertTwiceFails(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	if _, err := engine.StoreDocument(ctx, "users", "u1", map[string]any{"name": "ada"}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.StoreDocument(ctx, "users", "u1", map[string]any{"name": "grace"}); err == nil {
		t.Fatal("expected second insert of the same key to fail")
	}
}

func TestUpdateDocumentVersionCheck(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	doc, err := engine.StoreDocument(ctx, "users", "u1", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := engine.UpdateDocument(ctx, "users", "u1", map[string]any{"name": "ada lovelace"}, doc.Version); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.UpdateDocument(ctx, "users", "u1", map[string]any{"name": "stale"}, doc.Version); err == nil {
		t.Fatal("expected update with a stale expected version to fail")
	}

	got, err := engine.GetDocument(ctx, "users", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2 after one successful update, got %d", got.Version)
	}
}

func TestDeleteDocument(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	doc, err := engine.StoreDocument(ctx, "users", "u1", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.DeleteDocument(ctx, "users", "u1", doc.Version); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.GetDocument(ctx, "users", "u1"); err == nil {
		t.Fatal("expected deleted document to be gone")
	}
}

func TestQueryDocumentsFilterSortPaginate(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	people := []map[string]any{
		{"name": "ada", "age": float64(36)},
		{"name": "grace", "age": float64(85)},
		{"name": "alan", "age": float64(41)},
		{"name": "linus", "age": float64(54)},
	}
	for i, p := range people {
		if _, err := engine.StoreDocument(ctx, "people", string(rune('a'+i)), p); err != nil {
			t.Fatal(err)
		}
	}

	result, err := engine.QueryDocuments(ctx, "people", QueryRequest{
		Filter: map[string]any{"age": map[string]any{"$gte": float64(41)}},
		Sort:   []SortField{{Field: "age"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 3 {
		t.Fatalf("expected 3 matches, got %d", result.Total)
	}
	names := make([]string, len(result.Documents))
	for i, d := range result.Documents {
		names[i] = d.Data.(map[string]any)["name"].(string)
	}
	if names[0] != "alan" || names[1] != "linus" || names[2] != "grace" {
		t.Fatalf("expected ascending age order, got %v", names)
	}
}

func TestQueryDocumentsPagination(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := engine.StoreDocument(ctx, "items", string(rune('a'+i)), map[string]any{"n": float64(i)}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := engine.QueryDocuments(ctx, "items", QueryRequest{
		Sort:   []SortField{{Field: "n"}},
		Offset: 2,
		Limit:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 5 || len(result.Documents) != 2 {
		t.Fatalf("expected total 5, page len 2, got total=%d page=%d", result.Total, len(result.Documents))
	}
	if result.Documents[0].Data.(map[string]any)["n"] != float64(2) {
		t.Fatalf("expected page to start at n=2, got %+v", result.Documents[0].Data)
	}
}

func TestCollectionsReflectsStoredDocuments(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	if _, err := engine.StoreDocument(ctx, "widgets", "w1", map[string]any{"x": float64(1)}); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range engine.Collections() {
		if c == "widgets" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected widgets in collections, got %v", engine.Collections())
	}
}

func TestDropCollectionRemovesDocuments(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	if _, err := engine.StoreDocument(ctx, "temp", "t1", map[string]any{"x": float64(1)}); err != nil {
		t.Fatal(err)
	}
	if err := engine.DropCollection(ctx, "temp"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.GetDocument(ctx, "temp", "t1"); err == nil {
		t.Fatal("expected document to be gone after dropping its collection")
	}
}

func TestPutReplicaConflictResolution(t *testing.T) {
	engine := newTestEngine(t, false)
	ctx := context.Background()

	doc, err := engine.StoreDocument(ctx, "users", "u1", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}

	// Build a concurrent remote version: node-2's own write, made without
	// having seen node-1's insert, so neither happens-before the other.
	remoteClock := doc.VectorClock.Copy()
	delete(remoteClock, "node-1")
	remoteClock = remoteClock.Increment("node-2")
	remote := types.Document{
		ID:          "u1",
		Collection:  "users",
		Data:        map[string]any{"name": "ada lovelace"},
		Version:     doc.Version,
		VectorClock: remoteClock,
		Author:      types.PeerID("node-2"),
	}
	obj, err := engine.encodeDocument(&remote)
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.Put(ctx, types.Key{Collection: "users", ID: "u1"}, obj); err != nil {
		t.Fatal(err)
	}

	got, err := engine.GetDocument(ctx, "users", "u1")
	if err != nil {
		t.Fatal(err)
	}
	// last_writer_wins resolves by timestamp; either side may win, but the
	// result must be one of the two concurrent versions, not data loss.
	name := got.Data.(map[string]any)["name"]
	if name != "ada" && name != "ada lovelace" {
		t.Fatalf("resolved document has unexpected data: %+v", got.Data)
	}
}
