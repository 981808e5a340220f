package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

type fakeColdWriter struct {
	cold *storage.ColdStore
}

func (f *fakeColdWriter) ReplicateAsync(key types.Key, obj *storage.Object) {
	_ = f.cold.Put(context.Background(), key, obj)
}

func newTestHierarchy(t *testing.T) (*storage.Hierarchy, *storage.ColdStore) {
	t.Helper()
	dir := t.TempDir()
	hot, err := storage.NewHotStore(128, 0)
	if err != nil {
		t.Fatal(err)
	}
	warm, err := storage.NewWarmStore(dir + "/warm", 0)
	if err != nil {
		t.Fatal(err)
	}
	cold, err := storage.NewColdStore(dir + "/cold")
	if err != nil {
		t.Fatal(err)
	}
	archive, err := storage.NewArchiveStore(dir + "/archive")
	if err != nil {
		t.Fatal(err)
	}
	h := storage.NewHierarchy(hot, warm, cold, archive, time.Millisecond, 1)
	h.SetColdWriter(&fakeColdWriter{cold: cold})
	return h, cold
}

type fakeReplicator struct {
	mu      sync.Mutex
	owners  map[string][]types.PeerID
	verified []types.Key
}

func (f *fakeReplicator) Owners(key types.Key) []types.PeerID {
	return f.owners[key.String()]
}

func (f *fakeReplicator) VerifyReplicas(_ context.Context, key types.Key, _ []types.PeerID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, key)
	return 1, nil
}

func (f *fakeReplicator) verifiedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verified)
}

func TestReconcileVerifiesEveryColdResidentKey(t *testing.T) {
	_, cold := newTestHierarchy(t)
	ctx := context.Background()

	keys := []types.Key{{Collection: "users", ID: "u1"}, {Collection: "users", ID: "u2"}}
	for _, k := range keys {
		if err := cold.Put(ctx, k, &storage.Object{Key: k, Payload: []byte("x")}); err != nil {
			t.Fatal(err)
		}
	}

	replicator := &fakeReplicator{owners: map[string][]types.PeerID{
		"users/u1": {"peer-b"},
		"users/u2": {"peer-b"},
	}}

	hierarchy, _ := newTestHierarchy(t) // separate empty hierarchy; only exercising DemoteIdle path here
	r := New(hierarchy, cold, replicator, func() []string { return []string{"users"} }, time.Hour)

	if err := r.reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if replicator.verifiedCount() != 2 {
		t.Fatalf("expected both keys verified, got %d", replicator.verifiedCount())
	}
}

func TestReconcileSkipsVerificationWithNilReplicator(t *testing.T) {
	hierarchy, cold := newTestHierarchy(t)
	r := New(hierarchy, cold, nil, func() []string { return []string{"users"} }, time.Hour)

	if err := r.reconcile(context.Background()); err != nil {
		t.Fatalf("expected demotion-only cycle to succeed, got %v", err)
	}
}

func TestReconcileSkipsKeysWithNoOwners(t *testing.T) {
	_, cold := newTestHierarchy(t)
	ctx := context.Background()
	key := types.Key{Collection: "users", ID: "u1"}
	if err := cold.Put(ctx, key, &storage.Object{Key: key, Payload: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	replicator := &fakeReplicator{owners: map[string][]types.PeerID{}}
	hierarchy, _ := newTestHierarchy(t)
	r := New(hierarchy, cold, replicator, func() []string { return []string{"users"} }, time.Hour)

	if err := r.reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if replicator.verifiedCount() != 0 {
		t.Fatalf("expected no verification for ownerless key, got %d", replicator.verifiedCount())
	}
}
