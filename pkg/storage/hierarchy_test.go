package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

type fakeColdWriter struct {
	cold *ColdStore
}

func (f *fakeColdWriter) ReplicateAsync(key types.Key, obj *Object) {
	_ = f.cold.Put(context.Background(), key, obj)
}

func newTestHierarchy(t *testing.T) *Hierarchy {
	t.Helper()
	dir := t.TempDir()
	hot, err := NewHotStore(128, 0)
	if err != nil {
		t.Fatal(err)
	}
	warm, err := NewWarmStore(dir + "/warm", 0)
	if err != nil {
		t.Fatal(err)
	}
	cold, err := NewColdStore(dir + "/cold")
	if err != nil {
		t.Fatal(err)
	}
	archive, err := NewArchiveStore(dir + "/archive")
	if err != nil {
		t.Fatal(err)
	}
	h := NewHierarchy(hot, warm, cold, archive, 24*time.Hour, 1)
	h.SetColdWriter(&fakeColdWriter{cold: cold})
	return h
}

func TestHierarchyPutThenGetHitsHot(t *testing.T) {
	h := newTestHierarchy(t)
	ctx := context.Background()
	key := types.Key{Collection: "users", ID: "u1"}
	obj := newTestObject([]byte("hello"))

	if err := h.Put(ctx, key, obj); err != nil {
		t.Fatal(err)
	}
	res, err := h.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !res.CacheHit || res.SourceTier != Hot {
		t.Fatalf("expected hot cache hit, got %+v", res)
	}
}

func TestHierarchyPromotesFromCold(t *testing.T) {
	h := newTestHierarchy(t)
	ctx := context.Background()
	key := types.Key{Collection: "users", ID: "u1"}
	obj := newTestObject([]byte("cold-only"))

	// Simulate a write that only landed in cold (e.g. replicated from a
	// peer, never locally written through Put).
	if err := h.cold.Put(ctx, key, obj); err != nil {
		t.Fatal(err)
	}

	res, err := h.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if res.SourceTier != Cold {
		t.Fatalf("expected source tier cold, got %v", res.SourceTier)
	}

	// Promotion should have copied it into hot and warm.
	if _, err := h.hot.Get(ctx, key); err != nil {
		t.Fatal("expected promotion into hot")
	}
	if _, err := h.warm.Get(ctx, key); err != nil {
		t.Fatal("expected promotion into warm")
	}
}

func TestHierarchyMiss(t *testing.T) {
	h := newTestHierarchy(t)
	_, err := h.Get(context.Background(), types.Key{Collection: "users", ID: "missing"})
	if err != apperr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHierarchyDeleteRemovesFromAllTiers(t *testing.T) {
	h := newTestHierarchy(t)
	ctx := context.Background()
	key := types.Key{Collection: "users", ID: "u1"}
	h.Put(ctx, key, newTestObject([]byte("hello")))

	if err := h.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Get(ctx, key); err != apperr.ErrNotFound {
		t.Fatal("expected key gone from every tier")
	}
}

func TestHierarchyPutSpillsToWarmWhenHotOverCapacity(t *testing.T) {
	dir := t.TempDir()
	hot, err := NewHotStore(128, 1) // one byte of budget: any write trips it
	if err != nil {
		t.Fatal(err)
	}
	warm, err := NewWarmStore(dir+"/warm", 0)
	if err != nil {
		t.Fatal(err)
	}
	cold, err := NewColdStore(dir + "/cold")
	if err != nil {
		t.Fatal(err)
	}
	archive, err := NewArchiveStore(dir + "/archive")
	if err != nil {
		t.Fatal(err)
	}
	h := NewHierarchy(hot, warm, cold, archive, 24*time.Hour, 1)
	ctx := context.Background()
	key := types.Key{Collection: "users", ID: "u1"}

	// Push hot over its byte budget with an unrelated write first.
	if err := hot.Put(ctx, types.Key{Collection: "users", ID: "filler"}, newTestObject([]byte("0123456789"))); err != nil {
		t.Fatal(err)
	}
	if !hot.OverCapacity() {
		t.Fatal("expected hot to be over capacity before the spill write")
	}

	if err := h.Put(ctx, key, newTestObject([]byte("spilled"))); err != nil {
		t.Fatal(err)
	}
	if _, err := h.hot.Get(ctx, key); err == nil {
		t.Fatal("expected the spilled write to skip hot entirely")
	}
	if _, err := h.warm.Get(ctx, key); err != nil {
		t.Fatal("expected the spilled write to land in warm")
	}
}

func TestHierarchyPutPropagatesWarmBackpressure(t *testing.T) {
	dir := t.TempDir()
	hot, err := NewHotStore(128, 0)
	if err != nil {
		t.Fatal(err)
	}
	warm, err := NewWarmStore(dir+"/warm", 1) // one byte of budget
	if err != nil {
		t.Fatal(err)
	}
	cold, err := NewColdStore(dir + "/cold")
	if err != nil {
		t.Fatal(err)
	}
	archive, err := NewArchiveStore(dir + "/archive")
	if err != nil {
		t.Fatal(err)
	}
	h := NewHierarchy(hot, warm, cold, archive, 24*time.Hour, 1)
	ctx := context.Background()
	key := types.Key{Collection: "users", ID: "u1"}

	err = h.Put(ctx, key, newTestObject([]byte("too-big-for-warm")))
	if !errors.Is(err, apperr.ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
}

func TestHierarchyDemoteIdle(t *testing.T) {
	h := newTestHierarchy(t)
	h.demoteAfter = 0 // force immediate eligibility
	ctx := context.Background()
	key := types.Key{Collection: "logs", ID: "l1"}
	obj := newTestObject([]byte("old"))
	obj.StoredAt = time.Now().Add(-48 * time.Hour)
	h.cold.Put(ctx, key, obj)

	n, err := h.DemoteIdle(ctx, []string{"logs"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 demotion, got %d", n)
	}
	if _, err := h.archive.Get(ctx, key); err != nil {
		t.Fatal("expected object to land in archive after demotion")
	}
	if exists, _ := h.cold.Exists(ctx, key); exists {
		t.Fatal("expected object removed from cold after demotion")
	}
}
