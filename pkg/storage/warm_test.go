package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

func TestWarmStorePutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWarmStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := types.Key{Collection: "users", ID: "u1"}
	obj := newTestObject([]byte(`{"name":"ana"}`))

	if err := w.Put(ctx, key, obj); err != nil {
		t.Fatal(err)
	}
	got, err := w.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != `{"name":"ana"}` {
		t.Fatalf("unexpected payload: %s", got.Payload)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}
}

func TestWarmStoreMiss(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWarmStore(dir, 0)
	_, err := w.Get(context.Background(), types.Key{Collection: "users", ID: "missing"})
	if err != apperr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWarmStoreChecksumMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWarmStore(dir, 0)
	ctx := context.Background()
	key := types.Key{Collection: "users", ID: "u1"}
	obj := newTestObject([]byte("original"))
	if err := w.Put(ctx, key, obj); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "users", "u1.obj")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := w.Get(ctx, key); err == nil {
		t.Fatal("expected checksum mismatch to be detected")
	}
}

func TestWarmStoreList(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWarmStore(dir, 0)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		w.Put(ctx, types.Key{Collection: "coll", ID: id}, newTestObject([]byte(id)))
	}
	ids, err := w.List(ctx, "coll", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
}

func TestWarmStoreOverCapacityRejectsWrite(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWarmStore(dir, 8)
	ctx := context.Background()

	if err := w.Put(ctx, types.Key{Collection: "coll", ID: "a"}, newTestObject([]byte("1234567890"))); !errors.Is(err, apperr.ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if ok, _ := w.Exists(ctx, types.Key{Collection: "coll", ID: "a"}); ok {
		t.Fatal("rejected write must not land on disk")
	}
}

func TestWarmStoreOverwriteDoesNotDoubleCount(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWarmStore(dir, 10)
	ctx := context.Background()
	key := types.Key{Collection: "coll", ID: "a"}

	if err := w.Put(ctx, key, newTestObject([]byte("12345"))); err != nil {
		t.Fatal(err)
	}
	// Same key again: net addition is zero, so usedBytes must stay at 5
	// rather than doubling to 10.
	if err := w.Put(ctx, key, newTestObject([]byte("67890"))); err != nil {
		t.Fatalf("overwrite of the same key should not double-count: %v", err)
	}
	if w.UsedBytes() != 5 {
		t.Fatalf("expected usedBytes 5, got %d", w.UsedBytes())
	}
}

func TestWarmStoreDeleteFreesCapacity(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWarmStore(dir, 5)
	ctx := context.Background()
	key := types.Key{Collection: "coll", ID: "a"}

	if err := w.Put(ctx, key, newTestObject([]byte("12345"))); err != nil {
		t.Fatal(err)
	}
	if w.OverCapacity() {
		// usedBytes == capacityBytes is not yet "over": OverCapacity only
		// trips once usedBytes exceeds the budget, not at the boundary.
		t.Fatal("expected usedBytes == capacityBytes to not count as over capacity")
	}
	if err := w.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if w.UsedBytes() != 0 {
		t.Fatalf("expected usedBytes 0 after delete, got %d", w.UsedBytes())
	}
	if err := w.Put(ctx, key, newTestObject([]byte("12345"))); err != nil {
		t.Fatalf("expected capacity to be freed after delete: %v", err)
	}
}

func TestWarmStoreDelete(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWarmStore(dir, 0)
	ctx := context.Background()
	key := types.Key{Collection: "coll", ID: "x"}
	w.Put(ctx, key, newTestObject([]byte("x")))
	if err := w.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if ok, _ := w.Exists(ctx, key); ok {
		t.Fatal("expected key removed")
	}
}
