package storage

import (
	"context"
	"testing"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

func TestColdStorePutGet(t *testing.T) {
	dir := t.TempDir()
	c, err := NewColdStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	key := types.Key{Collection: "orders", ID: "o1"}
	obj := newTestObject([]byte("payload"))
	if err := c.Put(ctx, key, obj); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != "payload" {
		t.Fatalf("unexpected payload: %s", got.Payload)
	}
}

func TestColdStoreMiss(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewColdStore(dir)
	defer c.Close()
	_, err := c.Get(context.Background(), types.Key{Collection: "orders", ID: "missing"})
	if err != apperr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestColdStoreCollectionsAndCount(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewColdStore(dir)
	defer c.Close()
	ctx := context.Background()
	c.Put(ctx, types.Key{Collection: "orders", ID: "1"}, newTestObject([]byte("a")))
	c.Put(ctx, types.Key{Collection: "orders", ID: "2"}, newTestObject([]byte("b")))
	c.Put(ctx, types.Key{Collection: "users", ID: "1"}, newTestObject([]byte("c")))

	collections, err := c.Collections()
	if err != nil {
		t.Fatal(err)
	}
	if len(collections) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(collections))
	}
	n, err := c.Count("orders")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 orders, got %d", n)
	}
}

func TestColdStoreDropCollection(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewColdStore(dir)
	defer c.Close()
	ctx := context.Background()
	c.Put(ctx, types.Key{Collection: "orders", ID: "1"}, newTestObject([]byte("a")))

	if err := c.DropCollection("orders"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := c.Exists(ctx, types.Key{Collection: "orders", ID: "1"}); exists {
		t.Fatal("expected collection contents to be gone")
	}
}

func TestColdStoreListPagination(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewColdStore(dir)
	defer c.Close()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		c.Put(ctx, types.Key{Collection: "coll", ID: id}, newTestObject([]byte(id)))
	}
	page, err := c.List(ctx, "coll", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
}
