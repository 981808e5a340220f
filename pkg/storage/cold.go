package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/integrity"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// ColdStore is the distributed-by-consistent-hash tier: this node's local
// BoltDB-backed shard of the keyspace, one bucket per collection, mirroring
// the bucket-per-entity layout the cluster metadata store uses. Which
// shard lands on which peer is decided upstream by pkg/sharding; ColdStore
// itself only knows how to durably hold whatever shard it's handed.
type ColdStore struct {
	db *bolt.DB
}

const coldHeaderSize = 8 + 32 + 8

// NewColdStore opens (creating if absent) a BoltDB file under dataDir.
func NewColdStore(dataDir string) (*ColdStore, error) {
	dbPath := filepath.Join(dataDir, "cold.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open cold db: %w", err)
	}
	return &ColdStore{db: db}, nil
}

func (c *ColdStore) Kind() TierKind { return Cold }

// Close closes the underlying database.
func (c *ColdStore) Close() error {
	return c.db.Close()
}

func (c *ColdStore) Put(_ context.Context, key types.Key, obj *Object) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(key.Collection))
		if err != nil {
			return fmt.Errorf("storage: create collection bucket: %w", err)
		}
		encoded := make([]byte, coldHeaderSize+len(obj.Payload))
		binary.BigEndian.PutUint64(encoded[0:8], obj.Version)
		copy(encoded[8:40], obj.Checksum[:])
		binary.BigEndian.PutUint64(encoded[40:48], uint64(obj.StoredAt.UnixNano()))
		copy(encoded[coldHeaderSize:], obj.Payload)
		return b.Put([]byte(key.ID), encoded)
	})
}

func (c *ColdStore) Get(_ context.Context, key types.Key) (*Object, error) {
	var obj *Object
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(key.Collection))
		if b == nil {
			return apperr.ErrNotFound
		}
		raw := b.Get([]byte(key.ID))
		if raw == nil {
			return apperr.ErrNotFound
		}
		if len(raw) < coldHeaderSize {
			return fmt.Errorf("storage: cold entry %s: %w", key, apperr.ErrChecksumMismatch)
		}
		version := binary.BigEndian.Uint64(raw[0:8])
		var checksum [32]byte
		copy(checksum[:], raw[8:40])
		storedAt := time.Unix(0, int64(binary.BigEndian.Uint64(raw[40:48])))
		payload := make([]byte, len(raw)-coldHeaderSize)
		copy(payload, raw[coldHeaderSize:])

		if !integrity.VerifyBytes(payload, checksum) {
			return fmt.Errorf("storage: cold entry %s: %w", key, apperr.ErrChecksumMismatch)
		}
		obj = &Object{Key: key, Payload: payload, Checksum: checksum, Version: version, StoredAt: storedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *ColdStore) Delete(_ context.Context, key types.Key) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(key.Collection))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key.ID))
	})
}

func (c *ColdStore) Exists(_ context.Context, key types.Key) (bool, error) {
	exists := false
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(key.Collection))
		if b == nil {
			return nil
		}
		exists = b.Get([]byte(key.ID)) != nil
		return nil
	})
	return exists, err
}

// Collections lists every bucket (collection) currently present, used by
// the admin surface's list_collections operation.
func (c *ColdStore) Collections() ([]string, error) {
	var names []string
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// Count returns the number of documents in a collection's bucket.
func (c *ColdStore) Count(collection string) (int, error) {
	n := 0
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// List returns up to limit document IDs from collection, skipping the
// first offset in bucket iteration order (BoltDB's key-sorted byte
// order). limit <= 0 means unbounded.
func (c *ColdStore) List(_ context.Context, collection string, offset, limit int) ([]string, error) {
	var ids []string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		i := 0
		return b.ForEach(func(k, _ []byte) error {
			if i < offset {
				i++
				return nil
			}
			if limit > 0 && len(ids) >= limit {
				return nil
			}
			ids = append(ids, string(k))
			i++
			return nil
		})
	})
	return ids, err
}

// DropCollection removes a collection's bucket and every document in it.
func (c *ColdStore) DropCollection(name string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}
