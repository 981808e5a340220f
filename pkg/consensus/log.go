package consensus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

var logBucket = []byte("committed_log")

// Log is the durable, append-only committed-entry log backing a
// Byzantine or AsyncBFT engine: one bbolt bucket, keyed by big-endian
// round number, storing JSON-encoded CommittedEntry records. Raft's
// variant keeps its own log via raft-boltdb and never touches this type.
type Log struct {
	db *bolt.DB
}

// NewLog opens (creating if absent) the committed-log database at path.
func NewLog(path string) (*Log, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("consensus: open log db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("consensus: init log bucket: %w", err)
	}
	return &Log{db: db}, nil
}

func roundKey(round uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, round)
	return key
}

// Append persists entry at entry.Round, overwriting any prior entry at
// that round: commit is idempotent.
func (l *Log) Append(entry types.CommittedEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("consensus: encode committed entry: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(logBucket).Put(roundKey(entry.Round), encoded)
	})
}

// Get returns the committed entry at round, or ok=false if no entry has
// been committed there.
func (l *Log) Get(round uint64) (types.CommittedEntry, bool, error) {
	var entry types.CommittedEntry
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(logBucket).Get(roundKey(round))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return types.CommittedEntry{}, false, fmt.Errorf("consensus: read committed entry: %w", err)
	}
	return entry, found, nil
}

// LastIndex returns the highest committed round, or 0 if the log is empty.
func (l *Log) LastIndex() (uint64, error) {
	var last uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		key, _ := c.Last()
		if key == nil {
			return nil
		}
		last = binary.BigEndian.Uint64(key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("consensus: read last log index: %w", err)
	}
	return last, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
