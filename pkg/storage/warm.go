package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/integrity"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// WarmStore is the local-SSD tier: one file per object under basePath,
// fsynced on write so a crash immediately after Put can never observe a
// torn write. Each file is a small fixed header (version, checksum,
// stored-at) followed by the payload bytes, mirroring the directory-per-
// object layout the volume driver uses for container volumes, but at
// file rather than directory granularity.
//
// Unlike Hot's LRU, Warm never evicts on its own — a file just sits on
// disk until Delete or a demotion sweep removes it — so its high-water
// mark is enforced by rejecting new writes outright rather than by
// making room automatically.
type WarmStore struct {
	basePath      string
	capacityBytes int64

	mu        sync.Mutex
	sizes     map[types.Key]int64
	usedBytes int64
}

const warmHeaderSize = 8 + 32 + 8 // version + checksum + unix-nano timestamp

// NewWarmStore constructs a WarmStore rooted at basePath, creating it if
// necessary. capacityBytes <= 0 disables the high-water mark entirely.
func NewWarmStore(basePath string, capacityBytes int64) (*WarmStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("storage: create warm dir: %w", err)
	}
	return &WarmStore{basePath: basePath, capacityBytes: capacityBytes, sizes: make(map[types.Key]int64)}, nil
}

func (w *WarmStore) Kind() TierKind { return Warm }

func (w *WarmStore) pathFor(key types.Key) string {
	return filepath.Join(w.basePath, key.Collection, key.ID+".obj")
}

// Put writes obj's header and payload to a temp file in the same
// directory, fsyncs it, then renames it into place — the same
// write-temp-fsync-rename discipline used for the node's wallet file, so
// a concurrent reader never observes a partially written object.
//
// A write that would push usedBytes past capacityBytes is rejected with
// apperr.ErrBackpressure before anything touches disk, rather than
// accepted and evicted later — Warm has nothing to evict into, so the
// only place left to absorb the overflow is the caller.
func (w *WarmStore) Put(_ context.Context, key types.Key, obj *Object) error {
	if w.wouldExceedCapacity(key, int64(len(obj.Payload))) {
		return fmt.Errorf("storage: warm tier: %w", apperr.ErrBackpressure)
	}

	dir := filepath.Dir(w.pathFor(key))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("storage: create warm collection dir: %w", err)
	}

	header := make([]byte, warmHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], obj.Version)
	copy(header[8:40], obj.Checksum[:])
	binary.BigEndian.PutUint64(header[40:48], uint64(obj.StoredAt.UnixNano()))

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp warm file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write warm header: %w", err)
	}
	if _, err := tmp.Write(obj.Payload); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write warm payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: fsync warm file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close warm file: %w", err)
	}
	if err := os.Rename(tmpPath, w.pathFor(key)); err != nil {
		return fmt.Errorf("storage: finalize warm file: %w", err)
	}
	w.recordSize(key, int64(len(obj.Payload)))
	return nil
}

// wouldExceedCapacity reports whether writing size bytes for key — net of
// whatever key already occupies, since an overwrite isn't a net addition
// of its old size — would push usedBytes past capacityBytes.
func (w *WarmStore) wouldExceedCapacity(key types.Key, size int64) bool {
	if w.capacityBytes <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	projected := w.usedBytes - w.sizes[key] + size
	return projected > w.capacityBytes
}

func (w *WarmStore) recordSize(key types.Key, size int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.usedBytes += size - w.sizes[key]
	w.sizes[key] = size
}

func (w *WarmStore) forgetSize(key types.Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.usedBytes -= w.sizes[key]
	delete(w.sizes, key)
}

// UsedBytes reports the tracked size of every object this WarmStore has
// written and not since deleted.
func (w *WarmStore) UsedBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usedBytes
}

// OverCapacity reports whether usedBytes has exceeded capacityBytes.
func (w *WarmStore) OverCapacity() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capacityBytes > 0 && w.usedBytes > w.capacityBytes
}

// Get reads back an object and verifies its checksum before returning
// it; a mismatch is an integrity fault, not a miss.
func (w *WarmStore) Get(_ context.Context, key types.Key) (*Object, error) {
	raw, err := os.ReadFile(w.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("storage: read warm file: %w", err)
	}
	if len(raw) < warmHeaderSize {
		return nil, fmt.Errorf("storage: warm file %s: %w", key, apperr.ErrChecksumMismatch)
	}

	version := binary.BigEndian.Uint64(raw[0:8])
	var checksum [32]byte
	copy(checksum[:], raw[8:40])
	storedAt := time.Unix(0, int64(binary.BigEndian.Uint64(raw[40:48])))
	payload := raw[warmHeaderSize:]

	if !integrity.VerifyBytes(payload, checksum) {
		return nil, fmt.Errorf("storage: warm file %s: %w", key, apperr.ErrChecksumMismatch)
	}

	return &Object{
		Key:      key,
		Payload:  payload,
		Checksum: checksum,
		Version:  version,
		StoredAt: storedAt,
	}, nil
}

func (w *WarmStore) Delete(_ context.Context, key types.Key) error {
	if err := os.Remove(w.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete warm file: %w", err)
	}
	w.forgetSize(key)
	return nil
}

func (w *WarmStore) Exists(_ context.Context, key types.Key) (bool, error) {
	_, err := os.Stat(w.pathFor(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List returns up to limit document IDs in collection's directory,
// skipping the first offset in directory-listing order.
func (w *WarmStore) List(_ context.Context, collection string, offset, limit int) ([]string, error) {
	dir := filepath.Join(w.basePath, collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list warm collection: %w", err)
	}
	var ids []string
	for i, e := range entries {
		if e.IsDir() {
			continue
		}
		if i < offset {
			continue
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
		name := e.Name()
		const suffix = ".obj"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}
