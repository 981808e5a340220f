package storage

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// HotStore is the in-memory cache tier: an LRU keyed by document key.
// Eviction inside the underlying LRU is bounded by entry count only.
// Resident size is tracked in bytes alongside it, but CapacityBytes is a
// high-water mark reported through OverCapacity and evicts nothing itself.
type HotStore struct {
	cache         *lru.Cache[types.Key, *Object]
	capacityBytes int64
	usedBytes     atomic.Int64
}

// NewHotStore constructs a HotStore that holds at most maxEntries objects
// and self-reports pressure once usedBytes exceeds capacityBytes; callers
// that want strict byte-bounded eviction should size maxEntries from
// capacityBytes / average document size.
func NewHotStore(maxEntries int, capacityBytes int64) (*HotStore, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	h := &HotStore{capacityBytes: capacityBytes}
	cache, err := lru.NewWithEvict(maxEntries, h.onEvict)
	if err != nil {
		return nil, err
	}
	h.cache = cache
	return h, nil
}

func (h *HotStore) onEvict(_ types.Key, obj *Object) {
	h.usedBytes.Add(-int64(len(obj.Payload)))
}

func (h *HotStore) Kind() TierKind { return Hot }

func (h *HotStore) Get(_ context.Context, key types.Key) (*Object, error) {
	obj, ok := h.cache.Get(key)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return obj, nil
}

func (h *HotStore) Put(_ context.Context, key types.Key, obj *Object) error {
	if evicted := h.cache.Add(key, obj); evicted {
		// Add already invoked onEvict for the entry it displaced.
	}
	h.usedBytes.Add(int64(len(obj.Payload)))
	return nil
}

func (h *HotStore) Delete(_ context.Context, key types.Key) error {
	h.cache.Remove(key)
	return nil
}

func (h *HotStore) Exists(_ context.Context, key types.Key) (bool, error) {
	return h.cache.Contains(key), nil
}

// UsedBytes reports the approximate resident size. It is the hint behind
// OverCapacity, which Hierarchy.Put checks to skip the Hot write (promotion
// into hot does not consult it), not an exact accounting (eviction is
// entry-count bounded, not byte bounded).
func (h *HotStore) UsedBytes() int64 {
	return h.usedBytes.Load()
}

// OverCapacity reports whether the cache's approximate resident size has
// exceeded its configured byte budget.
func (h *HotStore) OverCapacity() bool {
	return h.capacityBytes > 0 && h.usedBytes.Load() > h.capacityBytes
}

// Len returns the number of entries currently cached.
func (h *HotStore) Len() int {
	return h.cache.Len()
}
