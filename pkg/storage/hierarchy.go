package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// Result is what a Hierarchy read returns: the payload, whether it was
// served from the fastest tier, and which tier actually held it.
type Result struct {
	Object     *Object
	CacheHit   bool
	SourceTier TierKind
}

// ColdWriter is the subset of replication behavior the hierarchy needs to
// push a write to Cold asynchronously; pkg/replication's Manager
// implements it. Kept as an interface here so storage never imports
// replication (replication imports storage instead, per the layering the
// hierarchy itself documents: tiers know nothing of each other or of
// replication).
type ColdWriter interface {
	ReplicateAsync(key types.Key, obj *Object)
}

// Hierarchy composes the four tiers behind one read/write surface: reads
// fan in from Hot down to Archive and promote on a hit below Hot; writes
// fan out to Hot+Warm synchronously and to Cold asynchronously via the
// configured ColdWriter. Archive is only ever written by the age-based
// demotion sweep, never by a synchronous Put.
type Hierarchy struct {
	hot     *HotStore
	warm    *WarmStore
	cold    *ColdStore
	archive *ArchiveStore
	writer  ColdWriter

	demoteAfter        time.Duration
	promotionThreshold int

	recentHits map[types.Key]int
}

// NewHierarchy composes the four tiers. writer may be nil during startup
// before the replication manager exists; SetColdWriter wires it in once
// available.
func NewHierarchy(hot *HotStore, warm *WarmStore, cold *ColdStore, archive *ArchiveStore, demoteAfter time.Duration, promotionThreshold int) *Hierarchy {
	if promotionThreshold < 1 {
		promotionThreshold = 1
	}
	return &Hierarchy{
		hot:                hot,
		warm:               warm,
		cold:               cold,
		archive:            archive,
		demoteAfter:        demoteAfter,
		promotionThreshold: promotionThreshold,
		recentHits:         make(map[types.Key]int),
	}
}

// SetColdWriter wires in the replication manager once it's constructed.
func (h *Hierarchy) SetColdWriter(w ColdWriter) {
	h.writer = w
}

// Get consults Hot, then Warm, then Cold, then Archive, stopping at the
// first hit. A hit below Hot is promoted: always copied into Hot, and
// also copied into Warm if it came from Cold or Archive.
func (h *Hierarchy) Get(ctx context.Context, key types.Key) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryRequestDuration, "storage_get")

	if obj, err := h.hot.Get(ctx, key); err == nil {
		metrics.QueryRequestsTotal.WithLabelValues("storage_get", "hit_hot").Inc()
		return Result{Object: obj, CacheHit: true, SourceTier: Hot}, nil
	}

	if obj, err := h.warm.Get(ctx, key); err == nil {
		h.promote(ctx, key, obj, Warm)
		metrics.QueryRequestsTotal.WithLabelValues("storage_get", "hit_warm").Inc()
		return Result{Object: obj, CacheHit: false, SourceTier: Warm}, nil
	} else if !isNotFound(err) {
		repaired, rerr := h.repairAndRetry(ctx, key, err)
		if rerr == nil {
			_ = h.warm.Put(ctx, key, repaired)
			h.promote(ctx, key, repaired, Warm)
			return Result{Object: repaired, CacheHit: false, SourceTier: Warm}, nil
		}
	}

	if obj, err := h.cold.Get(ctx, key); err == nil {
		h.promote(ctx, key, obj, Cold)
		metrics.QueryRequestsTotal.WithLabelValues("storage_get", "hit_cold").Inc()
		return Result{Object: obj, CacheHit: false, SourceTier: Cold}, nil
	} else if !isNotFound(err) {
		repaired, rerr := h.repairAndRetry(ctx, key, err)
		if rerr == nil {
			_ = h.cold.Put(ctx, key, repaired)
			h.promote(ctx, key, repaired, Cold)
			return Result{Object: repaired, CacheHit: false, SourceTier: Cold}, nil
		}
	}

	if obj, err := h.archive.Get(ctx, key); err == nil {
		h.promote(ctx, key, obj, Archive)
		metrics.QueryRequestsTotal.WithLabelValues("storage_get", "hit_archive").Inc()
		return Result{Object: obj, CacheHit: false, SourceTier: Archive}, nil
	}

	metrics.QueryRequestsTotal.WithLabelValues("storage_get", "miss").Inc()
	return Result{}, apperr.ErrNotFound
}

func isNotFound(err error) bool {
	return err == apperr.ErrNotFound
}

// repairAndRetry is invoked when a tier read fails with anything other
// than ErrNotFound (i.e. a checksum mismatch): it walks Cold and then
// Archive for an authoritative copy and returns the good object; Get then
// overwrites the faulted tier with it.
func (h *Hierarchy) repairAndRetry(ctx context.Context, key types.Key, faultErr error) (*Object, error) {
	for _, t := range []Tier{h.cold, h.archive} {
		obj, err := t.Get(ctx, key)
		if err == nil {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("storage: no authoritative copy found after fault on %s: %w", key, faultErr)
}

// promote copies obj up to Hot always, and to Warm as well when it
// arrived from Cold or Archive, tracking which tier the promotion came
// from for metrics.
func (h *Hierarchy) promote(ctx context.Context, key types.Key, obj *Object, from TierKind) {
	_ = h.hot.Put(ctx, key, obj)
	metrics.TierPromotionsTotal.WithLabelValues(from.String(), Hot.String()).Inc()
	if from == Cold || from == Archive {
		_ = h.warm.Put(ctx, key, obj)
		metrics.TierPromotionsTotal.WithLabelValues(from.String(), Warm.String()).Inc()
	}
}

// Put writes obj to Hot and Warm synchronously and, if a ColdWriter is
// wired in, hands the write to Cold off asynchronously through
// replication. It never writes Archive directly — only the demotion
// sweep does that.
//
// Hot publishes its own high-water mark (OverCapacity): once crossed,
// this is the Hot→Warm tier boundary the backpressure scheme spills
// rather than blocks on, so Put skips the Hot write and relies on Warm
// alone until Hot's LRU eviction brings usedBytes back down. Warm has no
// colder synchronous tier to spill into, so it enforces its own
// high-water mark by rejecting the write outright — a real block, not
// an evict — and that rejection propagates to the caller as
// apperr.ErrBackpressure.
func (h *Hierarchy) Put(ctx context.Context, key types.Key, obj *Object) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryRequestDuration, "storage_put")

	if h.hot.OverCapacity() {
		metrics.QueryRequestsTotal.WithLabelValues("storage_put", "hot_spill").Inc()
	} else if err := h.hot.Put(ctx, key, obj); err != nil {
		return fmt.Errorf("storage: hot put: %w", err)
	}
	if err := h.warm.Put(ctx, key, obj); err != nil {
		metrics.QueryRequestsTotal.WithLabelValues("storage_put", "backpressure").Inc()
		return fmt.Errorf("storage: warm put: %w", err)
	}
	if h.writer != nil {
		h.writer.ReplicateAsync(key, obj)
	}
	metrics.QueryRequestsTotal.WithLabelValues("storage_put", "ok").Inc()
	return nil
}

// Delete removes key from every tier it might be resident in.
func (h *Hierarchy) Delete(ctx context.Context, key types.Key) error {
	_ = h.hot.Delete(ctx, key)
	if err := h.warm.Delete(ctx, key); err != nil {
		return fmt.Errorf("storage: warm delete: %w", err)
	}
	if err := h.cold.Delete(ctx, key); err != nil {
		return fmt.Errorf("storage: cold delete: %w", err)
	}
	return h.archive.Delete(ctx, key)
}

// DemoteIdle scans Cold for objects whose StoredAt predates the
// configured idle threshold and moves them to Archive, deleting the Cold
// copy and any Warm copy. Called periodically by pkg/reconciler.
func (h *Hierarchy) DemoteIdle(ctx context.Context, collections []string) (int, error) {
	demoted := 0
	for _, collection := range collections {
		ids, err := h.cold.List(ctx, collection, 0, 0)
		if err != nil {
			return demoted, fmt.Errorf("storage: list for demotion: %w", err)
		}
		for _, id := range ids {
			key := types.Key{Collection: collection, ID: id}
			obj, err := h.cold.Get(ctx, key)
			if err != nil {
				continue
			}
			if time.Since(obj.StoredAt) < h.demoteAfter {
				continue
			}
			if err := h.archive.Put(ctx, key, obj); err != nil {
				continue
			}
			_ = h.cold.Delete(ctx, key)
			_ = h.warm.Delete(ctx, key)
			metrics.TierDemotionsTotal.WithLabelValues(Cold.String(), Archive.String()).Inc()
			demoted++
		}
	}
	return demoted, nil
}

// CompactArchive reclaims space left behind by superseded and tombstoned
// Archive records. Called periodically by pkg/reconciler, alongside
// DemoteIdle, since both are maintenance sweeps over the colder tiers.
func (h *Hierarchy) CompactArchive(ctx context.Context) error {
	return h.archive.Compact(ctx)
}

// Close releases resources held by durable tiers.
func (h *Hierarchy) Close() error {
	if err := h.cold.Close(); err != nil {
		return err
	}
	return h.archive.Close()
}
