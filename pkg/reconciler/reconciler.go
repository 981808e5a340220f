package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/log"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
	"github.com/rs/zerolog"
)

// Replicator is the subset of replication.Manager's verification
// behavior the reconciler needs, kept as an interface so this package
// never imports pkg/replication directly.
type Replicator interface {
	Owners(key types.Key) []types.PeerID
	VerifyReplicas(ctx context.Context, key types.Key, expectedLocations []types.PeerID) (int, error)
}

// CollectionSource supplies the set of collection names the reconciler
// should sweep each cycle; pkg/node passes query.Engine.Collections, which
// lists the collections present in this node's Cold shard.
type CollectionSource func() []string

// Reconciler periodically demotes idle documents down the storage
// hierarchy and re-verifies replica convergence for every document it
// encounters doing so, closing the gap between what ReplicateAsync
// fired-and-forgot and what's actually durable on every owning peer.
type Reconciler struct {
	hierarchy   *storage.Hierarchy
	cold        storage.Lister
	replicator  Replicator // nil disables the replica-verification pass
	collections CollectionSource
	interval    time.Duration

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// New constructs a Reconciler. replicator may be nil (single-node
// deployments skip the replica-verification pass entirely).
func New(hierarchy *storage.Hierarchy, cold storage.Lister, replicator Replicator, collections CollectionSource, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reconciler{
		hierarchy:   hierarchy,
		cold:        cold,
		replicator:  replicator,
		collections: collections,
		interval:    interval,
		logger:      log.WithComponent("reconciler"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile performs one reconciliation cycle: demote idle documents,
// then verify replica convergence for everything still resident in Cold.
func (r *Reconciler) reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	collections := r.collections()

	demoted, err := r.hierarchy.DemoteIdle(ctx, collections)
	if err != nil {
		r.logger.Error().Err(err).Msg("demotion pass failed")
	} else if demoted > 0 {
		r.logger.Debug().Int("demoted", demoted).Msg("demoted idle documents")
	}

	if err := r.hierarchy.CompactArchive(ctx); err != nil {
		r.logger.Error().Err(err).Msg("archive compaction failed")
	}

	if r.replicator == nil {
		return nil
	}
	return r.verifyReplicas(ctx, collections)
}

// verifyReplicas walks every collection's Cold-resident keys and asks the
// replicator to confirm every owning peer's copy still matches; divergent
// peers are repaired by the replicator itself.
func (r *Reconciler) verifyReplicas(ctx context.Context, collections []string) error {
	const pageSize = 256

	for _, collection := range collections {
		offset := 0
		for {
			ids, err := r.cold.List(ctx, collection, offset, pageSize)
			if err != nil {
				r.logger.Error().Err(err).Str("collection", collection).Msg("list failed during replica verification")
				break
			}
			if len(ids) == 0 {
				break
			}

			for _, id := range ids {
				key := types.Key{Collection: collection, ID: id}
				owners := r.replicator.Owners(key)
				if len(owners) == 0 {
					continue
				}
				if _, err := r.replicator.VerifyReplicas(ctx, key, owners); err != nil {
					r.logger.Warn().Err(err).Str("key", key.String()).Msg("replica verification failed")
				}
			}

			if len(ids) < pageSize {
				break
			}
			offset += pageSize
		}
	}
	return nil
}
