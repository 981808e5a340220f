package placement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/log"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/sharding"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
	"github.com/rs/zerolog"
)

// MembershipSource supplies the set of peers currently known to the
// cluster; pkg/node implements it over the consensus peer list (and, once
// wired, whatever peer-discovery transport maintains liveness).
type MembershipSource func() []string

// CollectionSource supplies the set of collection names whose shards are
// subject to rebalancing; pkg/node implements it the same way it does for
// pkg/reconciler.
type CollectionSource func() []string

// Replicator pushes a key onto whichever peers currently own it, repairing
// divergent copies along the way. *replication.Manager satisfies this
// directly (VerifyReplicas already does exactly this); kept as an
// interface here, like everywhere else this package's siblings touch
// replication, so placement never imports pkg/replication.
type Replicator interface {
	VerifyReplicas(ctx context.Context, key types.Key, expectedLocations []types.PeerID) (int, error)
}

// Placement owns the shard map's view of cluster membership: apart from
// pkg/node seeding the initial peer set at construction, it is the only
// component that calls AddPeer/RemovePeer on the sharding.Strategy
// shared with pkg/replication, and it is responsible for pushing replicas
// of keys whose owning set changed as a result onto their new owners.
//
// Unlike pkg/reconciler's level-triggered sweep (which re-verifies every
// key every cycle regardless of whether anything moved), Placement is
// edge-triggered on membership: a cycle that finds no peer joins or
// departures does no migration work at all.
type Placement struct {
	strategy       sharding.Strategy
	membership     MembershipSource
	collections    CollectionSource
	cold           storage.Lister
	replicator     Replicator // nil disables the migration pass
	replicationFactor int
	interval       time.Duration

	logger zerolog.Logger
	mu     sync.Mutex
	known  map[string]bool
	stopCh chan struct{}
}

// New constructs a Placement. replicator may be nil (single-node
// deployments have no migration work to do, only membership bookkeeping).
func New(strategy sharding.Strategy, membership MembershipSource, collections CollectionSource, cold storage.Lister, replicator Replicator, replicationFactor int, interval time.Duration) *Placement {
	if replicationFactor < 1 {
		replicationFactor = 1
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Placement{
		strategy:          strategy,
		membership:        membership,
		collections:       collections,
		cold:              cold,
		replicator:        replicator,
		replicationFactor: replicationFactor,
		interval:          interval,
		logger:            log.WithComponent("placement"),
		known:             make(map[string]bool),
		stopCh:            make(chan struct{}),
	}
}

// Start begins the placement loop.
func (p *Placement) Start() {
	go p.run()
}

// Stop stops the placement loop.
func (p *Placement) Stop() {
	close(p.stopCh)
}

func (p *Placement) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("placement started")

	for {
		select {
		case <-ticker.C:
			if err := p.reconcileMembership(context.Background()); err != nil {
				p.logger.Error().Err(err).Msg("membership reconciliation failed")
			}
		case <-p.stopCh:
			p.logger.Info().Msg("placement stopped")
			return
		}
	}
}

// reconcileMembership diffs the current peer list against what the
// strategy already knows, applies AddPeer/RemovePeer for the difference,
// and — only if anything changed — migrates keys onto their new owners.
func (p *Placement) reconcileMembership(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]bool)
	for _, peer := range p.membership() {
		current[peer] = true
	}

	var joined, left []string
	for peer := range current {
		if !p.known[peer] {
			joined = append(joined, peer)
		}
	}
	for peer := range p.known {
		if !current[peer] {
			left = append(left, peer)
		}
	}
	if len(joined) == 0 && len(left) == 0 {
		return nil
	}

	sort.Strings(joined)
	sort.Strings(left)

	for _, peer := range joined {
		p.strategy.AddPeer(peer)
		metrics.ClusterMembershipChangesTotal.WithLabelValues("joined").Inc()
		p.logger.Info().Str("peer", peer).Msg("peer joined shard map")
	}
	for _, peer := range left {
		p.strategy.RemovePeer(peer)
		metrics.ClusterMembershipChangesTotal.WithLabelValues("left").Inc()
		p.logger.Info().Str("peer", peer).Msg("peer left shard map")
	}
	p.known = current

	if p.replicator == nil {
		return nil
	}
	return p.migrate(ctx)
}

// migrate walks every collection's Cold-resident keys and pushes each one
// onto its current owner set, so a membership change converges replicas
// onto their new homes rather than waiting for pkg/reconciler's next
// level-triggered sweep to notice the drift.
func (p *Placement) migrate(ctx context.Context) error {
	const pageSize = 256

	for _, collection := range p.collections() {
		offset := 0
		for {
			ids, err := p.cold.List(ctx, collection, offset, pageSize)
			if err != nil {
				p.logger.Error().Err(err).Str("collection", collection).Msg("list failed during migration")
				break
			}
			if len(ids) == 0 {
				break
			}

			for _, id := range ids {
				key := types.Key{Collection: collection, ID: id}
				owners := p.owners(key)
				if len(owners) == 0 {
					continue
				}
				if _, err := p.replicator.VerifyReplicas(ctx, key, owners); err != nil {
					metrics.ShardMigrationsTotal.WithLabelValues("failed").Inc()
					p.logger.Warn().Err(err).Str("key", key.String()).Msg("shard migration failed")
					continue
				}
				metrics.ShardMigrationsTotal.WithLabelValues("ok").Inc()
			}

			if len(ids) < pageSize {
				break
			}
			offset += pageSize
		}
	}
	return nil
}

func (p *Placement) owners(key types.Key) []types.PeerID {
	shard := p.strategy.Shard(key.Collection, key.ID)
	raw := p.strategy.Owners(shard, p.replicationFactor)
	owners := make([]types.PeerID, len(raw))
	for i, peer := range raw {
		owners[i] = types.PeerID(peer)
	}
	return owners
}
