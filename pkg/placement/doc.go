/*
Package placement keeps the shard map in sync with cluster membership.

pkg/sharding's strategies are stateful rings that only move keys when told
a peer joined or left; something has to watch membership and actually call
AddPeer/RemovePeer. That's this package's job, on the same ticker-driven
loop idiom used throughout this codebase: watch, diff, act.

# Architecture

	Placement Loop (every interval, default 15s)
	     │
	     ├─→ diff MembershipSource() against the previously known peer set
	     │
	     ├─→ Strategy.AddPeer / Strategy.RemovePeer for the difference
	     │      (shared with the same Strategy instance pkg/replication's
	     │      owner lookups read from, so the change takes effect
	     │      immediately for new writes)
	     │
	     └─→ if anything changed: walk every collection's Cold-resident
	            keys and VerifyReplicas against their current owner set,
	            pushing replicas onto whichever peer just became
	            responsible for them

# Design

Edge-triggered, unlike pkg/reconciler's always-sweep: a cycle that finds
no membership change does no migration work, since nothing could have
moved. This matters because a migration pass is a full Cold list scan per
collection, the same cost as a reconciler cycle, and most cycles see no
membership change at all. pkg/reconciler's unconditional sweep is what
catches anything a migration pass missed (a crash mid-migration, a write
that landed during the transition); placement only exists to make the
common case (stable membership) free and the uncommon case (a peer
joining or leaving) converge quickly instead of waiting for the next
reconciler tick.

A nil Replicator disables the migration pass entirely, leaving membership
bookkeeping (AddPeer/RemovePeer) as the only thing that happens each
cycle — useful for a single-node deployment where there is never
anything to migrate.

# Usage

	strategy := sharding.New(cfg.ShardingStrategy)
	repl := replication.NewManager(cold, peerClient, func(k types.Key) []types.PeerID {
		raw := strategy.Owners(strategy.Shard(k.Collection, k.ID), cfg.ReplicationFactor)
		owners := make([]types.PeerID, len(raw))
		for i, p := range raw {
			owners[i] = types.PeerID(p)
		}
		return owners
	}, cfg.WriteQuorum)

	pl := placement.New(strategy, peerClient.Peers, queryEngine.Collections, cold, repl, cfg.ReplicationFactor, 15*time.Second)
	pl.Start()
	defer pl.Stop()

# Metrics

cluster_membership_changes_total (by "joined"/"left") and
shard_migrations_total (by "ok"/"failed") track how often the shard map
moves and whether migrations are keeping up.
*/
package placement
