/*
Package reconciler closes the gap between what writes fired-and-forgot
and what's actually durable and converged across the cluster.

The storage hierarchy demotes idle documents and the replication manager
repairs divergent replicas it happens to notice on a read, but neither of
those is a guarantee — a document that's never read again after a
degraded write stays degraded forever without something sweeping for it.
The reconciler is that sweep: a background loop that walks every
collection's Cold-resident keys, demotes what's gone idle, and re-runs
replica verification for everything it touches.

# Architecture

	Reconciliation Loop (every interval, default 10s)
	     │
	     ├─→ Hierarchy.DemoteIdle(collections)
	     │      Cold → Archive by write age (StoredAt), Warm copy dropped
	     │
	     └─→ for each collection, for each Cold-resident key:
	            Replicator.Owners(key) → VerifyReplicas(key, owners)
	            divergent peers repaired in place by the replicator

# Design

Level-triggered, not edge-triggered: the reconciler has no memory of
which keys were degraded last cycle. It re-derives the owning peer set
and re-verifies every key it lists, every cycle. This costs a full list
scan per collection per cycle, but means a missed cycle (the node
restarted, a tick was skipped under load) never loses track of a
degraded replica — the next cycle finds it again by construction.

A nil Replicator disables the replica-verification pass entirely:
single-node deployments (no peers to converge against) only run the
demotion pass.

# Usage

	rec := reconciler.New(hierarchy, coldStore, replicationManager, queryEngine.Collections, 10*time.Second)
	rec.Start()
	defer rec.Stop()

# Metrics

reconciliation_duration_seconds and reconciliation_cycles_total
(pkg/metrics) track cycle cost and cadence; a cycle that starts taking
longer than the configured interval is a sign collections have grown
past what a single sweep can cover before the next tick fires.
*/
package reconciler
