/*
Package events provides an in-memory event broker for commit
notifications.

It implements a lightweight, topic-agnostic pub/sub bus: every commit the
consensus engine applies, every conflict the conflict engine detects or
resolves, and every tier promotion/demotion the storage hierarchy
performs can be published here, and any subscriber — the query engine's
cache invalidation, the reconciler, a future watch API — receives it
without a direct dependency on the publisher.

# Architecture

	Publisher → Event Channel (buffer: 256)
	     ↓
	Broadcast Loop
	     ↓
	Subscriber Channels (buffer: 64 each)

Publish enqueues onto the broker's intake channel and returns as soon as
the event is queued; it waits only while that 256-slot channel is full,
or until the broker stops. The broadcast loop then fans each event
out to every subscriber's own buffered channel; a subscriber whose buffer
is full has that event dropped rather than stalling the broker or other
subscribers.

# Event Types

Document events: document.inserted, document.updated, document.deleted,
collection.created, collection.dropped — one per types.OperationKind
applied by a consensus.Applier.

Conflict events: conflict.detected, conflict.resolved — published by the
query engine when a peer-pushed replica conflicts with the local version
and when that conflict has been resolved.

Consensus events: consensus.view_changed, consensus.peer_isolated — event
types for a view change or a Byzantine-evidence isolation; no component
in this module publishes them.

Tier events: tier.promoted, tier.demoted — event types for documents
moving between Hot, Warm, Cold, and Archive; no component in this module
publishes them (the storage hierarchy counts tier moves in pkg/metrics
instead).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventConflictDetected:
				handleConflict(event)
			}
		}
	}()

	broker.PublishOutcome(round, op, outcome)

# Design Patterns

Buffered publish and fire-and-forget delivery trade guaranteed
delivery for throughput: suitable for cache invalidation and monitoring,
not for anything that must never miss an event. A subscriber that needs
a durable record should instead read the committed-entry log directly
(pkg/consensus.Log) rather than rely on this broker's best-effort stream.
*/
package events
