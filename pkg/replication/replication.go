// Package replication fans a write out to Cold and the owning peers,
// waits for every target to answer, and repairs divergent replicas it
// finds on verify. It never retries on the caller's behalf — a degraded
// write is reported, not silently resolved.
package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/integrity"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// Target names one destination a replicated write is fanned out to: a
// local tier or a remote peer.
type Target struct {
	Tier storage.TierKind
	Peer types.PeerID // zero value when Tier is set
}

func (t Target) String() string {
	if t.Peer != "" {
		return "peer:" + string(t.Peer)
	}
	return t.Tier.String()
}

// Result reports per-target outcome for one replicate call.
type Result struct {
	OK       int
	Failed   []Target
	Location []Target
}

// PeerReplicator is the transport-level capability to push an object to a
// remote peer; pkg/transport's client implements it. Kept as an interface
// so replication never imports transport directly.
type PeerReplicator interface {
	PutRemote(ctx context.Context, peer types.PeerID, key types.Key, obj *storage.Object) error
	GetRemote(ctx context.Context, peer types.PeerID, key types.Key) (*storage.Object, error)
}

// Manager fans writes out to Cold (locally, since the node only persists
// the shards it owns) and to the peers that also own the shard, waiting
// for every target to finish before reporting; an asynchronous write with
// fewer than WriteQuorum successes is counted as degraded. It also implements
// storage.ColdWriter so the Hierarchy can hand it asynchronous Cold
// writes without importing this package.
type Manager struct {
	cold   *storage.ColdStore
	peers  PeerReplicator
	owners func(key types.Key) []types.PeerID

	writeQuorum int

	verifyGroup singleflight.Group

	asyncMu sync.Mutex
}

// NewManager constructs a replication Manager. owners resolves the peer
// set responsible for a key (via pkg/sharding); writeQuorum is the number
// of successful replica writes required before a write is considered
// non-degraded.
func NewManager(cold *storage.ColdStore, peers PeerReplicator, owners func(types.Key) []types.PeerID, writeQuorum int) *Manager {
	if writeQuorum < 1 {
		writeQuorum = 1
	}
	return &Manager{cold: cold, peers: peers, owners: owners, writeQuorum: writeQuorum}
}

// Replicate fires the write at Cold and every owning peer concurrently,
// waits for all of them to finish (success or failure, no retries), and
// reports how many succeeded alongside where the data actually landed.
func (m *Manager) Replicate(ctx context.Context, key types.Key, obj *storage.Object) Result {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplicationWriteDuration)

	targets := append([]Target{{Tier: storage.Cold}}, peerTargets(m.owners(key))...)

	// A plain (non-WithContext) Group: one target failing must never
	// cancel or skip the rest, since every target's outcome is reported
	// individually rather than folded into one aggregate error.
	var g errgroup.Group
	var mu sync.Mutex
	var result Result

	for _, target := range targets {
		target := target
		g.Go(func() error {
			var err error
			if target.Peer != "" {
				err = m.peers.PutRemote(ctx, target.Peer, key, obj)
			} else {
				err = m.cold.Put(ctx, key, obj)
			}
			mu.Lock()
			if err == nil {
				result.OK++
				result.Location = append(result.Location, target)
			} else {
				result.Failed = append(result.Failed, target)
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return result
}

func peerTargets(peers []types.PeerID) []Target {
	out := make([]Target, len(peers))
	for i, p := range peers {
		out[i] = Target{Peer: p}
	}
	return out
}

// ReplicateAsync implements storage.ColdWriter: it launches Replicate in
// the background and only surfaces a degraded-write fault through
// metrics, since the synchronous Hierarchy.Put call has already returned.
func (m *Manager) ReplicateAsync(key types.Key, obj *storage.Object) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result := m.Replicate(ctx, key, obj)
		if result.OK < m.writeQuorum {
			metrics.QueryRequestsTotal.WithLabelValues("replicate_async", "degraded").Inc()
		}
	}()
}

// Owners returns the peer set responsible for key, for callers (the
// reconciler's convergence loop) that need to build expectedLocations for
// VerifyReplicas without duplicating the sharding lookup.
func (m *Manager) Owners(key types.Key) []types.PeerID {
	return m.owners(key)
}

// VerifyReplicas computes the expected checksum from an authoritative
// source (Cold, since this node is one of the owners) and compares it
// against every peer in expectedLocations, repairing any divergent
// replica it finds. Concurrent verify calls for the same key are
// coalesced via singleflight so a burst of reads against a suspect key
// triggers only one verification pass.
func (m *Manager) VerifyReplicas(ctx context.Context, key types.Key, expectedLocations []types.PeerID) (int, error) {
	v, err, _ := m.verifyGroup.Do(key.String(), func() (any, error) {
		return m.verifyReplicas(ctx, key, expectedLocations)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (m *Manager) verifyReplicas(ctx context.Context, key types.Key, expectedLocations []types.PeerID) (int, error) {
	authoritative, err := m.cold.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("replication: no authoritative copy for %s: %w", key, err)
	}

	repaired := 0
	for _, peer := range expectedLocations {
		remote, err := m.peers.GetRemote(ctx, peer, key)
		if err != nil || !integrity.VerifyBytes(remote.Payload, authoritative.Checksum) {
			if err := m.repair(ctx, peer, key, authoritative); err != nil {
				continue
			}
			repaired++
		}
	}
	if repaired > 0 {
		metrics.ReplicationRepairTotal.Add(float64(repaired))
	}
	return repaired, nil
}

// repair overwrites a peer's divergent copy with the authoritative bytes
// and re-verifies the result, returning an error if the peer still
// disagrees after the overwrite.
func (m *Manager) repair(ctx context.Context, peer types.PeerID, key types.Key, authoritative *storage.Object) error {
	if err := m.peers.PutRemote(ctx, peer, key, authoritative); err != nil {
		return fmt.Errorf("replication: repair %s on %s: %w", key, peer, err)
	}
	remote, err := m.peers.GetRemote(ctx, peer, key)
	if err != nil {
		return fmt.Errorf("replication: re-verify %s on %s: %w", key, peer, err)
	}
	if !integrity.VerifyBytes(remote.Payload, authoritative.Checksum) {
		return fmt.Errorf("replication: repair %s on %s: %w", key, peer, apperr.ErrChecksumMismatch)
	}
	return nil
}
