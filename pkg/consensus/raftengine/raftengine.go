// Package raftengine wraps hashicorp/raft behind the same Propose/
// IsLeader/Stats shape pkg/consensus exposes for the Byzantine and
// AsyncBFT algorithms, so the Raft variant plugs into pkg/node without a
// type switch at every call site.
package raftengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// Config configures an Engine. MaxBatchSize mirrors consensus.Config so a
// single operator-facing {algorithm, max_batch_size, timeout} tuple maps
// onto either variant.
type Config struct {
	NodeID       string
	BindAddr     string
	DataDir      string
	MaxBatchSize int
	ApplyTimeout time.Duration
}

// Engine is a single Raft node: the ordering authority for one shard when
// Config.Algorithm == consensus.Raft. It satisfies consensus.Service.
type Engine struct {
	cfg  Config
	raft *raft.Raft
	fsm  *FSM

	mu        sync.Mutex
	batchSize int // adaptive ceiling on ops per Apply; see recordApplyLatencyLocked
}

// New constructs an Engine with its FSM wired to applier, but does not
// start Raft — call Bootstrap or Join next.
func New(cfg Config, applier Applier) *Engine {
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}
	return &Engine{cfg: cfg, fsm: NewFSM(applier), batchSize: cfg.MaxBatchSize}
}

// Applier applies one committed operation; identical in shape to
// consensus.Applier so pkg/node can hand the same implementation to
// either variant.
type Applier interface {
	Apply(op types.Operation) error
}

func (e *Engine) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(e.cfg.NodeID)

	// Tuned for LAN/edge deployments rather than hashicorp/raft's WAN-safe
	// defaults (HeartbeatTimeout=1s, ElectionTimeout=1s,
	// LeaderLeaseTimeout=500ms): brings worst-case failover from ~10s+
	// down to a few seconds.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (e *Engine) newRaft(config *raft.Config) (*raft.Raft, raft.ServerAddress, error) {
	if err := os.MkdirAll(e.cfg.DataDir, 0755); err != nil {
		return nil, "", fmt.Errorf("raftengine: create data dir: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", e.cfg.BindAddr)
	if err != nil {
		return nil, "", fmt.Errorf("raftengine: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(e.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("raftengine: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(e.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("raftengine: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(e.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, "", fmt.Errorf("raftengine: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(e.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, "", fmt.Errorf("raftengine: create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, e.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, "", fmt.Errorf("raftengine: create raft: %w", err)
	}
	return r, transport.LocalAddr(), nil
}

// Bootstrap starts a brand new single-node cluster with this node as the
// only member.
func (e *Engine) Bootstrap() error {
	config := e.raftConfig()
	r, localAddr, err := e.newRaft(config)
	if err != nil {
		return err
	}
	e.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: localAddr}},
	}
	future := r.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftengine: bootstrap cluster: %w", err)
	}
	return nil
}

// Join starts Raft on this node without bootstrapping a configuration;
// the caller is expected to have already asked the current leader (via
// pkg/transport) to AddVoter this node's ID and bind address.
func (e *Engine) Join() error {
	config := e.raftConfig()
	r, _, err := e.newRaft(config)
	if err != nil {
		return err
	}
	e.raft = r
	return nil
}

// AddVoter admits a new node into the cluster's voting configuration.
// Only the leader may call this.
func (e *Engine) AddVoter(nodeID types.PeerID, address string) error {
	if e.raft == nil {
		return fmt.Errorf("raftengine: not initialized")
	}
	if !e.IsLeader() {
		return fmt.Errorf("raftengine: not the leader, current leader: %s", e.raft.Leader())
	}
	future := e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftengine: add voter %s: %w", nodeID, err)
	}
	return nil
}

// RemoveServer evicts a node from the cluster's voting configuration.
func (e *Engine) RemoveServer(nodeID types.PeerID) error {
	if e.raft == nil {
		return fmt.Errorf("raftengine: not initialized")
	}
	if !e.IsLeader() {
		return fmt.Errorf("raftengine: not the leader")
	}
	future := e.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftengine: remove server %s: %w", nodeID, err)
	}
	return nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (e *Engine) IsLeader() bool {
	return e.raft != nil && e.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current Raft leader.
func (e *Engine) LeaderAddr() string {
	if e.raft == nil {
		return ""
	}
	return string(e.raft.Leader())
}

// Propose batches ops behind one raft.Apply call and blocks until Raft
// commits them to a quorum of the log, returning the resulting
// CommittedEntry with per-operation apply outcomes. raft.Apply carries
// its own internal timeout (Config.ApplyTimeout), so ctx is only
// consulted before submission.
func (e *Engine) Propose(ctx context.Context, ops []types.Operation) (types.CommittedEntry, error) {
	if e.raft == nil {
		return types.CommittedEntry{}, fmt.Errorf("raftengine: not initialized")
	}
	if len(ops) == 0 {
		return types.CommittedEntry{}, fmt.Errorf("raftengine: empty proposal")
	}
	if limit := e.BatchSize(); limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	select {
	case <-ctx.Done():
		return types.CommittedEntry{}, ctx.Err()
	default:
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConsensusCommitDuration)

	cmd := Command{Operations: ops}
	data, err := json.Marshal(cmd)
	if err != nil {
		return types.CommittedEntry{}, fmt.Errorf("raftengine: encode command: %w", err)
	}

	applyStart := time.Now()
	future := e.raft.Apply(data, e.cfg.ApplyTimeout)
	err = future.Error()
	e.recordApplyLatency(time.Since(applyStart))
	if err != nil {
		return types.CommittedEntry{}, fmt.Errorf("raftengine: apply: %w", err)
	}

	outcomes, _ := future.Response().([]types.ApplyOutcome)
	entry := types.CommittedEntry{
		Round: e.raft.LastIndex(),
		Proposal: types.Proposal{
			ID:         fmt.Sprintf("raft-%d", e.raft.LastIndex()),
			Round:      e.raft.LastIndex(),
			Proposer:   types.PeerID(e.cfg.NodeID),
			Operations: ops,
			Timestamp:  time.Now(),
		},
		CommittedAt: time.Now(),
		Outcomes:    outcomes,
	}
	return entry, nil
}

// BatchSize returns the ceiling currently applied to new proposals'
// operation count. It starts at Config.MaxBatchSize and shrinks or grows
// as recordApplyLatency observes raft.Apply round-trips relative to
// Config.ApplyTimeout/4 — the same leader-ack signal consensus.Engine
// derives from peer votes, here taken from Raft's own commit latency.
func (e *Engine) BatchSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchSize
}

// recordApplyLatency adjusts batchSize from one observed raft.Apply
// round-trip: slower than ApplyTimeout/4 halves the ceiling (floor 1);
// faster than half that threshold grows it back one step at a time
// toward Config.MaxBatchSize. MaxBatchSize <= 0 (unbounded) leaves
// batchSize untouched.
func (e *Engine) recordApplyLatency(latency time.Duration) {
	if e.cfg.MaxBatchSize <= 0 {
		return
	}
	threshold := e.cfg.ApplyTimeout / 4

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case latency > threshold:
		e.batchSize /= 2
		if e.batchSize < 1 {
			e.batchSize = 1
		}
		metrics.ConsensusBatchSize.Set(float64(e.batchSize))
	case latency < threshold/2 && e.batchSize < e.cfg.MaxBatchSize:
		e.batchSize++
		metrics.ConsensusBatchSize.Set(float64(e.batchSize))
	}
}

// Stats reports Raft state for admin_surface's cluster_status(), in the
// same shape consensus.Engine.Stats returns.
func (e *Engine) Stats() map[string]any {
	if e.raft == nil {
		return map[string]any{"algorithm": "raft", "state": "uninitialized"}
	}

	stats := map[string]any{
		"algorithm":          "raft",
		"state":              e.raft.State().String(),
		"last_log_index":     e.raft.LastIndex(),
		"applied_index":      e.raft.AppliedIndex(),
		"leader":             string(e.raft.Leader()),
		"current_batch_size": e.BatchSize(),
	}
	if future := e.raft.GetConfiguration(); future.Error() == nil {
		stats["peer_count"] = len(future.Configuration().Servers)
	}

	metrics.ConsensusLogIndex.Set(float64(e.raft.LastIndex()))
	metrics.ConsensusAppliedIndex.Set(float64(e.raft.AppliedIndex()))
	if e.IsLeader() {
		metrics.ConsensusLeader.Set(1)
	} else {
		metrics.ConsensusLeader.Set(0)
	}
	return stats
}

// Shutdown stops Raft and releases its on-disk log and stable stores.
func (e *Engine) Shutdown() error {
	if e.raft == nil {
		return nil
	}
	future := e.raft.Shutdown()
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftengine: shutdown: %w", err)
	}
	return nil
}
