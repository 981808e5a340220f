package node

import (
	"context"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/query"
)

// ClusterStatus is the cluster_status admin operation's result: enough of
// the consensus engine's own Stats() map, reshaped into a stable type a
// gateway can serialize without knowing which of the three algorithms is
// running underneath.
type ClusterStatus struct {
	NodeID       string
	Algorithm    string
	IsLeader     bool
	Leader       string
	PeerCount    int
	AppliedIndex uint64
	LastLogIndex uint64
	Collections  int
	Raw          map[string]any
}

// ClusterStatus reports this node's view of the cluster's consensus
// state.
func (n *Node) ClusterStatus(ctx context.Context) (ClusterStatus, error) {
	stats := n.consensusSvc.Stats()
	collections, err := n.cold.Collections()
	if err != nil {
		return ClusterStatus{}, err
	}

	status := ClusterStatus{
		NodeID:       n.cfg.NodeID,
		Algorithm:    stringField(stats, "algorithm"),
		IsLeader:     n.consensusSvc.IsLeader(),
		Leader:       stringField(stats, "leader"),
		PeerCount:    n.PeerCount(),
		AppliedIndex: n.AppliedIndex(),
		LastLogIndex: n.LastLogIndex(),
		Collections:  len(collections),
		Raw:          stats,
	}
	return status, nil
}

// NodeInfo is the node_info admin operation's result.
type NodeInfo struct {
	PeerID      string
	BindAddr    string
	DataDir     string
	Fingerprint string
	Uptime      time.Duration
}

// NodeInfo reports this node's own identity and process uptime.
func (n *Node) NodeInfo() NodeInfo {
	return NodeInfo{
		PeerID:      n.cfg.NodeID,
		BindAddr:    n.cfg.BindAddr,
		DataDir:     n.cfg.DataDir,
		Fingerprint: n.identity.Fingerprint(),
		Uptime:      time.Since(n.startedAt),
	}
}

// ListCollections is the list_collections admin operation: the set of
// collections this node's Cold shard currently holds documents for.
func (n *Node) ListCollections() []string {
	return n.query.Collections()
}

// DropCollection is the drop_collection admin operation: it proposes the
// collection's removal through consensus the same way any other write
// does, so every peer drops it in the same committed round.
func (n *Node) DropCollection(ctx context.Context, name string) error {
	return n.query.DropCollection(ctx, name)
}

// Stats exposes the query engine's own Stats(), for an admin surface that
// wants storage/cache figures alongside cluster status.
func (n *Node) Stats(ctx context.Context) (any, error) {
	return n.query.Stats(ctx)
}

// QueryEngine returns the node's document engine: this process has no
// built-in client-facing gateway, so whatever embeds this module reaches
// document operations through the engine directly.
func (n *Node) QueryEngine() *query.Engine {
	return n.query
}

// --- metrics.ClusterView ---

// IsLeader implements metrics.ClusterView.
func (n *Node) IsLeader() bool {
	return n.consensusSvc.IsLeader()
}

// PeerCount implements metrics.ClusterView.
func (n *Node) PeerCount() int {
	return len(n.peers)
}

// AppliedIndex implements metrics.ClusterView. The Byzantine/AsyncBFT
// engine has no separate "applied" index distinct from its committed
// log — last_committed doubles as both — so this reads last_committed
// for those algorithms and applied_index for Raft.
func (n *Node) AppliedIndex() uint64 {
	stats := n.consensusSvc.Stats()
	if v, ok := uintField(stats, "applied_index"); ok {
		return v
	}
	v, _ := uintField(stats, "last_committed")
	return v
}

// LastLogIndex implements metrics.ClusterView.
func (n *Node) LastLogIndex() uint64 {
	stats := n.consensusSvc.Stats()
	if v, ok := uintField(stats, "last_log_index"); ok {
		return v
	}
	v, _ := uintField(stats, "last_committed")
	return v
}

// CollectionCounts implements metrics.ClusterView: a per-collection
// document count, read straight from Cold (the durable source of truth).
func (n *Node) CollectionCounts() map[string]int {
	collections, err := n.cold.Collections()
	if err != nil {
		return nil
	}
	counts := make(map[string]int, len(collections))
	for _, c := range collections {
		if n, err := n.cold.Count(c); err == nil {
			counts[c] = n
		}
	}
	return counts
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func uintField(m map[string]any, key string) (uint64, bool) {
	switch v := m[key].(type) {
	case uint64:
		return v, true
	case uint:
		return uint64(v), true
	case int:
		return uint64(v), true
	case int64:
		return uint64(v), true
	default:
		return 0, false
	}
}
