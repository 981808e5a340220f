package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/config"
)

func testConfig(t *testing.T, algorithm string) config.Configuration {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node-1"
	cfg.DataDir = t.TempDir()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.Cluster.RaftBindAddr = "127.0.0.1:0"
	cfg.Consensus.Algorithm = algorithm
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNewBootstrapsSingleNodeByzantine(t *testing.T) {
	n, err := New(testConfig(t, "Byzantine"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := n.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	info := n.NodeInfo()
	if info.PeerID != "node-1" {
		t.Fatalf("expected peer id node-1, got %s", info.PeerID)
	}
	if info.Fingerprint == "" {
		t.Fatal("expected a non-empty identity fingerprint")
	}

	if got := n.ListCollections(); len(got) != 0 {
		t.Fatalf("expected no collections on a fresh node, got %v", got)
	}
	if !n.IsLeader() {
		t.Fatal("expected a single-node Byzantine cluster to consider itself leader")
	}
	if n.PeerCount() != 1 {
		t.Fatalf("expected peer count 1 (self only), got %d", n.PeerCount())
	}
}

func TestNewBootstrapsSingleNodeRaft(t *testing.T) {
	n, err := New(testConfig(t, "Raft"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := n.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	// hashicorp/raft's single-node BootstrapCluster elects itself leader
	// almost immediately, but not synchronously within New.
	deadline := time.Now().Add(5 * time.Second)
	for !n.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !n.IsLeader() {
		t.Fatal("expected single-node raft cluster to become leader")
	}
}

func TestStartAndShutdown(t *testing.T) {
	n, err := New(testConfig(t, "Byzantine"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := n.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestAdminSurfaceRoundTrip(t *testing.T) {
	// Raft, not Byzantine: a single-node Byzantine/AsyncBFT cluster can
	// never reach its own quorum (quorum() requires at least 2 accept
	// votes regardless of peer count), so writes only complete here with
	// Raft's n/2+1 rule, which single-node Raft satisfies trivially.
	n, err := New(testConfig(t, "Raft"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := n.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	ctx := context.Background()

	deadline := time.Now().Add(5 * time.Second)
	for !n.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !n.IsLeader() {
		t.Fatal("expected single-node raft cluster to become leader before exercising the admin surface")
	}

	qe := n.QueryEngine()
	if _, err := qe.StoreDocument(ctx, "widgets", "w1", map[string]any{"name": "gadget"}); err != nil {
		t.Fatal(err)
	}

	collections := n.ListCollections()
	if len(collections) != 1 || collections[0] != "widgets" {
		t.Fatalf("expected [widgets], got %v", collections)
	}

	status, err := n.ClusterStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Collections != 1 {
		t.Fatalf("expected 1 collection in cluster status, got %d", status.Collections)
	}
	if !status.IsLeader {
		t.Fatal("expected this node to report itself as leader")
	}

	if err := n.DropCollection(ctx, "widgets"); err != nil {
		t.Fatal(err)
	}
	if got := n.ListCollections(); len(got) != 0 {
		t.Fatalf("expected no collections after drop, got %v", got)
	}

	counts := n.CollectionCounts()
	if len(counts) != 0 {
		t.Fatalf("expected empty collection counts after drop, got %v", counts)
	}

	if _, err := n.Stats(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestResolveDirHonorsAbsoluteAndRelative(t *testing.T) {
	base := "/var/lib/aerolithdb"
	if got := resolveDir(base, ""); got != base {
		t.Fatalf("expected empty configured dir to fall back to base, got %s", got)
	}
	if got := resolveDir(base, "/elsewhere/cold"); got != "/elsewhere/cold" {
		t.Fatalf("expected an absolute configured dir to pass through, got %s", got)
	}
	if got := resolveDir(base, "cold"); got != filepath.Join(base, "cold") {
		t.Fatalf("expected a relative configured dir joined to base, got %s", got)
	}
}

func TestSplitPeerEntry(t *testing.T) {
	id, addr, err := splitPeerEntry("peer-2@10.0.0.2:7420")
	if err != nil {
		t.Fatal(err)
	}
	if id != "peer-2" || addr != "10.0.0.2:7420" {
		t.Fatalf("unexpected split: id=%s addr=%s", id, addr)
	}
	if _, _, err := splitPeerEntry("malformed"); err == nil {
		t.Fatal("expected an error for an entry with no @host:port")
	}
}
