package raftengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

type recordingApplier struct {
	mu  sync.Mutex
	ops []types.Operation
}

func (a *recordingApplier) Apply(op types.Operation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, op)
	return nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ops)
}

func waitForLeader(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.IsLeader() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("single-node cluster never elected itself leader")
}

func TestBootstrapSingleNodeBecomesLeaderAndApplies(t *testing.T) {
	applier := &recordingApplier{}
	cfg := Config{
		NodeID:       "node-1",
		BindAddr:     "127.0.0.1:0",
		DataDir:      t.TempDir(),
		MaxBatchSize: 10,
		ApplyTimeout: 2 * time.Second,
	}
	e := New(cfg, applier)
	if err := e.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer e.Shutdown()

	waitForLeader(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	entry, err := e.Propose(ctx, []types.Operation{{Kind: types.OpInsert, Collection: "users", DocumentID: "u1"}})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if len(entry.Outcomes) != 1 || !entry.Outcomes[0].Applied {
		t.Fatalf("expected operation applied, got %+v", entry.Outcomes)
	}
	if applier.count() != 1 {
		t.Fatalf("expected 1 applied op, got %d", applier.count())
	}

	stats := e.Stats()
	if stats["state"] != "Leader" {
		t.Fatalf("expected leader state in stats, got %v", stats["state"])
	}
}

func TestProposeRejectsEmptyBatch(t *testing.T) {
	applier := &recordingApplier{}
	cfg := Config{NodeID: "node-1", BindAddr: "127.0.0.1:0", DataDir: t.TempDir()}
	e := New(cfg, applier)
	if err := e.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer e.Shutdown()
	waitForLeader(t, e)

	_, err := e.Propose(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for empty proposal")
	}
}
