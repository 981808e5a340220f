package raftengine

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// Command is the payload of one Raft log entry: a batch of document
// operations proposed together, mirroring consensus.Config.MaxBatchSize
// on the Byzantine/AsyncBFT side.
type Command struct {
	Operations []types.Operation `json:"operations"`
}

// FSM applies committed Raft log entries to an Applier. Unlike the
// container-orchestration FSM this is adapted from, document state
// itself lives in the storage hierarchy (Hot/Warm/Cold/Archive), which is
// durable independent of the Raft log; FSM.Snapshot/Restore therefore
// only need to track the applied index so Raft knows how far it can
// safely compact its own log, not replicate document bodies.
type FSM struct {
	mu      sync.RWMutex
	applier Applier
	applied uint64
}

// NewFSM constructs an FSM that forwards every committed operation to
// applier.
func NewFSM(applier Applier) *FSM {
	return &FSM{applier: applier}
}

// Apply unmarshals one committed Command and applies every operation in
// it in order, returning a []types.ApplyOutcome so Engine.Propose can
// report per-operation results back to the caller.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("raftengine: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	outcomes := make([]types.ApplyOutcome, len(cmd.Operations))
	for i, op := range cmd.Operations {
		err := f.applier.Apply(op)
		outcomes[i] = types.ApplyOutcome{Index: i, Applied: err == nil, Err: err}
	}
	f.applied = entry.Index
	return outcomes
}

// Snapshot returns the applied index so Raft can truncate its log up to
// that point; the document state it refers to already lives durably in
// the storage hierarchy.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &appliedIndexSnapshot{Applied: f.applied}, nil
}

// Restore reads the applied index back from a snapshot. Document contents
// are not part of the snapshot: they live durably in the storage
// hierarchy, not in Raft's snapshot store.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap appliedIndexSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("raftengine: decode snapshot: %w", err)
	}
	f.mu.Lock()
	f.applied = snap.Applied
	f.mu.Unlock()
	return nil
}

type appliedIndexSnapshot struct {
	Applied uint64 `json:"applied"`
}

func (s *appliedIndexSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *appliedIndexSnapshot) Release() {}
