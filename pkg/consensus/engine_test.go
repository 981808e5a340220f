package consensus

import (
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/crypto"
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

// hub wires a small fixed set of Engines together so BroadcastProposal and
// BroadcastVote reach every peer but the sender, emulating a Transport
// without pulling in pkg/transport.
type hub struct {
	engines map[types.PeerID]*Engine
}

func (h *hub) forEachExcept(self types.PeerID, fn func(*Engine)) {
	for id, e := range h.engines {
		if id == self {
			continue
		}
		fn(e)
	}
}

type hubBroadcaster struct {
	self types.PeerID
	hub  *hub
}

func (b *hubBroadcaster) BroadcastProposal(p types.Proposal) error {
	b.hub.forEachExcept(b.self, func(e *Engine) { _ = e.HandleProposal(p) })
	return nil
}
func (b *hubBroadcaster) BroadcastVote(v types.Vote) error {
	b.hub.forEachExcept(b.self, func(e *Engine) { _ = e.HandleVote(v) })
	return nil
}
func (b *hubBroadcaster) BroadcastCommit(CommitMessage) error       { return nil }
func (b *hubBroadcaster) BroadcastAbort(AbortMessage) error         { return nil }
func (b *hubBroadcaster) BroadcastHeartbeat(HeartbeatMessage) error { return nil }
func (b *hubBroadcaster) BroadcastViewChange(ViewChangeMessage) error {
	b.hub.forEachExcept(b.self, func(e *Engine) { e.HandleViewChange(ViewChangeMessage{}) })
	return nil
}

func newCluster(t *testing.T, n int, algorithm Algorithm, tolerance float64) (*hub, []*Engine, []*recordingApplier) {
	t.Helper()
	peerIDs := make([]types.PeerID, n)
	identities := make([]*crypto.NodeIdentity, n)
	peerKeys := make(map[types.PeerID]ed25519.PublicKey)

	for i := 0; i < n; i++ {
		peerIDs[i] = types.PeerID("peer-" + string(rune('a'+i)))
		id, err := crypto.GenerateIdentity(peerIDs[i])
		if err != nil {
			t.Fatal(err)
		}
		identities[i] = id
		peerKeys[peerIDs[i]] = id.SigningPublicKey
	}

	h := &hub{engines: make(map[types.PeerID]*Engine)}
	applier := make([]*recordingApplier, n)
	engines := make([]*Engine, n)

	cfg := Config{Algorithm: algorithm, ByzantineTolerance: tolerance, Timeout: 2 * time.Second, MaxBatchSize: 10}

	for i := 0; i < n; i++ {
		logPath := filepath.Join(t.TempDir(), "log.db")
		cLog, err := NewLog(logPath)
		if err != nil {
			t.Fatal(err)
		}
		applier[i] = &recordingApplier{}
		e := NewEngine(cfg, peerIDs[i], peerIDs, identities[i], peerKeys, applier[i], cLog)
		e.SetBroadcaster(&hubBroadcaster{self: peerIDs[i], hub: h})
		engines[i] = e
		h.engines[peerIDs[i]] = e
	}
	return h, engines, applier
}

func TestProposeCommitsAcrossCluster(t *testing.T) {
	_, engines, appliers := newCluster(t, 3, Byzantine, 0.0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entry, err := engines[0].Propose(ctx, []types.Operation{{Kind: types.OpInsert, Collection: "users", DocumentID: "u1"}})
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}
	if len(entry.Outcomes) != 1 || !entry.Outcomes[0].Applied {
		t.Fatalf("expected operation applied, got %+v", entry.Outcomes)
	}
	for i, a := range appliers {
		a.mu.Lock()
		n := len(a.ops)
		a.mu.Unlock()
		if n != 1 {
			t.Fatalf("peer %d: expected 1 applied op, got %d", i, n)
		}
	}
}

func TestQuorumFormulaRaftVsByzantine(t *testing.T) {
	if got := quorum(Raft, 5, 0); got != 3 {
		t.Fatalf("raft quorum(5): expected 3, got %d", got)
	}
	if got := quorum(Byzantine, 4, 0.25); got != 4 {
		t.Fatalf("byzantine quorum(4, f=0.25): expected 4, got %d", got)
	}
}

func TestHandleVoteDetectsDoubleVoteAndIsolatesPeer(t *testing.T) {
	_, engines, _ := newCluster(t, 3, Byzantine, 0.0)
	e := engines[0]

	first := types.Vote{ProposalID: "p1", Voter: "peer-b", Decision: types.VoteAccept, Timestamp: time.Now()}
	if err := e.HandleVote(first); err != nil {
		t.Fatalf("first vote should be accepted cleanly: %v", err)
	}

	second := types.Vote{ProposalID: "p1", Voter: "peer-b", Decision: types.VoteReject, Timestamp: time.Now()}
	err := e.HandleVote(second)
	if err == nil {
		t.Fatal("expected conflicting vote from same voter to return an error")
	}
	if !errors.Is(err, apperr.ErrByzantineEvidence) {
		t.Fatalf("expected ErrByzantineEvidence, got %v", err)
	}

	e.mu.Lock()
	isolated := e.isolated["peer-b"]
	e.mu.Unlock()
	if !isolated {
		t.Fatal("expected peer-b to be isolated after double vote")
	}
}

func TestViewChangeAdvancesOnThreshold(t *testing.T) {
	_, engines, _ := newCluster(t, 3, Byzantine, 0.0)
	e := engines[0]

	e.HandleViewChange(ViewChangeMessage{NewView: 1, Peer: "peer-a"})
	e.HandleViewChange(ViewChangeMessage{NewView: 1, Peer: "peer-b"})

	e.mu.Lock()
	view := e.currentView
	e.mu.Unlock()
	if view != 1 {
		t.Fatalf("expected view to advance to 1 after threshold reached, got %d", view)
	}
}

func TestProposeAbortsOnTimeoutWithoutQuorum(t *testing.T) {
	cfg := Config{Algorithm: Byzantine, ByzantineTolerance: 0.4, Timeout: time.Second, MaxBatchSize: 10}
	logPath := filepath.Join(t.TempDir(), "log.db")
	cLog, err := NewLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	id, err := crypto.GenerateIdentity("solo")
	if err != nil {
		t.Fatal(err)
	}
	// A single isolated peer can never reach a quorum of 2*(1*0.4)+2 = 2
	// votes with only its own ballot, so Propose must time out via ctx.
	e := NewEngine(cfg, "solo", []types.PeerID{"solo"}, id, map[types.PeerID]ed25519.PublicKey{"solo": id.SigningPublicKey}, &recordingApplier{}, cLog)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = e.Propose(ctx, []types.Operation{{Kind: types.OpInsert, Collection: "c", DocumentID: "d"}})
	if err == nil {
		t.Fatal("expected propose to time out without quorum")
	}
}

func TestRecordAckLatencyShrinksAndGrowsBatchSize(t *testing.T) {
	_, engines, _ := newCluster(t, 1, Byzantine, 0.0) // cfg: Timeout=2s, MaxBatchSize=10
	e := engines[0]

	if got := e.BatchSize(); got != 10 {
		t.Fatalf("expected initial batch size 10, got %d", got)
	}

	// Timeout/4 is 500ms; a 3s ack is well past it and should halve the
	// ceiling.
	e.mu.Lock()
	e.recordAckLatencyLocked(3 * time.Second)
	e.mu.Unlock()
	if got := e.BatchSize(); got != 5 {
		t.Fatalf("expected batch size halved to 5, got %d", got)
	}

	// Timeout/8 is 250ms; a 10ms ack is comfortably under it and should
	// grow the ceiling back by one step.
	e.mu.Lock()
	e.recordAckLatencyLocked(10 * time.Millisecond)
	e.mu.Unlock()
	if got := e.BatchSize(); got != 6 {
		t.Fatalf("expected batch size grown to 6, got %d", got)
	}
}

func TestRecordAckLatencyNeverGrowsPastMaxBatchSize(t *testing.T) {
	_, engines, _ := newCluster(t, 1, Byzantine, 0.0) // MaxBatchSize: 10
	e := engines[0]

	e.mu.Lock()
	e.recordAckLatencyLocked(time.Microsecond)
	e.mu.Unlock()
	if got := e.BatchSize(); got != 10 {
		t.Fatalf("expected batch size to stay at the configured ceiling of 10, got %d", got)
	}
}

func TestRecordAckLatencyFloorsAtOne(t *testing.T) {
	_, engines, _ := newCluster(t, 1, Byzantine, 0.0)
	e := engines[0]

	for i := 0; i < 10; i++ {
		e.mu.Lock()
		e.recordAckLatencyLocked(3 * time.Second)
		e.mu.Unlock()
	}
	if got := e.BatchSize(); got != 1 {
		t.Fatalf("expected batch size to floor at 1, got %d", got)
	}
}

func TestProposeShrinksBatchAfterSlowAck(t *testing.T) {
	_, engines, _ := newCluster(t, 3, Byzantine, 0.0)
	e := engines[0]

	// Simulate a peer vote that took far longer than Timeout/4 to arrive
	// by handing HandleVote a proposal whose recorded Timestamp is
	// already old.
	e.mu.Lock()
	pp := &pendingProposal{
		proposal: types.Proposal{ID: "slow-1", Round: 0, Proposer: e.self, Timestamp: time.Now().Add(-3 * time.Second)},
		state:    StateProposed,
		votes:    make(map[types.PeerID]types.Vote),
		done:     make(chan struct{}),
	}
	e.pending["slow-1"] = pp
	e.mu.Unlock()

	vote := types.Vote{ProposalID: "slow-1", Voter: "peer-b", Decision: types.VoteAccept, Timestamp: time.Now()}
	if err := e.HandleVote(vote); err != nil {
		t.Fatal(err)
	}

	if got := e.BatchSize(); got != 5 {
		t.Fatalf("expected batch size halved after slow ack, got %d", got)
	}
}
