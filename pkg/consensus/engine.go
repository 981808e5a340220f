package consensus

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/crypto"
	"github.com/aerolithdb/aerolithdb/pkg/log"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// pendingProposal tracks the in-flight voting state for one proposal: the
// votes seen so far and a channel the proposer (or any peer waiting on the
// outcome) can block on until it commits or aborts.
type pendingProposal struct {
	proposal types.Proposal
	state    ProposalState
	votes    map[types.PeerID]types.Vote
	done     chan struct{}
	result   types.CommittedEntry
	err      error
}

// Engine runs the Byzantine or AsyncBFT proposal/vote/commit state
// machine. The Raft variant is pkg/consensus/raftengine.Engine instead —
// it satisfies the same shape of operations (Propose/IsLeader/Stats) but
// delegates ordering entirely to hashicorp/raft.
type Engine struct {
	cfg      Config
	self     types.PeerID
	peers    []types.PeerID // includes self, stable sorted order
	peerKeys map[types.PeerID]ed25519.PublicKey
	identity *crypto.NodeIdentity

	applier     Applier
	broadcaster Broadcaster
	log         *Log
	logger      zerolog.Logger

	mu          sync.Mutex
	nextRound   uint64
	currentView uint64
	pending     map[string]*pendingProposal // by proposal ID
	isolated    map[types.PeerID]bool       // peers with recorded Byzantine evidence
	lastVote    map[voteKey]types.VoteDecision
	lastSeen    map[types.PeerID]time.Time
	viewVotes   map[uint64]map[types.PeerID]bool

	batchSize int // adaptive ceiling on ops per proposal; see recordAckLatency

	stopHeartbeat context.CancelFunc
}

type voteKey struct {
	proposalID string
	voter      types.PeerID
}

// NewEngine constructs a Byzantine/AsyncBFT Engine. peers must include
// self; peerKeys supplies the Ed25519 public key used to verify each
// peer's signed proposals and votes.
func NewEngine(cfg Config, self types.PeerID, peers []types.PeerID, identity *crypto.NodeIdentity, peerKeys map[types.PeerID]ed25519.PublicKey, applier Applier, committedLog *Log) *Engine {
	sorted := append([]types.PeerID(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &Engine{
		cfg:      cfg,
		self:     self,
		peers:    sorted,
		peerKeys: peerKeys,
		identity: identity,
		applier:  applier,
		log:      committedLog,
		logger:   log.WithComponent("consensus"),
		pending:  make(map[string]*pendingProposal),
		isolated: make(map[types.PeerID]bool),
		lastVote: make(map[voteKey]types.VoteDecision),
		lastSeen: make(map[types.PeerID]time.Time),
		viewVotes: make(map[uint64]map[types.PeerID]bool),
		batchSize: cfg.MaxBatchSize,
	}
}

// SetBroadcaster wires in the peer transport once it is constructed,
// mirroring how storage.Hierarchy defers its ColdWriter.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

// IsLeader reports whether self is the current view's leader: the peer at
// index (currentView mod len(peers)) in the stable sorted peer list. This
// is a simplified rotating-leader rule; Raft's own leader election lives
// in raftengine and is authoritative when Config.Algorithm == Raft.
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderLocked() == e.self
}

func (e *Engine) leaderLocked() types.PeerID {
	if len(e.peers) == 0 {
		return e.self
	}
	return e.peers[e.currentView%uint64(len(e.peers))]
}

// Stats reports the engine's current view, isolated-peer count, and last
// committed round, for admin_surface's cluster_status().
func (e *Engine) Stats() map[string]any {
	e.mu.Lock()
	view := e.currentView
	isolated := len(e.isolated)
	leader := e.leaderLocked()
	e.mu.Unlock()

	last, _ := e.log.LastIndex()
	return map[string]any{
		"algorithm":          string(e.cfg.Algorithm),
		"view":               view,
		"leader":             string(leader),
		"isolated_peers":     isolated,
		"last_committed":     last,
		"peer_count":         len(e.peers),
		"current_batch_size": e.BatchSize(),
	}
}

// BatchSize returns the ceiling currently applied to new proposals'
// operation count. It starts at Config.MaxBatchSize and shrinks or grows
// as recordAckLatencyLocked observes peer vote round-trips relative to
// Config.Timeout/4.
func (e *Engine) BatchSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchSize
}

// recordAckLatencyLocked adjusts batchSize from one observed peer vote
// latency: a round-trip slower than Timeout/4 halves the ceiling (floor
// 1), since a batch-proposal taking that long to ack is the clearest
// local signal that peers are struggling to keep up, while a
// comfortably fast round-trip (under half that threshold) grows it back
// one step at a time toward Config.MaxBatchSize. Both cfg.MaxBatchSize
// <= 0 (unbounded) and cfg.Timeout <= 0 (no deadline to measure against)
// leave batchSize untouched. Caller must hold e.mu.
func (e *Engine) recordAckLatencyLocked(latency time.Duration) {
	if e.cfg.MaxBatchSize <= 0 || e.cfg.Timeout <= 0 {
		return
	}
	threshold := e.cfg.Timeout / 4

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

// quorumSize returns the accept-vote threshold for the configured
// algorithm over the current (non-isolated) peer set.
func (e *Engine) quorumSize() int {
	active := 0
	for _, p := range e.peers {
		if !e.isolated[p] {
			active++
		}
	}
	return quorum(e.cfg.Algorithm, active, e.cfg.ByzantineTolerance)
}

// Propose batches ops (up to Config.MaxBatchSize) into a signed Proposal,
// broadcasts it, casts this peer's own vote, and blocks until the
// proposal commits, aborts, or ctx's deadline expires.
func (e *Engine) Propose(ctx context.Context, ops []types.Operation) (types.CommittedEntry, error) {
	if len(ops) == 0 {
		return types.CommittedEntry{}, fmt.Errorf("consensus: %w: empty proposal", apperr.ErrInvalidOperation)
	}
	if limit := e.BatchSize(); limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}

	e.mu.Lock()
	round := e.nextRound
	e.nextRound++
	proposal := types.Proposal{
		ID:         uuid.NewString(),
		Round:      round,
		Proposer:   e.self,
		Operations: ops,
		Timestamp:  time.Now(),
	}
	proposal.Signature = e.identity.Sign(proposalSigningBytes(proposal))

	pp := &pendingProposal{
		proposal: proposal,
		state:    StateProposed,
		votes:    make(map[types.PeerID]types.Vote),
		done:     make(chan struct{}),
	}
	e.pending[proposal.ID] = pp
	e.mu.Unlock()

	if e.broadcaster != nil {
		if err := e.broadcaster.BroadcastProposal(proposal); err != nil {
			e.logger.Warn().Err(err).Str("proposal_id", proposal.ID).Msg("broadcast proposal failed")
		}
	}

	// The proposer always votes Accept on its own well-formed proposal.
	if err := e.castVote(proposal.ID, round, types.VoteAccept); err != nil {
		return types.CommittedEntry{}, err
	}

	select {
	case <-pp.done:
		return pp.result, pp.err
	case <-ctx.Done():
		return types.CommittedEntry{}, fmt.Errorf("consensus: proposal %s: %w", proposal.ID, apperr.ErrTimeout)
	}
}

// HandleProposal is called when a peer's signed Proposal arrives. It
// validates the signature and batch size, casts this peer's vote, and
// broadcasts it.
func (e *Engine) HandleProposal(proposal types.Proposal) error {
	e.mu.Lock()
	if e.isolated[proposal.Proposer] {
		e.mu.Unlock()
		return fmt.Errorf("consensus: proposer %s: %w", proposal.Proposer, apperr.ErrByzantineEvidence)
	}
	pubKey, known := e.peerKeys[proposal.Proposer]
	e.mu.Unlock()

	decision := types.VoteAccept
	if !known || !crypto.Verify(pubKey, proposalSigningBytes(proposal), proposal.Signature) {
		decision = types.VoteReject
	} else if e.cfg.MaxBatchSize > 0 && len(proposal.Operations) > e.cfg.MaxBatchSize {
		decision = types.VoteReject
	}

	e.mu.Lock()
	if _, exists := e.pending[proposal.ID]; !exists {
		e.pending[proposal.ID] = &pendingProposal{
			proposal: proposal,
			state:    StateVoting,
			votes:    make(map[types.PeerID]types.Vote),
			done:     make(chan struct{}),
		}
	}
	e.mu.Unlock()

	return e.castVote(proposal.ID, proposal.Round, decision)
}

func (e *Engine) castVote(proposalID string, round uint64, decision types.VoteDecision) error {
	vote := types.Vote{
		ProposalID: proposalID,
		Voter:      e.self,
		Decision:   decision,
		Timestamp:  time.Now(),
	}
	vote.Signature = e.identity.Sign(voteSigningBytes(vote))

	if err := e.HandleVote(vote); err != nil {
		return err
	}
	if e.broadcaster != nil {
		if err := e.broadcaster.BroadcastVote(vote); err != nil {
			e.logger.Warn().Err(err).Str("proposal_id", proposalID).Msg("broadcast vote failed")
		}
	}
	return nil
}

// HandleVote records an incoming vote, detects Byzantine double-voting,
// and commits or aborts the proposal once enough votes have accumulated.
func (e *Engine) HandleVote(vote types.Vote) error {
	e.mu.Lock()

	key := voteKey{proposalID: vote.ProposalID, voter: vote.Voter}
	if prior, seen := e.lastVote[key]; seen && prior != vote.Decision {
		e.isolated[vote.Voter] = true
		e.mu.Unlock()
		metrics.ByzantineEvidenceTotal.WithLabelValues("double_vote").Inc()
		e.logger.Warn().Str("voter", string(vote.Voter)).Msg("conflicting votes from same voter in same round: isolating peer")
		return fmt.Errorf("consensus: voter %s: %w", vote.Voter, apperr.ErrByzantineEvidence)
	}
	e.lastVote[key] = vote.Decision

	pp, ok := e.pending[vote.ProposalID]
	if !ok {
		e.mu.Unlock()
		return nil // vote for a proposal we haven't seen the Propose for yet
	}
	if pp.state == StateCommitted || pp.state == StateAborted {
		e.mu.Unlock()
		return nil
	}
	pp.votes[vote.Voter] = vote
	pp.state = StateVoting

	if vote.Voter != e.self {
		e.recordAckLatencyLocked(vote.Timestamp.Sub(pp.proposal.Timestamp))
	}

	accepts, rejects := 0, 0
	for _, v := range pp.votes {
		switch v.Decision {
		case types.VoteAccept:
			accepts++
		case types.VoteReject:
			rejects++
		}
	}

	needed := e.quorumSize()
	switch {
	case accepts >= needed:
		e.mu.Unlock()
		e.commit(pp)
		return nil
	case rejects >= needed:
		e.mu.Unlock()
		e.abort(pp, "reject threshold reached")
		return nil
	}
	e.mu.Unlock()
	return nil
}

// commit applies every operation in the proposal to the Applier, appends
// a CommittedEntry to the durable log, and wakes up any Propose call
// blocked on this proposal's outcome.
func (e *Engine) commit(pp *pendingProposal) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConsensusCommitDuration)

	outcomes := make([]types.ApplyOutcome, len(pp.proposal.Operations))
	for i, op := range pp.proposal.Operations {
		applyTimer := metrics.NewTimer()
		err := e.applier.Apply(op)
		applyTimer.ObserveDuration(metrics.ConsensusApplyDuration)
		outcomes[i] = types.ApplyOutcome{Index: i, Applied: err == nil, Err: err}
	}

	votes := make([]types.Vote, 0, len(pp.votes))
	for _, v := range pp.votes {
		votes = append(votes, v)
	}

	entry := types.CommittedEntry{
		Round:       pp.proposal.Round,
		Proposal:    pp.proposal,
		Votes:       votes,
		CommittedAt: time.Now(),
		Outcomes:    outcomes,
	}

	e.mu.Lock()
	pp.state = StateCommitted
	pp.result = entry
	if err := e.log.Append(entry); err != nil {
		pp.err = err
	}
	e.mu.Unlock()

	close(pp.done)

	if last, err := e.log.LastIndex(); err == nil {
		metrics.ConsensusLogIndex.Set(float64(last))
		metrics.ConsensusAppliedIndex.Set(float64(last))
	}

	if e.broadcaster != nil {
		_ = e.broadcaster.BroadcastCommit(CommitMessage{
			ProposalID:  pp.proposal.ID,
			Round:       pp.proposal.Round,
			CommittedAt: entry.CommittedAt.UnixNano(),
		})
	}
}

func (e *Engine) abort(pp *pendingProposal, reason string) {
	e.mu.Lock()
	pp.state = StateAborted
	pp.err = fmt.Errorf("consensus: proposal %s: %w: %s", pp.proposal.ID, apperr.ErrNoQuorum, reason)
	e.mu.Unlock()
	close(pp.done)

	if e.broadcaster != nil {
		_ = e.broadcaster.BroadcastAbort(AbortMessage{ProposalID: pp.proposal.ID, Round: pp.proposal.Round, Reason: reason})
	}
}

// StartHeartbeat launches the background loop emitting a heartbeat every
// Config.Timeout/3.
func (e *Engine) StartHeartbeat(ctx context.Context) {
	hbCtx, cancel := context.WithCancel(ctx)
	e.stopHeartbeat = cancel
	interval := e.cfg.Timeout / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				e.emitHeartbeat()
				e.checkSuspectLeader()
			}
		}
	}()
}

// StopHeartbeat halts the background heartbeat loop.
func (e *Engine) StopHeartbeat() {
	if e.stopHeartbeat != nil {
		e.stopHeartbeat()
	}
}

func (e *Engine) emitHeartbeat() {
	last, _ := e.log.LastIndex()
	if e.broadcaster != nil {
		_ = e.broadcaster.BroadcastHeartbeat(HeartbeatMessage{Peer: e.self, LastCommittedRound: last})
	}
	e.mu.Lock()
	e.lastSeen[e.self] = time.Now()
	e.mu.Unlock()
}

// HandleHeartbeat records that peer is alive as of now.
func (e *Engine) HandleHeartbeat(msg HeartbeatMessage) {
	e.mu.Lock()
	e.lastSeen[msg.Peer] = time.Now()
	e.mu.Unlock()
}

// checkSuspectLeader triggers a view change if the current leader hasn't
// been heard from within Config.Timeout.
func (e *Engine) checkSuspectLeader() {
	e.mu.Lock()
	leader := e.leaderLocked()
	last, seen := e.lastSeen[leader]
	suspect := leader != e.self && (!seen || time.Since(last) > e.cfg.Timeout)
	view := e.currentView
	e.mu.Unlock()

	if suspect {
		e.RequestViewChange(view + 1)
	}
}

// RequestViewChange broadcasts this peer's vote for newView and applies
// it locally.
func (e *Engine) RequestViewChange(newView uint64) {
	last, _ := e.log.LastIndex()
	msg := ViewChangeMessage{NewView: newView, Peer: e.self, LastCommitted: last}
	e.HandleViewChange(msg)
	if e.broadcaster != nil {
		_ = e.broadcaster.BroadcastViewChange(msg)
	}
}

// HandleViewChange tallies a view-change vote and, once more than 2f+1
// peers have signed on to the same view, advances currentView and
// resumes as the new leader (whichever peer the rotation rule selects).
func (e *Engine) HandleViewChange(msg ViewChangeMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.viewVotes[msg.NewView] == nil {
		e.viewVotes[msg.NewView] = make(map[types.PeerID]bool)
	}
	e.viewVotes[msg.NewView][msg.Peer] = true

	threshold := int(2*float64(len(e.peers))*e.cfg.ByzantineTolerance) + 2
	if len(e.viewVotes[msg.NewView]) >= threshold && msg.NewView > e.currentView {
		e.currentView = msg.NewView
		metrics.ConsensusViewChangesTotal.Inc()
		e.logger.Info().Uint64("view", msg.NewView).Msg("view change committed")
	}
}

// proposalSigningBytes and voteSigningBytes produce the canonical byte
// sequence signed over a Proposal/Vote — deliberately excluding the
// Signature field itself.
func proposalSigningBytes(p types.Proposal) []byte {
	buf := []byte(p.ID)
	buf = appendUint64(buf, p.Round)
	buf = append(buf, []byte(p.Proposer)...)
	for _, op := range p.Operations {
		buf = append(buf, []byte(op.Kind)...)
		buf = append(buf, []byte(op.Collection)...)
		buf = append(buf, []byte(op.DocumentID)...)
	}
	return buf
}

func voteSigningBytes(v types.Vote) []byte {
	buf := []byte(v.ProposalID)
	buf = append(buf, []byte(v.Voter)...)
	buf = append(buf, []byte(v.Decision)...)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.BigEndian.PutUint64(tmp, v)
	return append(buf, tmp...)
}
