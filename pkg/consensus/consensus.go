// Package consensus implements the proposal/vote/commit state machine that
// orders every mutating operation a shard's peer set must agree on. Three
// algorithm variants share the same Proposal/Vote/CommittedEntry wire
// shapes (pkg/types) and the same Engine interface; the Byzantine and
// AsyncBFT variants are implemented directly in this package, while Raft
// delegates to pkg/consensus/raftengine, which wraps hashicorp/raft.
package consensus

import (
	"time"
)

// Algorithm selects which consensus variant an Engine runs.
type Algorithm string

const (
	Byzantine Algorithm = "byzantine"
	Raft      Algorithm = "raft"
	AsyncBFT  Algorithm = "async_bft"
)

// Config configures a consensus Engine: algorithm, byzantine_tolerance,
// timeout, max_batch_size, and conflict_resolution.
type Config struct {
	Algorithm          Algorithm
	ByzantineTolerance float64 // f, the assumed fraction of faulty peers, in (0, 0.5)
	Timeout            time.Duration
	MaxBatchSize       int
	ConflictResolution string
}

// ProposalState names a position in the proposal lifecycle state machine:
// Proposed -> Voting -> (Committed | Aborted), with a ViewChanged branch
// reachable from Voting on leader timeout (Byzantine/Raft only).
type ProposalState string

const (
	StateProposed    ProposalState = "proposed"
	StateVoting      ProposalState = "voting"
	StateCommitted   ProposalState = "committed"
	StateAborted     ProposalState = "aborted"
	StateViewChanged ProposalState = "view_changed"
)

// quorum returns the number of Accept votes out of n peers required to
// commit a proposal under algorithm, given Byzantine tolerance f.
//
// Byzantine and AsyncBFT both need a vote count that guarantees at least
// one honest peer overlaps any two quorums even if f*n peers are faulty:
// > 2(n*f)+1, with f coming from ConsensusConfig.byzantine_tolerance as a
// fraction of assumed-faulty peers rather than a fixed peer count, which
// is what makes this formula well-defined for any cluster size.
func quorum(algorithm Algorithm, n int, f float64) int {
	switch algorithm {
	case Raft:
		return n/2 + 1
	default: // Byzantine, AsyncBFT
		return int(2*(float64(n)*f)) + 2
	}
}
