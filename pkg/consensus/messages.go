package consensus

import (
	"context"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// Service is the shape both the Byzantine/AsyncBFT Engine in this package
// and raftengine.Engine implement, so pkg/node and pkg/query can depend
// on one consensus entrypoint regardless of Config.Algorithm.
type Service interface {
	Propose(ctx context.Context, ops []types.Operation) (types.CommittedEntry, error)
	IsLeader() bool
	Stats() map[string]any
}

// CommitMessage announces that a proposal reached quorum and was
// committed at round.
type CommitMessage struct {
	ProposalID  string
	Round       uint64
	CommittedAt int64 // unix nanos; avoids importing time into wire comparisons
}

// AbortMessage announces that a proposal failed to reach quorum, or was
// rejected outright.
type AbortMessage struct {
	ProposalID string
	Round      uint64
	Reason     string
}

// HeartbeatMessage is emitted by every peer every Config.Timeout/3 so the
// rest of the peer set can detect a silent leader and trigger a view
// change.
type HeartbeatMessage struct {
	Peer               types.PeerID
	LastCommittedRound uint64
}

// ViewChangeMessage is an unsigned request to advance to a new view (and
// therefore a new leader) after the current leader stops producing
// proposals within Config.Timeout.
type ViewChangeMessage struct {
	NewView       uint64
	Peer          types.PeerID
	LastCommitted uint64
}

// Applier applies one committed operation to the storage hierarchy. It is
// supplied by the layer that owns the Hierarchy (pkg/query or pkg/node) so
// consensus never imports storage directly.
type Applier interface {
	Apply(op types.Operation) error
}

// Broadcaster is the peer fan-out capability a Transport implementation
// provides. Consensus depends only on this narrow interface, not on
// pkg/transport, the same way storage depends on ColdWriter rather than
// pkg/replication.
type Broadcaster interface {
	BroadcastProposal(proposal types.Proposal) error
	BroadcastVote(vote types.Vote) error
	BroadcastCommit(msg CommitMessage) error
	BroadcastAbort(msg AbortMessage) error
	BroadcastHeartbeat(msg HeartbeatMessage) error
	BroadcastViewChange(msg ViewChangeMessage) error
}
