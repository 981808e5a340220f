package transport

import (
	"github.com/aerolithdb/aerolithdb/pkg/consensus"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

const serviceName = "aerolithdb.Transport"

const (
	methodGossip    = "/" + serviceName + "/Gossip"
	methodPutObject = "/" + serviceName + "/PutObject"
	methodGetObject = "/" + serviceName + "/GetObject"
)

// gossipKind discriminates which field of Envelope is populated; Envelope
// carries exactly one consensus message per call, the union standing in
// for what a .proto oneof would express.
type gossipKind string

const (
	gossipProposal   gossipKind = "proposal"
	gossipVote       gossipKind = "vote"
	gossipCommit     gossipKind = "commit"
	gossipAbort      gossipKind = "abort"
	gossipHeartbeat  gossipKind = "heartbeat"
	gossipViewChange gossipKind = "view_change"
)

// envelope is the single message type every consensus broadcast travels
// in. Exactly one of the pointer fields matching Kind is populated.
type envelope struct {
	Kind       gossipKind                 `json:"kind"`
	Proposal   *types.Proposal            `json:"proposal,omitempty"`
	Vote       *types.Vote                `json:"vote,omitempty"`
	Commit     *consensus.CommitMessage   `json:"commit,omitempty"`
	Abort      *consensus.AbortMessage    `json:"abort,omitempty"`
	Heartbeat  *consensus.HeartbeatMessage `json:"heartbeat,omitempty"`
	ViewChange *consensus.ViewChangeMessage `json:"view_change,omitempty"`
}

// ack is the empty reply every Gossip call returns; broadcasts are
// fire-and-forget from the caller's perspective, so the only thing worth
// reporting is whether the RPC itself succeeded.
type ack struct{}

type putObjectRequest struct {
	Key    types.Key      `json:"key"`
	Object *storage.Object `json:"object"`
}

type putObjectResponse struct{}

type getObjectRequest struct {
	Key types.Key `json:"key"`
}

type getObjectResponse struct {
	Object *storage.Object `json:"object"`
}
