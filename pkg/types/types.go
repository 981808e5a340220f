// Package types holds the data model shared across the data plane:
// documents, collections, peers, and the consensus wire entities (proposals,
// votes, committed entries, conflicts). Storage owns the on-disk byte
// representation of these types; consensus owns proposal/vote/log state;
// documents themselves are shared-read — any subsystem may hold an
// immutable snapshot.
package types

import (
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/vectorclock"
)

// PeerID is an opaque, stable identifier assigned at node genesis.
type PeerID string

// Document is a single JSON document version. Version is strictly monotone
// per (Collection, ID); Checksum is Blake3(canonical(Data)).
type Document struct {
	ID          string
	Collection  string
	Data        any
	Version     uint64
	VectorClock vectorclock.Clock
	Timestamp   time.Time
	Checksum    [32]byte
	Size        int
	Author      PeerID

	// Encrypted, if non-nil, replaces Data as the at-rest representation;
	// the query engine decrypts on read when encryption_at_rest is enabled.
	Encrypted []byte
	ACL       []string
}

// DocumentVersion is the narrower view of a Document the conflict-resolution
// engine operates on.
type DocumentVersion struct {
	Data        any
	Version     uint64
	Timestamp   time.Time
	Author      PeerID
	VectorClock vectorclock.Clock
}

// AsVersion projects a Document down to the fields conflict resolution needs.
func (d *Document) AsVersion() DocumentVersion {
	return DocumentVersion{
		Data:        d.Data,
		Version:     d.Version,
		Timestamp:   d.Timestamp,
		Author:      d.Author,
		VectorClock: d.VectorClock,
	}
}

// Key identifies a document by its (collection, id) pair, the unit every
// storage tier and the per-document mutex are keyed by.
type Key struct {
	Collection string
	ID         string
}

func (k Key) String() string {
	return k.Collection + "/" + k.ID
}

// Collection is an implicit namespace, created on first insert and dropped
// by an explicit DropCollection operation.
type Collection struct {
	Name      string
	CreatedAt time.Time
}

// OperationKind enumerates the mutations a Proposal may carry.
type OperationKind string

const (
	OpInsert           OperationKind = "insert"
	OpUpdate           OperationKind = "update"
	OpDelete           OperationKind = "delete"
	OpCreateCollection OperationKind = "create_collection"
	OpDropCollection   OperationKind = "drop_collection"
)

// Operation is one unit of work a Proposal commits. ExpectedVersion is only
// meaningful for OpUpdate/OpDelete, and is checked at apply time, not at
// proposal time — a mismatch is reported in the commit outcome.
type Operation struct {
	Kind            OperationKind
	Collection      string
	DocumentID      string
	Data            any
	ExpectedVersion uint64
	Schema          any // optional, for OpCreateCollection
}

// Proposal is a transient consensus unit: one or more batched Operations a
// proposer wants the peer set to agree on.
type Proposal struct {
	ID         string
	Round      uint64
	Proposer   PeerID
	Operations []Operation
	Timestamp  time.Time
	Signature  []byte
}

// VoteDecision is a peer's ballot on a Proposal.
type VoteDecision string

const (
	VoteAccept  VoteDecision = "accept"
	VoteReject  VoteDecision = "reject"
	VoteAbstain VoteDecision = "abstain"
)

// Vote is one peer's signed ballot on a proposal.
type Vote struct {
	ProposalID string
	Voter      PeerID
	Decision   VoteDecision
	Timestamp  time.Time
	Signature  []byte
}

// ApplyOutcome reports, per operation in a committed proposal, whether it
// applied cleanly or hit a deterministic failure such as VersionMismatch.
type ApplyOutcome struct {
	Index   int
	Applied bool
	Err     error
}

// CommittedEntry is a permanent, append-only log entry: the proposal that
// won quorum, the votes that got it there, and when/where it landed.
type CommittedEntry struct {
	Round       uint64
	Proposal    Proposal
	Votes       []Vote
	CommittedAt time.Time
	Outcomes    []ApplyOutcome
}

// ConflictKind distinguishes why two versions are in conflict.
type ConflictKind string

const (
	ConflictFieldLevel ConflictKind = "field_level"
	ConflictWholeDoc   ConflictKind = "whole_document"
)

// Conflict is produced when Detect finds two concurrent versions of the same
// document whose data actually differs.
type Conflict struct {
	DocumentID            string
	Collection            string
	Local                 DocumentVersion
	Remote                DocumentVersion
	Kind                  ConflictKind
	ConflictingFieldPaths []string
}

// Resolution is the output of applying a conflict-resolution strategy.
type Resolution struct {
	ResolvedData         any
	ResolvedVersion      uint64
	ResolvedVectorClock  vectorclock.Clock
	StrategyName         string
	Metadata             map[string]string
	RequiresManualReview bool
}
