// Package consensus orders mutating operations across a shard's peer set
// before they reach storage. Byzantine and AsyncBFT run directly against
// the Engine in this package; Raft runs through pkg/consensus/raftengine.
package consensus
