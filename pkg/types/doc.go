// Package types defines the data model shared across the data plane:
// Document, Collection, the consensus wire entities (Proposal, Vote,
// CommittedEntry), and Conflict. Documents are shared-read — once a version
// is persisted it is never mutated in place; a write produces a new
// Document with a higher Version and a merged VectorClock.
package types
