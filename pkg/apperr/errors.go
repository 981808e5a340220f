// Package apperr centralizes the error kinds a caller across the data plane
// needs to branch on: is this retryable, is it an integrity fault, is it a
// deterministic rejection. Leaf components return these directly; orchestrators
// wrap them with fmt.Errorf("...: %w", err) so the kind survives errors.Is.
package apperr

import "errors"

// Transient errors are retryable by the caller, typically with backoff.
var (
	ErrTimeout             = errors.New("timeout")
	ErrPeerUnavailable     = errors.New("peer unavailable")
	ErrDegradedWrite       = errors.New("degraded write: fewer than required replicas acknowledged")
	ErrBackpressure        = errors.New("backpressure: tier write rejected")
)

// Integrity errors are never silently retried; they are surfaced and logged.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrVersionMismatch  = errors.New("version mismatch")
)

// Consensus errors: the caller may retry after a view change completes.
var (
	ErrNoQuorum            = errors.New("no quorum")
	ErrViewChangeInProgress = errors.New("view change in progress")
	ErrByzantineEvidence   = errors.New("byzantine evidence recorded")
)

// Data errors are deterministic; retrying without changing the request never helps.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Resource errors surface capacity problems to the caller.
var (
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrStorageFull   = errors.New("storage full")
	ErrCodecMismatch = errors.New("codec mismatch: declared algorithm unavailable")
)

// Fatal errors mean the node must refuse to serve until operator intervention.
var (
	ErrCorruptLog      = errors.New("committed log is corrupt")
	ErrIdentityMissing = errors.New("node identity missing")
)

// Additional deterministic kinds used by the conflict and consensus engines.
var (
	ErrResolverMissing = errors.New("conflict resolver not registered")
	ErrManualReview    = errors.New("conflict requires manual review")
)
