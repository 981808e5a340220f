/*
Package query is where every other subsystem this module builds actually
gets used together: a write becomes a consensus.Operation, consensus
calls back into Engine.Apply to run it against the storage hierarchy, the
document that apply produces is JSON-encoded, optionally encrypted
(pkg/crypto) and always compressed (pkg/codec) before it reaches
Hierarchy.Put, and a reader gets the reverse pipeline plus a checksum
verification (pkg/integrity). A replica pushed in by another peer
(transport.LocalStore.Put) goes through pkg/conflict instead of a plain
overwrite, since — unlike a consensus-applied write, which is already
totally ordered within its round — two independently written versions of
the same document can be genuinely concurrent by vector clock.

# Why conflict resolution lives here, not in Apply

Apply's version check is plain optimistic concurrency: consensus already
serializes every operation in a round, so "does ExpectedVersion match" is
enough. Put's caller is a remote peer pushing a replica out of band with
consensus entirely — replication.Manager's fan-out, not a proposal — so
two writes can race with neither happening-before the other. That's
exactly the condition conflict.Engine.Detect checks for.

# Scan cost

QueryDocuments has no index to consult: it lists every ID in a
collection's Cold bucket, reads each one through the Hierarchy (so a hot
document costs a cache hit, not a disk read), and only then filters,
sorts, and paginates. Secondary indexes are an explicit non-goal.
*/
package query
