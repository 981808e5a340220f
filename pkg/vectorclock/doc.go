/*
Package vectorclock tracks causal history across peers.

Each document version carries a Clock: a map from peer ID to a monotonically
increasing counter. A local write increments the local peer's entry; a
receive merges the sender's clock in (pointwise max) and then increments the
receiver's own entry. Comparing two clocks yields one of four relations —
Equal, Before, After, or Concurrent — and Concurrent is exactly the signal
the conflict-resolution engine uses to decide two versions need reconciling
rather than one simply superseding the other.

Vector clocks on stored documents are immutable once persisted: an update
produces a new Clock value rather than mutating the old one in place.
*/
package vectorclock
