// Package vectorclock implements the causal-ordering primitive shared by the
// consensus log and the conflict-resolution engine: a peer-to-counter map
// that tracks "who wrote what and when" across nodes without forcing a
// single global order. Unknown peers read as counter zero on both sides of
// any comparison.
package vectorclock

import "sort"

// Relation describes how two vector clocks relate under the partial order
// induced by happens-before.
type Relation int

const (
	Equal Relation = iota
	Before
	After
	Concurrent
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// Clock is a peer identifier to monotonic counter mapping. The zero value is
// a valid, empty clock.
type Clock map[string]uint64

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Get returns peer's counter, defaulting to 0 for unknown peers.
func (c Clock) Get(peer string) uint64 {
	return c[peer]
}

// Increment bumps peer's counter by one, returning the clock for chaining.
// A nil receiver is never valid; callers hold clocks by value (map) so the
// mutation is visible to every alias of the same map.
func (c Clock) Increment(peer string) Clock {
	c[peer]++
	return c
}

// Copy returns an independent deep copy.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a new clock holding, for every peer appearing in either
// input, the pointwise maximum of the two counters. Merge is commutative and
// associative, and merge(a, a) == a.
func (c Clock) Merge(other Clock) Clock {
	out := c.Copy()
	for peer, v := range other {
		if v > out[peer] {
			out[peer] = v
		}
	}
	return out
}

// HappensBefore reports whether c happens-before other: every counter in c
// is <= the corresponding counter in other, and at least one is strictly
// less.
func (c Clock) HappensBefore(other Clock) bool {
	strictlyLess := false
	for _, peer := range unionPeers(c, other) {
		a, b := c[peer], other[peer]
		if a > b {
			return false
		}
		if a < b {
			strictlyLess = true
		}
	}
	return strictlyLess
}

// Concurrent reports whether neither clock happens-before the other.
func (c Clock) Concurrent(other Clock) bool {
	return !c.HappensBefore(other) && !other.HappensBefore(c)
}

// Compare is total: exactly one of Equal, Before, After, Concurrent holds
// for any pair of clocks.
func (c Clock) Compare(other Clock) Relation {
	switch {
	case c.equal(other):
		return Equal
	case c.HappensBefore(other):
		return Before
	case other.HappensBefore(c):
		return After
	default:
		return Concurrent
	}
}

func (c Clock) equal(other Clock) bool {
	for _, peer := range unionPeers(c, other) {
		if c[peer] != other[peer] {
			return false
		}
	}
	return true
}

// UpdateOnReceive merges the received clock into c then increments c's own
// entry for sender, matching the standard "receive" event of vector clock
// causal tracking.
func (c Clock) UpdateOnReceive(sender string, received Clock) Clock {
	merged := c.Merge(received)
	merged.Increment(sender)
	return merged
}

// LogicalTime is the sum of all counters, a coarse scalar ordering useful
// for tie-breaking and metrics, never for causal decisions.
func (c Clock) LogicalTime() uint64 {
	var total uint64
	for _, v := range c {
		total += v
	}
	return total
}

func unionPeers(a, b Clock) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	peers := make([]string, 0, len(seen))
	for k := range seen {
		peers = append(peers, k)
	}
	sort.Strings(peers)
	return peers
}
