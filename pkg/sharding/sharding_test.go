package sharding

import "testing"

func TestConsistentHashOwnersDistinct(t *testing.T) {
	ch := NewConsistentHash(32)
	for _, p := range []string{"peer-a", "peer-b", "peer-c", "peer-d"} {
		ch.AddPeer(p)
	}
	shard := ch.Shard("docs", "doc-1")
	owners := ch.Owners(shard, 3)
	if len(owners) != 3 {
		t.Fatalf("expected 3 owners, got %d", len(owners))
	}
	seen := map[string]bool{}
	for _, o := range owners {
		if seen[o] {
			t.Fatalf("duplicate owner %s", o)
		}
		seen[o] = true
	}
}

func TestConsistentHashStableUnderMembershipChange(t *testing.T) {
	ch := NewConsistentHash(64)
	for _, p := range []string{"peer-a", "peer-b", "peer-c"} {
		ch.AddPeer(p)
	}
	shard := ch.Shard("docs", "doc-42")
	before := ch.Owners(shard, 1)

	ch.AddPeer("peer-d")
	after := ch.Owners(shard, 1)

	moved := 0
	if before[0] != after[0] {
		moved++
	}
	// Adding one peer to a four-peer ring should only reassign a small
	// fraction of keys' primary owner; this particular key may or may not
	// move, but the ring itself must still resolve without panicking and
	// return a valid member.
	found := false
	for _, p := range []string{"peer-a", "peer-b", "peer-c", "peer-d"} {
		if after[0] == p {
			found = true
		}
	}
	if !found {
		t.Fatalf("owner %s after rebalance is not a known peer", after[0])
	}
	_ = moved
}

func TestConsistentHashDeterministic(t *testing.T) {
	ch1 := NewConsistentHash(16)
	ch2 := NewConsistentHash(16)
	for _, p := range []string{"x", "y", "z"} {
		ch1.AddPeer(p)
		ch2.AddPeer(p)
	}
	s1 := ch1.Shard("coll", "id")
	s2 := ch2.Shard("coll", "id")
	if s1 != s2 {
		t.Fatalf("shard assignment must be deterministic: %s != %s", s1, s2)
	}
	if ch1.Owners(s1, 2)[0] != ch2.Owners(s2, 2)[0] {
		t.Fatal("owners must be deterministic across identical rings")
	}
}

func TestRangeOwnersRoundRobin(t *testing.T) {
	r := NewRange()
	r.AddPeer("a")
	r.AddPeer("b")
	r.AddPeer("c")
	shard := r.Shard("docs", "doc-1")
	owners := r.Owners(shard, 2)
	if len(owners) != 2 {
		t.Fatalf("expected 2 owners, got %d", len(owners))
	}
	if owners[0] == owners[1] {
		t.Fatal("expected distinct owners")
	}
}

func TestRandomAssignmentDistinctOwners(t *testing.T) {
	ra := NewRandomAssignment()
	for _, p := range []string{"a", "b", "c", "d"} {
		ra.AddPeer(p)
	}
	owners := ra.Owners("any-shard", 3)
	if len(owners) != 3 {
		t.Fatalf("expected 3 owners, got %d", len(owners))
	}
	seen := map[string]bool{}
	for _, o := range owners {
		if seen[o] {
			t.Fatalf("duplicate owner %s", o)
		}
		seen[o] = true
	}
}

func TestNewDefaultsToConsistentHash(t *testing.T) {
	s := New("unknown-strategy")
	if _, ok := s.(*ConsistentHash); !ok {
		t.Fatalf("expected default strategy to be ConsistentHash, got %T", s)
	}
}
