package vectorclock

import "testing"

func TestEmptyClocksAreEqual(t *testing.T) {
	a, b := New(), New()
	if rel := a.Compare(b); rel != Equal {
		t.Fatalf("expected Equal, got %s", rel)
	}
}

func TestMissingPeerReadsZero(t *testing.T) {
	a := New()
	if a.Get("p1") != 0 {
		t.Fatalf("expected 0 for unknown peer")
	}
}

func TestHappensBefore(t *testing.T) {
	a := Clock{"p1": 1}
	b := Clock{"p1": 2}
	if !a.HappensBefore(b) {
		t.Fatalf("expected a before b")
	}
	if b.HappensBefore(a) {
		t.Fatalf("expected b not before a")
	}
	if rel := a.Compare(b); rel != Before {
		t.Fatalf("expected Before, got %s", rel)
	}
	if rel := b.Compare(a); rel != After {
		t.Fatalf("expected After, got %s", rel)
	}
}

func TestConcurrent(t *testing.T) {
	a := Clock{"p1": 1}
	b := Clock{"p2": 1}
	if !a.Concurrent(b) {
		t.Fatalf("expected concurrent")
	}
	if rel := a.Compare(b); rel != Concurrent {
		t.Fatalf("expected Concurrent, got %s", rel)
	}
}

func TestCompareIsTotal(t *testing.T) {
	cases := []struct{ a, b Clock }{
		{Clock{}, Clock{}},
		{Clock{"p1": 1}, Clock{"p1": 1}},
		{Clock{"p1": 1}, Clock{"p1": 2}},
		{Clock{"p1": 1}, Clock{"p2": 1}},
		{Clock{"p1": 2, "p2": 1}, Clock{"p1": 1, "p2": 2}},
	}
	for _, tc := range cases {
		rel := tc.a.Compare(tc.b)
		count := 0
		for _, r := range []Relation{Equal, Before, After, Concurrent} {
			if rel == r {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("compare must be total, got %s for %v vs %v", rel, tc.a, tc.b)
		}
	}
}

func TestMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := Clock{"p1": 3, "p2": 1}
	b := Clock{"p1": 1, "p2": 5, "p3": 2}
	c := Clock{"p3": 1, "p4": 4}

	ab := a.Merge(b)
	ba := b.Merge(a)
	if !clockEqual(ab, ba) {
		t.Fatalf("merge not commutative: %v vs %v", ab, ba)
	}

	abc1 := a.Merge(b).Merge(c)
	abc2 := a.Merge(b.Merge(c))
	if !clockEqual(abc1, abc2) {
		t.Fatalf("merge not associative: %v vs %v", abc1, abc2)
	}

	if aa := a.Merge(a); !clockEqual(aa, a) {
		t.Fatalf("merge(a,a) != a: %v vs %v", aa, a)
	}
}

func TestUpdateOnReceive(t *testing.T) {
	local := Clock{"p1": 2}
	received := Clock{"p2": 3}
	updated := local.UpdateOnReceive("p1", received)
	if updated.Get("p1") != 3 || updated.Get("p2") != 3 {
		t.Fatalf("unexpected updated clock: %v", updated)
	}
}

func TestLogicalTime(t *testing.T) {
	c := Clock{"p1": 2, "p2": 3}
	if c.LogicalTime() != 5 {
		t.Fatalf("expected logical time 5, got %d", c.LogicalTime())
	}
}

func clockEqual(a, b Clock) bool {
	return a.Compare(b) == Equal
}
