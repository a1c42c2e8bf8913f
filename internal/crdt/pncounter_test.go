package crdt

import "testing"

func TestPNCounterLocalIncrementsAndDecrements(t *testing.T) {
	c := NewPNCounter("node_1", 0, 0)
	c.Increment("node_1", 1)
	c.Increment("node_1", 1)
	c.Decrement("node_1", 1)
	if got := c.Value(); got != 1 {
		t.Fatalf("value = %d, want 1", got)
	}
}

func TestPNCounterMergeMaintainsTotal(t *testing.T) {
	a := NewPNCounter("node_1", 0, 0)
	a.Increment("node_1", 1)

	b := NewPNCounter("node_2", 1, 0)
	b.Increment("node_2", 1)

	if !a.Merge(b) {
		t.Fatalf("merge of disjoint state should report a change")
	}
	if got := a.Value(); got != 3 {
		t.Fatalf("value after merge = %d, want 3", got)
	}

	c := NewPNCounter("node_3", 0, 0)
	c.Increment("node_3", 2)
	c.Decrement("node_3", 1)

	d := NewPNCounter("node_4", 0, 0)
	d.Increment("node_4", 3)

	c.Merge(d)
	if got := c.Value(); got != 4 {
		t.Fatalf("value after merge = %d, want 4", got)
	}
}

func TestPNCounterMergeCommutative(t *testing.T) {
	a := NewPNCounter("node_1", 0, 0)
	a.Increment("node_1", 1)

	b := NewPNCounter("node_2", 1, 0)
	b.Decrement("node_2", 1)

	ab := a.Clone()
	ab.Merge(b.Clone())

	ba := b.Clone()
	ba.Merge(a.Clone())

	if !ab.Equal(ba) {
		t.Fatalf("merge order changed the state: %v vs %v", ab, ba)
	}
}

func TestPNCounterMergeAssociative(t *testing.T) {
	a := NewPNCounter("node_1", 2, 0)
	b := NewPNCounter("node_2", 0, 1)
	c := NewPNCounter("node_3", 5, 3)

	left := a.Clone()
	left.Merge(b.Clone())
	left.Merge(c.Clone())

	bc := b.Clone()
	bc.Merge(c.Clone())
	right := a.Clone()
	right.Merge(bc)

	if !left.Equal(right) {
		t.Fatalf("(a+b)+c != a+(b+c): %v vs %v", left, right)
	}
}

func TestPNCounterMergeIdempotent(t *testing.T) {
	a := NewPNCounter("node_1", 4, 2)
	a.Increment("node_1", 1)

	before := a.Clone()
	if a.Merge(a.Clone()) {
		t.Fatalf("self-merge reported a change")
	}
	if !a.Equal(before) {
		t.Fatalf("self-merge changed the state")
	}
}

func TestPNCounterConvergenceAcrossReplicas(t *testing.T) {
	// Interleave operations across three replicas, then all-pairs merge:
	// the final value must equal total increments minus total decrements.
	replicas := []*PNCounter{
		NewPNCounter("node_1", 0, 0),
		NewPNCounter("node_2", 0, 0),
		NewPNCounter("node_3", 0, 0),
	}
	replicas[0].Increment("node_1", 5)
	replicas[1].Increment("node_2", 3)
	replicas[2].Decrement("node_3", 2)
	replicas[0].Increment("node_1", 1)
	replicas[2].Increment("node_3", 4)

	for _, a := range replicas {
		for _, b := range replicas {
			a.Merge(b.Clone())
		}
	}
	for i, r := range replicas {
		if got := r.Value(); got != 11 {
			t.Fatalf("replica %d converged to %d, want 11", i, got)
		}
	}
}
