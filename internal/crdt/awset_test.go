package crdt

import (
	"slices"
	"testing"
)

func TestAWSetLocalAddRemove(t *testing.T) {
	s := NewAWSet()
	s.Add("apple", "node_1")
	s.Add("banana", "node_1")

	if got := s.Read(); !slices.Equal(got, []string{"apple", "banana"}) {
		t.Fatalf("read = %v, want [apple banana]", got)
	}

	s.Remove("apple")
	if got := s.Read(); !slices.Equal(got, []string{"banana"}) {
		t.Fatalf("read after remove = %v, want [banana]", got)
	}
}

func TestAWSetRemoveUnknownElement(t *testing.T) {
	s := NewAWSet()
	s.Remove("ghost")
	if len(s.RemoveTags) != 0 {
		t.Fatalf("removing an unobserved element must not tombstone anything")
	}
}

func TestAWSetSimpleMerge(t *testing.T) {
	a := NewAWSet()
	a.Add("hiking", "node_1")

	b := NewAWSet()
	b.Add("swimming", "node_2")

	a.Merge(b)
	if got := a.Read(); !slices.Equal(got, []string{"hiking", "swimming"}) {
		t.Fatalf("read = %v, want [hiking swimming]", got)
	}
}

func TestAWSetAddWinsConcurrentConflict(t *testing.T) {
	// Both replicas hold apple. node_1 removes it while node_2 concurrently
	// re-adds it with a fresh dot; after merge the add wins.
	a := NewAWSet()
	a.Add("apple", "node_1") // dot (node_1, 1)

	b := a.Clone()

	a.Remove("apple") // tombstones (node_1, 1)
	if a.Contains("apple") {
		t.Fatalf("apple should be gone locally after remove")
	}

	b.Add("apple", "node_2") // dot (node_2, 2), unseen by the remove
	a.Merge(b)

	if !a.Contains("apple") {
		t.Fatalf("concurrent add must win over remove")
	}
}

func TestAWSetRemovePropagates(t *testing.T) {
	a := NewAWSet()
	a.Add("apple", "node_1")

	b := NewAWSet()
	b.Merge(a)
	if !b.Contains("apple") {
		t.Fatalf("apple should replicate to b")
	}

	a.Remove("apple")
	b.Merge(a)
	if b.Contains("apple") {
		t.Fatalf("observed remove must propagate")
	}
	if a.Contains("apple") {
		t.Fatalf("observed remove must hold locally")
	}
}

func TestAWSetMergeCommutative(t *testing.T) {
	a := NewAWSet()
	a.Add("apple", "node_1")
	a.Remove("apple")
	a.Add("banana", "node_1")

	b := NewAWSet()
	b.Add("apple", "node_2")
	b.Add("cherry", "node_2")

	ab := a.Clone()
	ab.Merge(b.Clone())

	ba := b.Clone()
	ba.Merge(a.Clone())

	if !ab.Equal(ba) {
		t.Fatalf("merge order changed the state")
	}
	if got := ab.Read(); !slices.Equal(got, []string{"apple", "banana", "cherry"}) {
		t.Fatalf("read = %v, want [apple banana cherry]", got)
	}
}

func TestAWSetMergeAssociative(t *testing.T) {
	a := NewAWSet()
	a.Add("x", "node_1")
	b := NewAWSet()
	b.Add("y", "node_2")
	b.Remove("y")
	c := NewAWSet()
	c.Add("z", "node_3")
	c.Add("x", "node_3")

	left := a.Clone()
	left.Merge(b.Clone())
	left.Merge(c.Clone())

	bc := b.Clone()
	bc.Merge(c.Clone())
	right := a.Clone()
	right.Merge(bc)

	if !left.Equal(right) {
		t.Fatalf("(a+b)+c != a+(b+c)")
	}
}

func TestAWSetMergeIdempotent(t *testing.T) {
	a := NewAWSet()
	a.Add("apple", "node_1")
	a.Remove("apple")
	a.Add("banana", "node_1")

	before := a.Clone()
	if a.Merge(a.Clone()) {
		t.Fatalf("self-merge reported a change")
	}
	if !a.Equal(before) {
		t.Fatalf("self-merge changed the state")
	}
}

func TestAWSetClockAdvancesAcrossMerge(t *testing.T) {
	a := NewAWSet()
	a.Add("apple", "node_1")

	b := NewAWSet()
	b.Merge(a)
	b.Add("pear", "node_2")

	// b inherited a's clock, so its fresh dot must be strictly newer.
	if _, ok := b.AddTags["pear"][Dot{NodeID: "node_2", Counter: 2}]; !ok {
		t.Fatalf("expected dot (node_2, 2), got %v", b.AddTags["pear"])
	}
}
