package crdt

import "sort"

// Dot is a unique event identifier: which node produced a change and when,
// in terms of that replica's logical clock. Equality is structural.
type Dot struct {
	NodeID  string
	Counter uint64
}

// DotSet is a set of dots keyed by structural equality.
type DotSet map[Dot]struct{}

// AWSet is an add-wins observed-remove set over string elements.
//
// AddTags holds every dot ever observed adding an element; RemoveTags holds
// the subset of those dots that have been tombstoned. An element is visible
// while at least one of its add dots is not tombstoned, so a concurrent add
// (fresh dot) survives a concurrent remove (which can only tombstone dots it
// has observed).
type AWSet struct {
	Clock      uint64
	AddTags    map[string]DotSet
	RemoveTags map[string]DotSet
}

// NewAWSet creates an empty set.
func NewAWSet() *AWSet {
	return &AWSet{
		AddTags:    make(map[string]DotSet),
		RemoveTags: make(map[string]DotSet),
	}
}

func (s *AWSet) nextDot(nodeID string) Dot {
	s.Clock++
	return Dot{NodeID: nodeID, Counter: s.Clock}
}

// Add inserts elem with a fresh dot drawn from the local clock.
func (s *AWSet) Add(elem, nodeID string) {
	dot := s.nextDot(nodeID)
	if s.AddTags[elem] == nil {
		s.AddTags[elem] = make(DotSet)
	}
	s.AddTags[elem][dot] = struct{}{}
}

// Remove tombstones every currently observed add dot for elem. Adds that
// have not been observed here yet cannot be tombstoned.
func (s *AWSet) Remove(elem string) {
	dots, ok := s.AddTags[elem]
	if !ok {
		return
	}
	if s.RemoveTags[elem] == nil {
		s.RemoveTags[elem] = make(DotSet)
	}
	for dot := range dots {
		s.RemoveTags[elem][dot] = struct{}{}
	}
}

// Contains reports whether elem is visible.
func (s *AWSet) Contains(elem string) bool {
	removed := s.RemoveTags[elem]
	for dot := range s.AddTags[elem] {
		if _, gone := removed[dot]; !gone {
			return true
		}
	}
	return false
}

// Read returns the visible elements, sorted.
func (s *AWSet) Read() []string {
	out := make([]string, 0, len(s.AddTags))
	for elem := range s.AddTags {
		if s.Contains(elem) {
			out = append(out, elem)
		}
	}
	sort.Strings(out)
	return out
}

// Merge unions both tag maps entry-wise and takes the clock maximum.
// Reports whether the local state changed.
func (s *AWSet) Merge(other *AWSet) bool {
	changed := false
	changed = mergeTags(s.AddTags, other.AddTags) || changed
	changed = mergeTags(s.RemoveTags, other.RemoveTags) || changed
	if other.Clock > s.Clock {
		s.Clock = other.Clock
		changed = true
	}
	return changed
}

func mergeTags(dst, src map[string]DotSet) bool {
	changed := false
	for elem, dots := range src {
		if dst[elem] == nil {
			dst[elem] = make(DotSet, len(dots))
		}
		for dot := range dots {
			if _, ok := dst[elem][dot]; !ok {
				dst[elem][dot] = struct{}{}
				changed = true
			}
		}
	}
	return changed
}

// Equal reports structural equality, ignoring dot iteration order.
func (s *AWSet) Equal(other *AWSet) bool {
	return s.Clock == other.Clock &&
		tagsEqual(s.AddTags, other.AddTags) &&
		tagsEqual(s.RemoveTags, other.RemoveTags)
}

func tagsEqual(a, b map[string]DotSet) bool {
	for elem, dots := range a {
		if len(dots) == 0 {
			continue
		}
		bdots := b[elem]
		if len(bdots) != len(dots) {
			return false
		}
		for dot := range dots {
			if _, ok := bdots[dot]; !ok {
				return false
			}
		}
	}
	for elem, dots := range b {
		if len(dots) != 0 && len(a[elem]) != len(dots) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s *AWSet) Clone() *AWSet {
	out := &AWSet{
		Clock:      s.Clock,
		AddTags:    make(map[string]DotSet, len(s.AddTags)),
		RemoveTags: make(map[string]DotSet, len(s.RemoveTags)),
	}
	for elem, dots := range s.AddTags {
		out.AddTags[elem] = cloneDots(dots)
	}
	for elem, dots := range s.RemoveTags {
		out.RemoveTags[elem] = cloneDots(dots)
	}
	return out
}

func cloneDots(dots DotSet) DotSet {
	out := make(DotSet, len(dots))
	for dot := range dots {
		out[dot] = struct{}{}
	}
	return out
}
