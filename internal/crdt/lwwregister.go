package crdt

// RegisterState is the winning write of a register: who wrote it, at which
// logical time, and the value itself.
type RegisterState struct {
	NodeID  string
	Counter uint64
	Value   string
}

// less orders states lexicographically on (counter, node id); higher wins.
func (r RegisterState) less(other RegisterState) bool {
	if r.Counter != other.Counter {
		return r.Counter < other.Counter
	}
	return r.NodeID < other.NodeID
}

// LWWRegister is a last-writer-wins string register. Writes are stamped with
// the node-local clock; on merge the greater (counter, node id) pair wins.
type LWWRegister struct {
	Clock uint64
	State RegisterState
}

// NewLWWRegister creates an empty register owned by the given node.
func NewLWWRegister(nodeID string) *LWWRegister {
	return &LWWRegister{State: RegisterState{NodeID: nodeID}}
}

// Set installs value stamped with the next local clock tick.
func (r *LWWRegister) Set(value, nodeID string) {
	r.Clock++
	r.State = RegisterState{NodeID: nodeID, Counter: r.Clock, Value: value}
}

// Get returns the current value.
func (r *LWWRegister) Get() string {
	return r.State.Value
}

// Append reads the current value and sets the concatenation.
func (r *LWWRegister) Append(suffix, nodeID string) {
	r.Set(r.Get()+suffix, nodeID)
}

// Strlen returns the byte length of the current value.
func (r *LWWRegister) Strlen() int {
	return len(r.Get())
}

// Merge adopts the remote state iff it orders strictly greater, then takes
// the clock maximum. Reports whether the local state changed.
func (r *LWWRegister) Merge(other *LWWRegister) bool {
	changed := false
	if r.State.less(other.State) {
		r.State = other.State
		changed = true
	}
	if other.Clock > r.Clock {
		r.Clock = other.Clock
		changed = true
	}
	return changed
}

// Equal reports structural equality.
func (r *LWWRegister) Equal(other *LWWRegister) bool {
	return r.Clock == other.Clock && r.State == other.State
}

// Clone returns a copy.
func (r *LWWRegister) Clone() *LWWRegister {
	out := *r
	return &out
}
