package wire

import (
	"errors"

	"github.com/swarmguard/mergekv/internal/crdt"
)

var (
	// ErrEmptyEnvelope is returned when no envelope arm is set.
	ErrEmptyEnvelope = errors.New("wire: envelope carries no data")
	// ErrAmbiguousEnvelope is returned when more than one arm is set.
	ErrAmbiguousEnvelope = errors.New("wire: envelope carries more than one arm")
)

// Encode converts an in-memory value into its wire envelope. The value must
// hold a variant.
func Encode(v crdt.Value) CrdtData {
	switch v.Kind() {
	case crdt.KindCounter:
		return CrdtData{PnCounter: encodeCounter(v.Counter)}
	case crdt.KindSet:
		return CrdtData{AwSet: encodeSet(v.Set)}
	case crdt.KindRegister:
		return CrdtData{Register: encodeRegister(v.Register)}
	default:
		return CrdtData{}
	}
}

// Decode converts a wire envelope back into an in-memory value.
func Decode(d CrdtData) (crdt.Value, error) {
	arms := 0
	if d.PnCounter != nil {
		arms++
	}
	if d.AwSet != nil {
		arms++
	}
	if d.Register != nil {
		arms++
	}
	switch {
	case arms == 0:
		return crdt.Value{}, ErrEmptyEnvelope
	case arms > 1:
		return crdt.Value{}, ErrAmbiguousEnvelope
	case d.PnCounter != nil:
		return crdt.CounterValue(decodeCounter(d.PnCounter)), nil
	case d.AwSet != nil:
		return crdt.SetValue(decodeSet(d.AwSet)), nil
	default:
		return crdt.RegisterValue(decodeRegister(d.Register)), nil
	}
}

func encodeCounter(c *crdt.PNCounter) *PnCounterMessage {
	msg := &PnCounterMessage{
		P: make(map[string]uint64, len(c.P)),
		N: make(map[string]uint64, len(c.N)),
	}
	for node, v := range c.P {
		msg.P[node] = v
	}
	for node, v := range c.N {
		msg.N[node] = v
	}
	return msg
}

func decodeCounter(msg *PnCounterMessage) *crdt.PNCounter {
	c := &crdt.PNCounter{
		P: make(map[string]uint64, len(msg.P)),
		N: make(map[string]uint64, len(msg.N)),
	}
	for node, v := range msg.P {
		c.P[node] = v
	}
	for node, v := range msg.N {
		c.N[node] = v
	}
	return c
}

func encodeSet(s *crdt.AWSet) *AwSetMessage {
	convert := func(tags map[string]crdt.DotSet) map[string]DotSet {
		out := make(map[string]DotSet, len(tags))
		for elem, dots := range tags {
			ds := DotSet{Dots: make([]ProtoDot, 0, len(dots))}
			for dot := range dots {
				ds.Dots = append(ds.Dots, ProtoDot{NodeID: dot.NodeID, Counter: dot.Counter})
			}
			out[elem] = ds
		}
		return out
	}
	return &AwSetMessage{
		Clock:      s.Clock,
		AddTags:    convert(s.AddTags),
		RemoveTags: convert(s.RemoveTags),
	}
}

func decodeSet(msg *AwSetMessage) *crdt.AWSet {
	convert := func(tags map[string]DotSet) map[string]crdt.DotSet {
		out := make(map[string]crdt.DotSet, len(tags))
		for elem, ds := range tags {
			dots := make(crdt.DotSet, len(ds.Dots))
			for _, dot := range ds.Dots {
				dots[crdt.Dot{NodeID: dot.NodeID, Counter: dot.Counter}] = struct{}{}
			}
			out[elem] = dots
		}
		return out
	}
	return &crdt.AWSet{
		Clock:      msg.Clock,
		AddTags:    convert(msg.AddTags),
		RemoveTags: convert(msg.RemoveTags),
	}
}

func encodeRegister(r *crdt.LWWRegister) *LwwRegisterMessage {
	return &LwwRegisterMessage{
		Clock:   r.Clock,
		NodeID:  r.State.NodeID,
		Counter: r.State.Counter,
		Value:   r.State.Value,
	}
}

func decodeRegister(msg *LwwRegisterMessage) *crdt.LWWRegister {
	return &crdt.LWWRegister{
		Clock: msg.Clock,
		State: crdt.RegisterState{NodeID: msg.NodeID, Counter: msg.Counter, Value: msg.Value},
	}
}
