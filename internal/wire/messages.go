// Package wire defines the replication protocol messages and the codec
// between them and the in-memory CRDT values. Messages ride as JSON bodies
// on the replication endpoints; byte payloads are base64 per encoding/json.
package wire

// PropagateDataRequest carries a client command: a verb, the target key,
// and a payload whose encoding depends on the verb (8-byte big-endian
// integer, UTF-8 bytes, or empty).
type PropagateDataRequest struct {
	ValueType string `json:"valuetype"`
	Key       string `json:"key"`
	Value     []byte `json:"value,omitempty"`
}

// PropagateDataResponse answers a command. Response uses the same byte
// conventions as the request, plus JSON for set reads.
type PropagateDataResponse struct {
	Success  bool   `json:"success"`
	Response []byte `json:"response,omitempty"`
}

// GossipChangesRequest pushes the whole state of one key to a peer. The
// wire name of the data field is kept from the protocol.
type GossipChangesRequest struct {
	Key  string   `json:"key"`
	Data CrdtData `json:"counter"`
}

// GossipChangesResponse acknowledges a single-entry push.
type GossipChangesResponse struct {
	Success bool `json:"success"`
}

// GossipBatchRequest carries many entries for anti-entropy. Entries are
// applied independently.
type GossipBatchRequest struct {
	Batch map[string]CrdtData `json:"batch"`
}

// GossipBatchResponse acknowledges a batch. Success means the batch was
// accepted, not that every entry matched types.
type GossipBatchResponse struct {
	Success bool `json:"success"`
}

// CrdtData is the tagged-union envelope for a value on the wire. Exactly
// one arm is set.
type CrdtData struct {
	PnCounter *PnCounterMessage   `json:"pn_counter,omitempty"`
	AwSet     *AwSetMessage       `json:"aw_set,omitempty"`
	Register  *LwwRegisterMessage `json:"lww_register,omitempty"`
}

// PnCounterMessage is the wire shape of a PN-Counter.
type PnCounterMessage struct {
	P map[string]uint64 `json:"p"`
	N map[string]uint64 `json:"n"`
}

// AwSetMessage is the wire shape of an AW-Set.
type AwSetMessage struct {
	Clock      uint64            `json:"clock"`
	AddTags    map[string]DotSet `json:"add_tags"`
	RemoveTags map[string]DotSet `json:"remove_tags"`
}

// DotSet is a list of dots; order carries no meaning.
type DotSet struct {
	Dots []ProtoDot `json:"dots"`
}

// ProtoDot is the wire shape of a dot.
type ProtoDot struct {
	NodeID  string `json:"node_id"`
	Counter uint64 `json:"counter"`
}

// LwwRegisterMessage is the wire shape of an LWW-Register.
type LwwRegisterMessage struct {
	Clock   uint64 `json:"clock"`
	NodeID  string `json:"node_id"`
	Counter uint64 `json:"counter"`
	Value   string `json:"value"`
}
