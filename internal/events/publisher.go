// Package events publishes accepted mutations to NATS for downstream
// consumers. The feed is optional; a nil Publisher is a no-op.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
)

// Subject carries one event per accepted mutating command.
const Subject = "mergekv.mutations"

var propagator = propagation.TraceContext{}

// Mutation is the feed payload.
type Mutation struct {
	NodeID string    `json:"node_id"`
	Verb   string    `json:"verb"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
}

// Publisher emits mutation events over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	nodeID string
}

// Connect dials NATS and returns a publisher.
func Connect(url, nodeID string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("mergekv-"+nodeID))
	if err != nil {
		return nil, err
	}
	slog.Info("mutation feed connected", "url", url)
	return &Publisher{nc: nc, nodeID: nodeID}, nil
}

// MutationAccepted publishes one event with trace context injected into the
// message headers. Failures are logged and never surfaced; a nil receiver
// does nothing.
func (p *Publisher) MutationAccepted(ctx context.Context, verb, key string) {
	if p == nil {
		return
	}
	data, err := json.Marshal(Mutation{
		NodeID: p.nodeID,
		Verb:   verb,
		Key:    key,
		At:     time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("mutation event encoding failed", "verb", verb, "key", key, "error", err)
		return
	}
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: Subject, Data: data, Header: hdr}
	if err := p.nc.PublishMsg(msg); err != nil {
		slog.Warn("mutation event publish failed", "verb", verb, "key", key, "error", err)
	}
}

// Close closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.nc.Close()
}
