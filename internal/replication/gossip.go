package replication

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/mergekv/internal/otelinit"
	"github.com/swarmguard/mergekv/internal/store"
	"github.com/swarmguard/mergekv/internal/wire"
)

const (
	// Fanout is how many peers a reactive push targets.
	Fanout = 3
	// Period is the anti-entropy loop interval; it also bounds which store
	// entries and peers a round considers.
	Period = 2 * time.Second
	// BatchSize caps entries per gossip batch RPC.
	BatchSize = 1000
)

// Disseminator spreads local updates: reactive pushes after each accepted
// mutation, and a periodic anti-entropy loop that repairs whatever the
// pushes missed. All network failures here are transient by policy — they
// are logged and the next round retries.
type Disseminator struct {
	nodeID string
	store  *store.Store
	peers  *PeerTable
	pool   *Pool

	pushes     metric.Int64Counter
	pushErrors metric.Int64Counter
	rounds     metric.Int64Counter
	batches    metric.Int64Counter
}

// NewDisseminator wires a disseminator over the node's peer table and
// connection pool.
func NewDisseminator(nodeID string, st *store.Store, peers *PeerTable, pool *Pool) *Disseminator {
	meter := otel.Meter("mergekv")
	pushes, _ := meter.Int64Counter("mergekv_gossip_pushes_total")
	pushErrors, _ := meter.Int64Counter("mergekv_gossip_push_errors_total")
	rounds, _ := meter.Int64Counter("mergekv_antientropy_rounds_total")
	batches, _ := meter.Int64Counter("mergekv_antientropy_batches_total")
	return &Disseminator{
		nodeID:     nodeID,
		store:      st,
		peers:      peers,
		pool:       pool,
		pushes:     pushes,
		pushErrors: pushErrors,
		rounds:     rounds,
		batches:    batches,
	}
}

// Push sends the new state of one key to Fanout randomly chosen peers.
// Failures are logged and swallowed; anti-entropy repairs omissions.
func (d *Disseminator) Push(ctx context.Context, key string, data wire.CrdtData) {
	for _, addr := range pickPeers(d.peers.Addresses(), Fanout) {
		client, err := d.pool.Get(ctx, addr)
		if err != nil {
			d.pushErrors.Add(ctx, 1)
			slog.Warn("push skipped, peer unreachable", "peer", addr, "key", key, "error", err)
			continue
		}
		ok, err := client.GossipChanges(ctx, key, data)
		if err != nil {
			d.pushErrors.Add(ctx, 1)
			slog.Warn("push failed", "peer", addr, "key", key, "error", err)
			continue
		}
		d.pushes.Add(ctx, 1)
		if !ok {
			slog.Warn("peer refused pushed entry", "peer", addr, "key", key)
		}
	}
}

// Run drives the anti-entropy loop until the context is cancelled.
func (d *Disseminator) Run(ctx context.Context) {
	ticker := time.NewTicker(Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Round(ctx)
		}
	}
}

// Round performs one anti-entropy sweep: for every peer not contacted
// within the last Period, batch up all recently updated keys and send them.
// The peer is stamped as contacted regardless of RPC outcome so a broken
// peer is not hot-looped.
func (d *Disseminator) Round(ctx context.Context) {
	ctx, end := otelinit.WithSpan(ctx, "replication.antientropy")
	defer end()
	d.rounds.Add(ctx, 1)

	candidates := d.peers.StalerThan(Period)
	if len(candidates) == 0 {
		return
	}

	cutoff := time.Now().Add(-Period)
	for _, addr := range candidates {
		client, err := d.pool.Get(ctx, addr)
		if err != nil {
			slog.Warn("anti-entropy skipping peer", "peer", addr, "error", err)
			continue
		}

		recent := d.store.RecentlyUpdated(cutoff)
		sent := 0
		batch := make(map[string]wire.CrdtData, min(len(recent), BatchSize))
		for key, value := range recent {
			batch[key] = wire.Encode(value)
			if len(batch) >= BatchSize {
				sent += d.sendBatch(ctx, client, addr, batch)
				batch = make(map[string]wire.CrdtData, BatchSize)
			}
		}
		if len(batch) > 0 {
			sent += d.sendBatch(ctx, client, addr, batch)
		}

		d.peers.Touch(addr)
		if sent > 0 {
			slog.Info("synced with peer", "peer", addr, "entries", sent)
		}
	}
}

func (d *Disseminator) sendBatch(ctx context.Context, client *Client, addr string, batch map[string]wire.CrdtData) int {
	if _, err := client.GossipBatch(ctx, batch); err != nil {
		slog.Warn("batch send failed", "peer", addr, "entries", len(batch), "error", err)
		return 0
	}
	d.batches.Add(ctx, 1)
	return len(batch)
}

// pickPeers chooses up to k addresses uniformly without replacement.
func pickPeers(addrs []string, k int) []string {
	if len(addrs) <= k {
		return addrs
	}
	rand.Shuffle(len(addrs), func(i, j int) {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	})
	return addrs[:k]
}
