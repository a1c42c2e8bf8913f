package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/mergekv/internal/wire"
)

// Client is the peer-facing side of the replication service: typed calls
// against one peer, wrapping the wire codec over HTTP.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient builds a client for the given peer address. Addresses without a
// scheme are dialled over plain http.
func NewClient(address string) *Client {
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		hc:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Probe checks the peer answers at all. Used as the dial step when a client
// enters the pool.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer health returned status %d", resp.StatusCode)
	}
	return nil
}

// PropagateData issues a client command against the peer.
func (c *Client) PropagateData(ctx context.Context, req wire.PropagateDataRequest) (wire.PropagateDataResponse, error) {
	var out wire.PropagateDataResponse
	err := c.postJSON(ctx, "/replication/propagate", req, &out)
	return out, err
}

// GossipChanges pushes the whole state of one key.
func (c *Client) GossipChanges(ctx context.Context, key string, data wire.CrdtData) (bool, error) {
	var out wire.GossipChangesResponse
	err := c.postJSON(ctx, "/replication/gossip", wire.GossipChangesRequest{Key: key, Data: data}, &out)
	return out.Success, err
}

// GossipBatch sends many entries at once.
func (c *Client) GossipBatch(ctx context.Context, batch map[string]wire.CrdtData) (bool, error) {
	var out wire.GossipBatchResponse
	err := c.postJSON(ctx, "/replication/gossip/batch", wire.GossipBatchRequest{Batch: batch}, &out)
	return out.Success, err
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Dial budget for admitting a peer into the pool. The whole budget stays
// well under one anti-entropy period: an unreachable peer is skipped this
// round and revisited the next, not waited on.
const (
	dialProbes    = 3
	dialPauseBase = 50 * time.Millisecond
)

// Pool lazily establishes one client per peer address. Clients live for the
// process; a failed dial leaves the slot empty for the next attempt.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*Client

	dials      metric.Int64Counter
	dialErrors metric.Int64Counter
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	meter := otel.Meter("mergekv")
	dials, _ := meter.Int64Counter("mergekv_peer_dials_total")
	dialErrors, _ := meter.Int64Counter("mergekv_peer_dial_errors_total")
	return &Pool{
		clients:    make(map[string]*Client),
		dials:      dials,
		dialErrors: dialErrors,
	}
}

// Get returns the pooled client for the address, dialling it first when
// absent.
func (p *Pool) Get(ctx context.Context, address string) (*Client, error) {
	p.mu.RLock()
	c, ok := p.clients[address]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	c = NewClient(address)
	p.dials.Add(ctx, 1)
	if err := p.dial(ctx, c); err != nil {
		p.dialErrors.Add(ctx, 1)
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.clients[address]; ok {
		return existing, nil
	}
	p.clients[address] = c
	return c, nil
}

// dial probes the peer's health endpoint, pausing briefly between attempts
// so a peer that is mid-restart still makes it into the pool. The pauses
// grow and carry jitter so a cluster coming up together does not probe in
// lockstep.
func (p *Pool) dial(ctx context.Context, c *Client) error {
	// Probes and pauses together share one deadline of half a period.
	ctx, cancel := context.WithTimeout(ctx, Period/2)
	defer cancel()

	var lastErr error
	pause := dialPauseBase
	for probe := 0; probe < dialProbes; probe++ {
		if lastErr = c.Probe(ctx); lastErr == nil {
			return nil
		}
		if probe == dialProbes-1 {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(pause)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause + jitter):
		}
		pause *= 2
	}
	return lastErr
}

// Len returns the number of established clients.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
