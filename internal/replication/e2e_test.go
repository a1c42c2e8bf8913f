package replication

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/swarmguard/mergekv/internal/store"
	"github.com/swarmguard/mergekv/internal/wire"
)

// testNode is one in-process replica behind a real HTTP server.
type testNode struct {
	svc    *Service
	st     *store.Store
	diss   *Disseminator
	srv    *httptest.Server
	client *Client
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	n := &testNode{st: store.New(4)}
	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.svc.Routes().ServeHTTP(w, r)
	}))
	t.Cleanup(n.srv.Close)
	n.client = NewClient(n.srv.URL)
	return n
}

func (n *testNode) start(nodeID string, peerURLs ...string) {
	peers := NewPeerTable(peerURLs)
	n.diss = NewDisseminator(nodeID, n.st, peers, NewPool())
	n.svc = NewService(nodeID, n.st, n.diss, nil)
}

func (n *testNode) send(t *testing.T, verb, key string, payload []byte) []byte {
	t.Helper()
	resp, err := n.client.PropagateData(context.Background(), wire.PropagateDataRequest{
		ValueType: verb, Key: key, Value: payload,
	})
	if err != nil {
		t.Fatalf("%s %s: %v", verb, key, err)
	}
	if !resp.Success {
		t.Fatalf("%s %s: success=false", verb, key)
	}
	return resp.Response
}

// syncAll runs anti-entropy rounds on every node, twice, so state settles
// in both directions without waiting for wall-clock periods. Contact stamps
// are reset first so every round is eligible to sweep.
func syncAll(nodes ...*testNode) {
	for i := 0; i < 2; i++ {
		for _, n := range nodes {
			resetContacts(n.diss.peers)
			n.diss.Round(context.Background())
		}
	}
}

func resetContacts(pt *PeerTable) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for addr := range pt.m {
		pt.m[addr] = time.Unix(0, 0)
	}
}

func TestClusterCounterConvergence(t *testing.T) {
	n1, n2 := newTestNode(t), newTestNode(t)
	n1.start("node_1", n2.srv.URL)
	n2.start("node_2", n1.srv.URL)

	n1.send(t, "CSET", "likes", be64(0))
	syncAll(n1, n2)

	n1.send(t, "CINC", "likes", be64(5))
	n2.send(t, "CINC", "likes", be64(3))
	n2.send(t, "CDEC", "likes", be64(2))
	syncAll(n1, n2)

	for _, n := range []*testNode{n1, n2} {
		resp := n.send(t, "CGET", "likes", nil)
		if got := int64(binary.BigEndian.Uint64(resp)); got != 6 {
			t.Fatalf("CGET = %d, want 6", got)
		}
	}
}

func TestClusterAddWins(t *testing.T) {
	n1, n2 := newTestNode(t), newTestNode(t)
	n1.start("node_1", n2.srv.URL)
	n2.start("node_2", n1.srv.URL)

	n1.send(t, "SADD", "tags", []byte("apple"))
	syncAll(n1, n2)

	// Concurrent remove on n1 and fresh add on n2.
	n1.send(t, "SREM", "tags", []byte("apple"))
	n2.send(t, "SADD", "tags", []byte("apple"))
	syncAll(n1, n2)

	for _, n := range []*testNode{n1, n2} {
		var members []string
		if err := json.Unmarshal(n.send(t, "SGET", "tags", nil), &members); err != nil {
			t.Fatalf("SGET payload: %v", err)
		}
		if !slices.Contains(members, "apple") {
			t.Fatalf("add must win over concurrent remove, got %v", members)
		}
	}
}

func TestClusterRemovePropagates(t *testing.T) {
	n1, n2 := newTestNode(t), newTestNode(t)
	n1.start("node_1", n2.srv.URL)
	n2.start("node_2", n1.srv.URL)

	n1.send(t, "SADD", "colors", []byte("red"))
	n1.send(t, "SADD", "colors", []byte("green"))
	syncAll(n1, n2)

	n1.send(t, "SREM", "colors", []byte("red"))
	n2.send(t, "SADD", "colors", []byte("blue"))
	syncAll(n1, n2)

	for _, n := range []*testNode{n1, n2} {
		var members []string
		_ = json.Unmarshal(n.send(t, "SGET", "colors", nil), &members)
		slices.Sort(members)
		if !slices.Equal(members, []string{"blue", "green"}) {
			t.Fatalf("SGET = %v, want [blue green]", members)
		}
	}
}

func TestClusterRegisterConvergence(t *testing.T) {
	n1, n2 := newTestNode(t), newTestNode(t)
	n1.start("node_1", n2.srv.URL)
	n2.start("node_2", n1.srv.URL)

	n1.send(t, "RSET", "msg", []byte("Hello"))
	n1.send(t, "RAPP", "msg", []byte(", World"))
	syncAll(n1, n2)

	if got := string(n2.send(t, "RGET", "msg", nil)); got != "Hello, World" {
		t.Fatalf("RGET on peer = %q, want %q", got, "Hello, World")
	}
	resp := n2.send(t, "RLEN", "msg", nil)
	if got := binary.BigEndian.Uint64(resp); got != 12 {
		t.Fatalf("RLEN on peer = %d, want 12", got)
	}
}

func TestClusterRegisterTieBreak(t *testing.T) {
	n1, n2 := newTestNode(t), newTestNode(t)
	n1.start("node_1", n2.srv.URL)
	n2.start("node_2", n1.srv.URL)

	n1.send(t, "RSET", "title", []byte("A"))
	n2.send(t, "RSET", "title", []byte("B"))
	syncAll(n1, n2)

	// node_2 orders above node_1, so B wins on both replicas.
	for _, n := range []*testNode{n1, n2} {
		if got := string(n.send(t, "RGET", "title", nil)); got != "B" {
			t.Fatalf("RGET = %q, want B", got)
		}
	}
}

func TestClusterRepairsEmptyReplica(t *testing.T) {
	// n3 joins empty (as after a restart) and must learn the counter from
	// its peer's anti-entropy sweep.
	n1, n3 := newTestNode(t), newTestNode(t)
	n1.start("node_1", n3.srv.URL)
	n3.start("node_3", n1.srv.URL)

	n1.send(t, "CSET", "hits", be64(0))
	for i := 0; i < 100; i++ {
		n1.send(t, "CINC", "hits", be64(1))
	}
	syncAll(n1, n3)

	resp := n3.send(t, "CGET", "hits", nil)
	if got := int64(binary.BigEndian.Uint64(resp)); got != 100 {
		t.Fatalf("CGET on repaired replica = %d, want 100", got)
	}
}
