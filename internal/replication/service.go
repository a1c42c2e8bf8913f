package replication

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/mergekv/internal/crdt"
	"github.com/swarmguard/mergekv/internal/events"
	"github.com/swarmguard/mergekv/internal/otelinit"
	"github.com/swarmguard/mergekv/internal/store"
	"github.com/swarmguard/mergekv/internal/wire"
)

// Service is the replication RPC surface of one node: client-facing command
// dispatch plus peer-facing gossip ingestion.
type Service struct {
	nodeID   string
	store    *store.Store
	diss     *Disseminator
	feed     *events.Publisher
	handlers map[string]handler

	commands      metric.Int64Counter
	commandErrors metric.Int64Counter
	merges        metric.Int64Counter
}

// NewService wires the service over its store and disseminator. feed may be
// nil when the mutation event feed is disabled.
func NewService(nodeID string, st *store.Store, diss *Disseminator, feed *events.Publisher) *Service {
	meter := otel.Meter("mergekv")
	commands, _ := meter.Int64Counter("mergekv_commands_total")
	commandErrors, _ := meter.Int64Counter("mergekv_command_errors_total")
	merges, _ := meter.Int64Counter("mergekv_gossip_merges_total")

	s := &Service{
		nodeID:        nodeID,
		store:         st,
		diss:          diss,
		feed:          feed,
		commands:      commands,
		commandErrors: commandErrors,
		merges:        merges,
	}
	s.handlers = s.dispatchTable()
	return s
}

// Routes returns the HTTP surface of the service.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"node_id": s.nodeID,
		})
	})

	mux.HandleFunc("/replication/propagate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req wire.PropagateDataRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		ctx, end := otelinit.WithSpan(r.Context(), "replication.propagate")
		defer end()

		verb := attribute.String("verb", req.ValueType)
		s.commands.Add(ctx, 1, metric.WithAttributes(verb))

		resp, err := s.Dispatch(ctx, req)
		if err != nil {
			s.commandErrors.Add(ctx, 1, metric.WithAttributes(verb))
			writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, wire.PropagateDataResponse{Success: true, Response: resp})
	})

	mux.HandleFunc("/replication/gossip", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req wire.GossipChangesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		ok := s.ApplyGossip(r.Context(), req.Key, req.Data)
		writeJSON(w, http.StatusOK, wire.GossipChangesResponse{Success: ok})
	})

	mux.HandleFunc("/replication/gossip/batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req wire.GossipBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		// Entries apply independently; one bad entry must not reject the
		// batch.
		for key, data := range req.Batch {
			s.ApplyGossip(r.Context(), key, data)
		}
		writeJSON(w, http.StatusOK, wire.GossipBatchResponse{Success: true})
	})

	return mux
}

// ApplyGossip merges one pushed entry into the store: insert when the key
// is absent, merge when variants match, log and refuse otherwise. Gossip is
// one-hop; nothing is propagated from here.
func (s *Service) ApplyGossip(ctx context.Context, key string, data wire.CrdtData) bool {
	remote, err := wire.Decode(data)
	if err != nil {
		slog.Warn("dropping gossip entry", "key", key, "error", err)
		return false
	}

	ok := true
	s.store.Upsert(key,
		func(sv *store.StoredValue) bool {
			changed, err := sv.Data.Merge(remote)
			if err != nil {
				slog.Warn("gossip variant mismatch",
					"key", key, "local", sv.Data.Kind().String(), "remote", remote.Kind().String())
				ok = false
				return false
			}
			if changed {
				slog.Debug("merged update", "key", key)
			} else {
				slog.Debug("ignored redundant update", "key", key)
			}
			return changed
		},
		func() crdt.Value {
			return remote
		})
	if ok {
		s.merges.Add(ctx, 1)
	}
	return ok
}

// afterMutation runs the post-commit side effects of an accepted mutating
// command: the reactive push and the optional event feed. Neither can fail
// the command.
func (s *Service) afterMutation(ctx context.Context, verb, key string, data wire.CrdtData) {
	s.feed.MutationAccepted(ctx, verb, key)
	go s.diss.Push(context.Background(), key, data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
