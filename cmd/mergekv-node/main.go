package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/mergekv/internal/config"
	"github.com/swarmguard/mergekv/internal/events"
	"github.com/swarmguard/mergekv/internal/logging"
	"github.com/swarmguard/mergekv/internal/otelinit"
	"github.com/swarmguard/mergekv/internal/replication"
	"github.com/swarmguard/mergekv/internal/store"
)

const serviceName = "mergekv-node"

func main() {
	logging.Init(serviceName)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		return
	}
	logging.WithNode(cfg.NodeID)

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics := otelinit.InitMetrics(ctx, serviceName)

	st := store.New(6)
	peers := replication.NewPeerTable(cfg.Peers)
	pool := replication.NewPool()
	diss := replication.NewDisseminator(cfg.NodeID, st, peers, pool)

	var feed *events.Publisher
	if cfg.NatsURL != "" {
		feed, err = events.Connect(cfg.NatsURL, cfg.NodeID)
		if err != nil {
			slog.Warn("mutation feed unavailable", "error", err)
		}
	}

	svc := replication.NewService(cfg.NodeID, st, diss, feed)

	meter := otel.GetMeterProvider().Meter("mergekv")
	keysGauge, _ := meter.Int64ObservableGauge("mergekv_store_keys")
	peersGauge, _ := meter.Int64ObservableGauge("mergekv_peers_total")
	_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(keysGauge, int64(st.Len()))
		o.ObserveInt64(peersGauge, int64(peers.Len()))
		return nil
	}, keysGauge, peersGauge)

	go diss.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      svc.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("node started",
			"node_id", cfg.NodeID, "listen", cfg.ListenAddress, "peers", len(cfg.Peers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	feed.Close()
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)

	slog.Info("shutdown complete")
}
