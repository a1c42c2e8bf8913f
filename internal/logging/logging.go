// Package logging configures the process-wide slog logger for a node.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs the global logger. Format comes from MERGEKV_JSON_LOG and
// level from MERGEKV_LOG_LEVEL; extra attrs are attached to every record
// alongside the service name.
func Init(service string, attrs ...slog.Attr) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	var handler slog.Handler
	if jsonFromEnv() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	handler = handler.WithAttrs(append([]slog.Attr{slog.String("service", service)}, attrs...))
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithNode stamps the replica identity onto the default logger once
// configuration is known, so every record carries node_id from then on.
func WithNode(nodeID string) *slog.Logger {
	logger := slog.Default().With("node_id", nodeID)
	slog.SetDefault(logger)
	return logger
}

func jsonFromEnv() bool {
	switch strings.ToLower(os.Getenv("MERGEKV_JSON_LOG")) {
	case "1", "true", "json":
		return true
	}
	return false
}

func levelFromEnv() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(os.Getenv("MERGEKV_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return l
}
