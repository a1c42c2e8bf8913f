// Package config loads node configuration from an optional YAML file and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is everything a node needs at startup. The peer set is fixed for
// the process lifetime.
type Config struct {
	NodeID        string   `yaml:"node_id"`
	ListenAddress string   `yaml:"listen_address"`
	Peers         []string `yaml:"peers"`
	NatsURL       string   `yaml:"nats_url"`
}

// Load reads MERGEKV_CONFIG (YAML) when set, then applies environment
// overrides, then validates.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("MERGEKV_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("MERGEKV_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("MERGEKV_LISTEN_ADDR"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("MERGEKV_PEERS"); v != "" {
		cfg.Peers = splitPeers(v)
	}
	if v := os.Getenv("MERGEKV_NATS_URL"); v != "" {
		cfg.NatsURL = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Peers = withoutSelf(cfg.Peers, cfg.ListenAddress)
	return cfg, nil
}

func (c *Config) validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	return nil
}

func splitPeers(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// withoutSelf drops the node's own address from the peer list so gossip
// never targets the local node.
func withoutSelf(peers []string, listen string) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		if strings.TrimPrefix(strings.TrimPrefix(p, "http://"), "https://") == listen {
			continue
		}
		out = append(out, p)
	}
	return out
}
