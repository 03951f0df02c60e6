// Package config loads a peer's configuration from a YAML file and
// LEDGER_-prefixed environment variables, the way the rest of this
// codebase's ambient stack does it: viper defaults, then file, then
// environment overrides, unmarshaled into a typed struct.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything one peer process needs to run.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Network   NetworkConfig   `mapstructure:"network"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NodeConfig identifies this peer within the fixed peer set.
type NodeConfig struct {
	ID      int64  `mapstructure:"id"`
	DataDir string `mapstructure:"data_dir"`
}

// NetworkConfig lists every peer's dial address, keyed by peer id as
// a string (viper/mapstructure requires string map keys).
type NetworkConfig struct {
	Peers         map[string]string `mapstructure:"peers"`
	Delay         time.Duration     `mapstructure:"delay"`
	DialTimeout   time.Duration     `mapstructure:"dial_timeout"`
}

// StorageConfig controls the durable snapshot and audit log paths.
type StorageConfig struct {
	StateDir    string `mapstructure:"state_dir"`
	AuditLogDir string `mapstructure:"audit_log_dir"`
}

// ConsensusConfig holds a single timing knob, ProposeTimeout, which is
// loaded but not read by any other package; ballot/quorum math is
// derived from len(Network.Peers) and is not independently configurable.
type ConsensusConfig struct {
	ProposeTimeout time.Duration `mapstructure:"propose_timeout"`
}

// APIConfig controls the read-only admin HTTP surface.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig carries a Level setting that is loaded but not read by
// any other package; all logging goes through log.Printf unfiltered.
// This project never reaches for a structured logging library, matching
// the teacher codebase's own choice to use only log.Printf directly.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the configuration a single-node smoke test
// can run with no file and no environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      1,
			DataDir: "./data",
		},
		Network: NetworkConfig{
			Peers: map[string]string{
				"1": "localhost:8001",
				"2": "localhost:8002",
				"3": "localhost:8003",
				"4": "localhost:8004",
				"5": "localhost:8005",
			},
			Delay:       3 * time.Second,
			DialTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			StateDir:    "./data",
			AuditLogDir: "./data/audit",
		},
		Consensus: ConsensusConfig{
			ProposeTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Address: "0.0.0.0:9000",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configPath (if non-empty) over the defaults, then
// applies LEDGER_-prefixed environment variable overrides, and
// unmarshals the result into a Config.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetDefault("node.id", cfg.Node.ID)
	v.SetDefault("node.data_dir", cfg.Node.DataDir)
	v.SetDefault("network.peers", cfg.Network.Peers)
	v.SetDefault("network.delay", cfg.Network.Delay)
	v.SetDefault("network.dial_timeout", cfg.Network.DialTimeout)
	v.SetDefault("storage.state_dir", cfg.Storage.StateDir)
	v.SetDefault("storage.audit_log_dir", cfg.Storage.AuditLogDir)
	v.SetDefault("consensus.propose_timeout", cfg.Consensus.ProposeTimeout)
	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.address", cfg.API.Address)
	v.SetDefault("logging.level", cfg.Logging.Level)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// PeerIDs returns the sorted-by-value peer id set derived from
// Network.Peers, used to size the Paxos majority and iterate the
// fixed peer table.
func (c *Config) PeerIDs() ([]int64, error) {
	ids := make([]int64, 0, len(c.Network.Peers))
	for k := range c.Network.Peers {
		var id int64
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return nil, fmt.Errorf("config: invalid peer id %q: %w", k, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
