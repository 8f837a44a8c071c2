// Package config loads per-node Flock configuration. It follows the
// teacher's pkg/config/koanf_loader.go pattern: koanf over a YAML file,
// with a typed struct unmarshalled out of it.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is a single node's configuration.
type Config struct {
	NodeID    string          `koanf:"node_id"`
	BasePath  string          `koanf:"base_path"`
	Store     StoreConfig     `koanf:"store"`
	HTTP      HTTPConfig      `koanf:"http"`
	Parent    ParentConfig    `koanf:"parent"`
	Central   CentralConfig   `koanf:"central"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Migration MigrationConfig `koanf:"migration"`
	Agents    []AgentConfig   `koanf:"agents"`
}

// StoreConfig selects and configures the backing store.KV (spec.md §6:
// "an in-memory implementation for tests and a durable local
// key-value store").
type StoreConfig struct {
	Path string `koanf:"path"` // empty or ":memory:" selects memstore
}

// AgentConfig declares one agent this node hosts at startup. Grounded
// on the teacher's cmd/hector/main.go ListAgents()/RunnerConfig(name)
// loop, generalized from an LLM-runner config to the archetype/role
// metadata pkg/node.AgentSpec and pkg/card need.
type AgentConfig struct {
	AgentID       string `koanf:"agent_id"`
	Role          string `koanf:"role"` // orchestrator, sysadmin, worker, system
	Name          string `koanf:"name"`
	Description   string `koanf:"description"`
	Archetype     string `koanf:"archetype"`
	ArchetypeFile string `koanf:"archetype_file"` // path to a markdown archetype template
}

// HTTPConfig is the node's listen address and advertised endpoint.
type HTTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Endpoint string `koanf:"endpoint"` // advertised a2aEndpoint, e.g. http://host:port/flock
}

// ParentConfig describes the upstream registry consulted on local miss
// (spec.md §4.5).
type ParentConfig struct {
	Endpoint   string        `koanf:"endpoint"`
	Timeout    time.Duration `koanf:"timeout"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`
	MaxCacheSize int         `koanf:"max_cache_size"`
}

// CentralConfig configures the "central" topology (spec.md §4.3).
type CentralConfig struct {
	Enabled    bool   `koanf:"enabled"`
	IsCentral  bool   `koanf:"is_central"`
	Endpoint   string `koanf:"endpoint"`
	SysadminID string `koanf:"sysadmin_id"`
}

// ExecutorConfig configures Executor timeouts (spec.md §4.6).
type ExecutorConfig struct {
	ResponseTimeout time.Duration `koanf:"response_timeout"`
	TriageExpiry    time.Duration `koanf:"triage_expiry"`
}

// SchedulerConfig configures the periodic AWAKE-agent ticker (spec.md §5).
type SchedulerConfig struct {
	TickInterval time.Duration `koanf:"tick_interval"`
}

// MigrationConfig configures per-phase timeouts (spec.md §5).
type MigrationConfig struct {
	FreezeTimeout    time.Duration `koanf:"freeze_timeout"`
	SnapshotTimeout  time.Duration `koanf:"snapshot_timeout"`
	TransferTimeout  time.Duration `koanf:"transfer_timeout"`
	VerifyTimeout    time.Duration `koanf:"verify_timeout"`
	RehydrateTimeout time.Duration `koanf:"rehydrate_timeout"`
	FinalizeTimeout  time.Duration `koanf:"finalize_timeout"`
	MaxPortableSizeBytes int64     `koanf:"max_portable_size_bytes"`
}

// Default returns a config with every spec.md-mandated default filled in.
func Default() *Config {
	return &Config{
		BasePath: "/flock",
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Parent: ParentConfig{
			Timeout:      5 * time.Second,
			CacheTTL:     5 * time.Minute,
			MaxCacheSize: 10000,
		},
		Executor: ExecutorConfig{
			ResponseTimeout: 600 * time.Second,
			TriageExpiry:    5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			TickInterval: 5 * time.Second,
		},
		Migration: MigrationConfig{
			FreezeTimeout:        30 * time.Second,
			SnapshotTimeout:      5 * time.Minute,
			TransferTimeout:      5 * time.Minute,
			VerifyTimeout:        2 * time.Minute,
			RehydrateTimeout:     5 * time.Minute,
			FinalizeTimeout:      30 * time.Second,
			MaxPortableSizeBytes: 4 << 30, // 4 GiB
		},
	}
}

// Load reads a YAML file at path, overlaying it onto Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config %q: %w", path, err)
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("config %q: node_id is required", path)
	}
	return cfg, nil
}
