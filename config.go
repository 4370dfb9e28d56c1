package tripsync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration, loadable from YAML.
type Config struct {
	// DBPath is the local SQLite database file. Everything durable on the
	// device lives here: entity collections, the sync queue, the event log.
	DBPath string `yaml:"db_path"`

	// RemoteDSN is the Postgres connection string for the remote store.
	// Empty means the engine runs without a remote (every pass is a no-op
	// until one is configured), which is the normal state for tests.
	RemoteDSN string `yaml:"remote_dsn"`

	// HTTPAddr is the listen address for the HTTP surface.
	HTTPAddr string `yaml:"http_addr"`

	// ProbeURL is the reachability probe endpoint. Empty disables the prober;
	// connectivity is then driven entirely through the hub endpoints.
	ProbeURL string `yaml:"probe_url"`
	// ProbeInterval is the probe polling frequency.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// SyncBatchSize bounds items per drain batch.
	SyncBatchSize int `yaml:"sync_batch_size"`
	// SyncMaxRetries is the per-item retry budget.
	SyncMaxRetries int `yaml:"sync_max_retries"`
	// SyncBackoffBase is the exponential backoff unit.
	SyncBackoffBase time.Duration `yaml:"sync_backoff_base"`

	// EventRetentionDays bounds the sync event log. Zero picks the default
	// of 30 days; a negative value disables cleanup.
	EventRetentionDays int `yaml:"event_retention_days"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "tripsync.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8480"
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.SyncBatchSize <= 0 {
		c.SyncBatchSize = 10
	}
	if c.SyncMaxRetries <= 0 {
		c.SyncMaxRetries = 3
	}
	if c.SyncBackoffBase <= 0 {
		c.SyncBackoffBase = 2 * time.Second
	}
	if c.EventRetentionDays == 0 {
		c.EventRetentionDays = 30
	}
}

// LoadConfigFile reads a YAML config file and applies defaults. A missing
// path returns the defaults unchanged.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("tripsync: read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("tripsync: parse config: %w", err)
		}
	}
	cfg.defaults()
	return cfg, nil
}
