package vigil

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures the vigil service.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`
	// EncryptionKey protects channel configs at rest. Required before any
	// channel can be created.
	EncryptionKey string `yaml:"encryption_key"`
	// Workers is the worker pool concurrency.
	Workers int `yaml:"workers"`
	// TickInterval is the scheduler cadence.
	TickInterval time.Duration `yaml:"tick_interval"`
	// NotifyOnFirstSnapshot also notifies when a monitor's very first
	// snapshot is stored, instead of silently seeding it.
	NotifyOnFirstSnapshot bool `yaml:"notify_on_first_snapshot"`

	Fetch      FetchConfig      `yaml:"fetch"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// FetchConfig tunes the HTTP fetcher.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	UserAgent    string        `yaml:"user_agent"`
}

// SummarizerConfig points at an OpenAI-compatible endpoint. An empty
// base_url disables summarization.
type SummarizerConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetentionConfig caps per-monitor history. Explicit 0 deletes all
// history; unset fields default to 20.
type RetentionConfig struct {
	KeepSnapshots *int `yaml:"keep_snapshots"`
	KeepChanges   *int `yaml:"keep_changes"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "vigil.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		c.Fetch.MaxBodyBytes = 10 * 1024 * 1024
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "vigil/1.0"
	}
}

// KeepCounts resolves the retention config to concrete keep counts.
func (r RetentionConfig) KeepCounts() (snapshots, changes int) {
	snapshots, changes = 20, 20
	if r.KeepSnapshots != nil {
		snapshots = *r.KeepSnapshots
	}
	if r.KeepChanges != nil {
		changes = *r.KeepChanges
	}
	return snapshots, changes
}

// LoadConfig reads a YAML config file and applies defaults. A missing
// path yields the default config.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		blob, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("vigil: read config: %w", err)
		}
		if err := yaml.Unmarshal(blob, cfg); err != nil {
			return nil, fmt.Errorf("vigil: parse config: %w", err)
		}
	}
	cfg.defaults()
	return cfg, nil
}
