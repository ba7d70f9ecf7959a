package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pagesnap/pagesnap/notify"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "4h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the service configuration, loaded from YAML with
// environment overrides. Capture tunables are not here: they live in
// the settings table and hot-reload without a restart.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	// DataDir holds the SQLite database and the image blobs.
	DataDir string `yaml:"data_dir"`
	// DBPath overrides the default <data_dir>/pagesnap.db.
	DBPath string `yaml:"db_path"`

	Browser struct {
		// RemoteURL attaches to an already-running Chrome instead of
		// launching one.
		RemoteURL        string   `yaml:"remote_url"`
		MemoryLimitMB    int64    `yaml:"memory_limit_mb"`
		RecycleInterval  Duration `yaml:"recycle_interval"`
		ResourceBlocking []string `yaml:"resource_blocking"`
		Stealth          bool     `yaml:"stealth"`
	} `yaml:"browser"`

	Queue struct {
		Visibility   Duration `yaml:"visibility"`
		PollInterval Duration `yaml:"poll_interval"`
		MaxAttempts  int      `yaml:"max_attempts"`
	} `yaml:"queue"`

	Retention struct {
		// History is how long finished captures and their blobs are
		// kept. Zero disables pruning.
		History Duration `yaml:"history"`
		// EventLogDays bounds the business event log. Zero disables.
		EventLogDays int `yaml:"event_log_days"`
	} `yaml:"retention"`

	Webhooks []notify.Endpoint `yaml:"webhooks"`
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "pagesnap.db")
	}
	if c.Queue.Visibility <= 0 {
		c.Queue.Visibility = Duration(2 * time.Minute)
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = Duration(time.Second)
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Retention.History < 0 {
		c.Retention.History = 0
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PAGESNAP_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PAGESNAP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PAGESNAP_DATA_DIR"); v != "" {
		c.DataDir = v
		c.DBPath = ""
	}
	if v := os.Getenv("PAGESNAP_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("PAGESNAP_BROWSER_URL"); v != "" {
		c.Browser.RemoteURL = v
	}
}

// LoadConfig reads the YAML config at path. A missing file is not an
// error: the service runs fine on defaults. Env overrides apply last.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}
