// Package daemon holds the process configuration for the compute ledger.
// Configuration lives in ~/.compute/config.toml; every value has a default.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration file.
type Config struct {
	API      APIConfig         `toml:"api"`
	Ledger   LedgerConfig      `toml:"ledger"`
	Storage  StorageConfig     `toml:"storage"`
	Pricing  PricingConfig     `toml:"pricing"`
	Session  SessionConfig     `toml:"session"`
	Events   EventsConfig      `toml:"events"`
	Executor ExecutorConfig    `toml:"executor"`
	Backends map[string]string `toml:"backends"` // feature → webhook URL
	Log      LogConfig         `toml:"log"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// LedgerConfig controls account defaults.
type LedgerConfig struct {
	StartingBalance int64  `toml:"starting_balance"`
	HistoryCap      int    `toml:"history_cap"`
	ReservationTTL  string `toml:"reservation_ttl"`
	DefaultIdentity string `toml:"default_identity"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// PricingConfig points at an optional YAML price override file.
type PricingConfig struct {
	OverridesFile string `toml:"overrides_file"`
}

// SessionConfig controls the Redis session mirror. Empty URL disables it.
type SessionConfig struct {
	RedisURL string `toml:"redis_url"`
	TTL      string `toml:"ttl"`
}

// EventsConfig controls the NATS account event bridge. Empty URL disables it.
type EventsConfig struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// ExecutorConfig controls feature job execution.
type ExecutorConfig struct {
	MaxConcurrent  int    `toml:"max_concurrent"`
	DefaultTimeout string `toml:"default_timeout"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8787,
			Metrics: true,
		},
		Ledger: LedgerConfig{
			StartingBalance: 1000,
			HistoryCap:      1000,
			ReservationTTL:  "10m",
			DefaultIdentity: "default",
		},
		Storage: StorageConfig{
			DataDir: filepath.Join(Home(), "data"),
		},
		Session: SessionConfig{
			TTL: "12h",
		},
		Events: EventsConfig{
			SubjectPrefix: "compute.account",
		},
		Executor: ExecutorConfig{
			MaxConcurrent:  4,
			DefaultTimeout: "5m",
		},
		Backends: map[string]string{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Home returns the compute home directory: $COMPUTE_HOME or ~/.compute.
func Home() string {
	if h := os.Getenv("COMPUTE_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".compute"
	}
	return filepath.Join(home, ".compute")
}

// DefaultConfigPath returns <home>/config.toml.
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadConfig reads path over the defaults and applies environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("COMPUTE_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COMPUTE_API_PORT: %w", err)
		}
		c.API.Port = port
	}
	if v := os.Getenv("COMPUTE_REDIS_URL"); v != "" {
		c.Session.RedisURL = v
	}
	if v := os.Getenv("COMPUTE_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	return nil
}

// Validate checks ranges and duration strings.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Ledger.StartingBalance < 0 {
		return fmt.Errorf("ledger.starting_balance must not be negative")
	}
	if c.Ledger.HistoryCap <= 0 {
		return fmt.Errorf("ledger.history_cap must be positive")
	}
	if c.Executor.MaxConcurrent <= 0 {
		return fmt.Errorf("executor.max_concurrent must be positive")
	}
	for name, v := range map[string]string{
		"ledger.reservation_ttl":   c.Ledger.ReservationTTL,
		"session.ttl":              c.Session.TTL,
		"executor.default_timeout": c.Executor.DefaultTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// ReservationTTL returns the parsed ledger.reservation_ttl.
func (c Config) ReservationTTL() time.Duration {
	d, _ := parseDuration(c.Ledger.ReservationTTL)
	return d
}

// SessionTTL returns the parsed session.ttl.
func (c Config) SessionTTL() time.Duration {
	d, _ := parseDuration(c.Session.TTL)
	return d
}

// JobTimeout returns the parsed executor.default_timeout.
func (c Config) JobTimeout() time.Duration {
	d, _ := parseDuration(c.Executor.DefaultTimeout)
	return d
}

// parseDuration accepts Go durations plus a "d" day suffix. Empty is zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
