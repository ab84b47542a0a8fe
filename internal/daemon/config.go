// Package daemon holds the process configuration, loaded from TOML with
// environment overrides for secrets.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full claimd configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Claims  ClaimsConfig  `toml:"claims"`
	Sweeper SweeperConfig `toml:"sweeper"`
	Gateway GatewayConfig `toml:"gateway"`
	Notify  NotifyConfig  `toml:"notify"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	Path string `toml:"path"`
}

// ClaimsConfig configures the lifecycle state machine.
type ClaimsConfig struct {
	MinAmountCents   int64  `toml:"min_amount_cents"`
	MaxAmountCents   int64  `toml:"max_amount_cents"`
	MinEvidence      int    `toml:"min_evidence"`
	ResponseDeadline string `toml:"response_deadline"` // e.g. "72h"
}

// SweeperConfig configures the deadline sweep job.
type SweeperConfig struct {
	Enabled    bool   `toml:"enabled"`
	Interval   string `toml:"interval"` // e.g. "15m"
	BatchLimit int    `toml:"batch_limit"`
	Workers    int    `toml:"workers"`
}

// GatewayConfig configures the payment gateway client.
type GatewayConfig struct {
	BaseURL       string `toml:"base_url"`
	APIKey        string `toml:"api_key"` // CLAIMD_GATEWAY_KEY overrides
	Currency      string `toml:"currency"`
	FeePercentBps int64  `toml:"fee_percent_bps"`
	FeeFixedCents int64  `toml:"fee_fixed_cents"`
}

// NotifyConfig configures the notification dispatcher client.
type NotifyConfig struct {
	BaseURL string `toml:"base_url"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8480,
			Metrics: true,
		},
		Storage: StorageConfig{
			Path: defaultDBPath(),
		},
		Claims: ClaimsConfig{
			MinAmountCents:   100,
			MaxAmountCents:   1_000_000,
			MinEvidence:      2,
			ResponseDeadline: "72h",
		},
		Sweeper: SweeperConfig{
			Enabled:    true,
			Interval:   "15m",
			BatchLimit: 200,
			Workers:    4,
		},
		Gateway: GatewayConfig{
			BaseURL:       "https://api.paygate.example.com",
			Currency:      "usd",
			FeePercentBps: 290,
			FeeFixedCents: 30,
		},
		Notify: NotifyConfig{
			BaseURL: "http://127.0.0.1:8481",
		},
	}
}

// Load reads the config file at path, falling back to defaults for any
// missing keys. A missing file is not an error — defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if key := os.Getenv("CLAIMD_GATEWAY_KEY"); key != "" {
		cfg.Gateway.APIKey = key
	}
	return cfg, nil
}

// DefaultConfigPath returns ~/.claimd/config.toml (or $CLAIMD_HOME).
func DefaultConfigPath() string {
	return filepath.Join(homeDir(), "config.toml")
}

func defaultDBPath() string {
	return filepath.Join(homeDir(), "claims.db")
}

func homeDir() string {
	if env := os.Getenv("CLAIMD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claimd")
}

// ParseDuration parses a config duration string with a fallback.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
