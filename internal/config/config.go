// Package config holds the gateway configuration: a json5 config file
// overlaid with CLOUDBOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the cloudbot gateway.
type Config struct {
	Prefix    string          `json:"prefix"`
	AutoReact bool            `json:"auto_react"`
	Owners    []string        `json:"owners,omitempty"`
	Bridge    BridgeConfig    `json:"bridge"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Wizard    WizardConfig    `json:"wizard,omitempty"`
	Sessions  []SessionConfig `json:"sessions,omitempty"`
}

// BridgeConfig points at the protocol bridge endpoint.
type BridgeConfig struct {
	URL              string `json:"url"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms,omitempty"`
	SendTimeoutMS    int    `json:"send_timeout_ms,omitempty"`
}

// ReconnectConfig bounds the per-session reconnect policy.
type ReconnectConfig struct {
	MaxAttempts int `json:"max_attempts"`
	BaseDelayMS int `json:"base_delay_ms"`
	CapDelayMS  int `json:"cap_delay_ms"`
}

// DatabaseConfig selects the credential store backend.
// PostgresDSN is NEVER read from the config file (secret) — only from env
// CLOUDBOT_POSTGRES_DSN. When empty, the sqlite store is used.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// WizardConfig controls pending-input state eviction.
type WizardConfig struct {
	TTLMinutes int `json:"ttl_minutes,omitempty"`
}

// SessionConfig declares a session to start on boot.
type SessionConfig struct {
	ID string `json:"id"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Prefix: ".",
		Bridge: BridgeConfig{
			ConnectTimeoutMS: 30000,
			SendTimeoutMS:    15000,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 3,
			BaseDelayMS: 5000,
			CapDelayMS:  30000,
		},
		Wizard: WizardConfig{TTLMinutes: 10},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("CLOUDBOT_PREFIX", &c.Prefix)
	envStr("CLOUDBOT_BRIDGE_URL", &c.Bridge.URL)
	envStr("CLOUDBOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CLOUDBOT_SQLITE_PATH", &c.Database.SQLitePath)

	envInt("CLOUDBOT_MAX_RECONNECT_ATTEMPTS", &c.Reconnect.MaxAttempts)
	envInt("CLOUDBOT_RECONNECT_DELAY_MS", &c.Reconnect.BaseDelayMS)
	envInt("CLOUDBOT_RECONNECT_DELAY_CAP_MS", &c.Reconnect.CapDelayMS)
	envInt("CLOUDBOT_CONNECT_TIMEOUT_MS", &c.Bridge.ConnectTimeoutMS)
	envInt("CLOUDBOT_SEND_TIMEOUT_MS", &c.Bridge.SendTimeoutMS)

	if v := os.Getenv("CLOUDBOT_AUTO_REACT"); v != "" {
		c.AutoReact = v == "true" || v == "1"
	}

	// Owner numbers from env (comma-separated)
	if v := os.Getenv("CLOUDBOT_OWNER_NUMBERS"); v != "" {
		c.Owners = strings.Split(v, ",")
	}
}

// ConnectTimeout returns the bounded wait for the initial connect attempt.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Bridge.ConnectTimeoutMS) * time.Millisecond
}

// SendTimeout returns the bounded wait for a single outbound send.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Bridge.SendTimeoutMS) * time.Millisecond
}

// ReconnectBase returns the backoff base delay.
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Reconnect.BaseDelayMS) * time.Millisecond
}

// ReconnectCap returns the backoff delay ceiling.
func (c *Config) ReconnectCap() time.Duration {
	return time.Duration(c.Reconnect.CapDelayMS) * time.Millisecond
}

// WizardTTL returns how long an abandoned pending-input state survives.
func (c *Config) WizardTTL() time.Duration {
	return time.Duration(c.Wizard.TTLMinutes) * time.Minute
}

// IsOwner reports whether a sender identity is in the privileged allow-list.
// Sender identities are JIDs like "254700000001@s.whatsapp.net"; owner
// entries may be bare numbers or full JIDs.
func (c *Config) IsOwner(sender string) bool {
	number := sender
	if idx := strings.IndexByte(sender, '@'); idx > 0 {
		number = sender[:idx]
	}
	for _, o := range c.Owners {
		if o == sender || o == number {
			return true
		}
	}
	return false
}

// SQLitePath resolves the sqlite credential store location.
func (c *Config) SQLitePath() (string, error) {
	if c.Database.SQLitePath != "" {
		return c.Database.SQLitePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".cloudbot", "credentials.db"), nil
}
