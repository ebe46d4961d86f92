// Package config loads engine configuration from a TOML file with
// environment variable overrides. Missing files are not an error; every
// field has a default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "WARDEN_"

// Config is the engine configuration.
type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Audit   AuditConfig   `toml:"audit"`
	Sandbox SandboxConfig `toml:"sandbox"`
	Consent ConsentConfig `toml:"consent"`
	Logging LoggingConfig `toml:"logging"`
}

// PathsConfig locates the engine's on-disk state.
type PathsConfig struct {
	// DataDir is the root for installed plugins and the install registry.
	DataDir string `toml:"data_dir"`

	// PolicyFile holds the operator's permission policies.
	PolicyFile string `toml:"policy_file"`
}

// AuditConfig bounds the audit log.
type AuditConfig struct {
	MaxEntries int `toml:"max_entries"`
}

// SandboxConfig controls global sandbox behavior.
type SandboxConfig struct {
	// Offline cuts all plugin network access regardless of permissions.
	Offline bool `toml:"offline"`
}

// ConsentConfig controls the operator consent flow.
type ConsentConfig struct {
	// Timeout is how long a consent request waits before it is treated
	// as denied.
	Timeout time.Duration `toml:"timeout"`
}

// LoggingConfig controls the engine log.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Paths: PathsConfig{
			DataDir:    dataDir,
			PolicyFile: filepath.Join(dataDir, "policies.json"),
		},
		Audit: AuditConfig{
			MaxEntries: 10_000,
		},
		Sandbox: SandboxConfig{
			Offline: false,
		},
		Consent: ConsentConfig{
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultDataDir resolves the per-user data directory.
func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "warden")
	}
	return ".warden"
}

// Load reads configuration from path, layering file values over defaults
// and environment overrides over both. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Audit.MaxEntries <= 0 {
		cfg.Audit.MaxEntries = Default().Audit.MaxEntries
	}
	if cfg.Consent.Timeout <= 0 {
		cfg.Consent.Timeout = Default().Consent.Timeout
	}
	return cfg, nil
}

// applyEnv overrides config fields from WARDEN_ environment variables.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvPrefix + "DATA_DIR"); ok {
		cfg.Paths.DataDir = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "POLICY_FILE"); ok {
		cfg.Paths.PolicyFile = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "AUDIT_MAX_ENTRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Audit.MaxEntries = n
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "OFFLINE"); ok {
		cfg.Sandbox.Offline = parseBool(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "CONSENT_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Consent.Timeout = d
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
}

// parseBool accepts the usual spellings of a boolean setting.
func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "on", "1":
		return true
	default:
		return false
	}
}
