// Package config loads and validates the dotnet-profile tool settings.
//
// DESIGN: Settings describe the tool itself (where the EventPipe variables are
// persisted, how to log), never the tracing configuration, which lives in the
// store. Every field must be present after loading; the CLI falls back to an
// embedded default file rather than to Go-side defaults.
//
// FILES:
//   - config.go:     Root Config struct, Load(), Validate()
//   - monitoring.go: Logging and audit settings
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/compresr/dotnet-profile/internal/store"
)

// StoreEnvVar overrides store.path when set.
const StoreEnvVar = "DOTNET_PROFILE_STORE"

// Config is the root configuration for dotnet-profile.
type Config struct {
	Store      StoreConfig      `yaml:"store"`      // Durable key-value store
	Session    SessionConfig    `yaml:"session"`    // Marker handling
	Monitoring MonitoringConfig `yaml:"monitoring"` // Logging and audit
}

// StoreConfig selects where the EventPipe variables are persisted.
type StoreConfig struct {
	Type string `yaml:"type"` // dotenv or sqlite
	Path string `yaml:"path"` // File backing the store
}

// SessionConfig contains session marker settings.
type SessionConfig struct {
	AtomicMarker bool `yaml:"atomic_marker"` // Exclusive create / remove-if-present
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Dir returns the per-user settings directory (~/.config/dotnet-profile).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dotnet-profile"), nil
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	cfg.Store.Path = ExpandHome(cfg.Store.Path)
	cfg.Monitoring.AuditPath = ExpandHome(cfg.Monitoring.AuditPath)
	if o := cfg.Monitoring.LogOutput; o != "stdout" && o != "stderr" {
		cfg.Monitoring.LogOutput = ExpandHome(o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if envPath := os.Getenv(StoreEnvVar); envPath != "" {
		c.Store.Path = envPath
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "":
		return fmt.Errorf("store.type is required")
	case store.TypeDotenv, store.TypeSQLite:
	default:
		return fmt.Errorf("invalid store.type: %q (must be %s or %s)", c.Store.Type, store.TypeDotenv, store.TypeSQLite)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.Monitoring.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.Monitoring.LogLevel); err != nil {
			return fmt.Errorf("invalid monitoring.log_level: %q", c.Monitoring.LogLevel)
		}
	}
	switch c.Monitoring.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid monitoring.log_format: %q (must be console or json)", c.Monitoring.LogFormat)
	}
	if c.Monitoring.AuditEnabled && c.Monitoring.AuditPath == "" {
		return fmt.Errorf("monitoring.audit_path is required when audit is enabled")
	}

	return nil
}
