// Package config loads the sqlbridge CLI configuration from YAML or TOML
// files with ${VAR} environment expansion.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/core"
)

// EnvVar names the environment variable that overrides the config path.
const EnvVar = "SQLBRIDGE_CONFIG"

// Config is the complete CLI configuration.
type Config struct {
	Logging   LoggingConfig            `yaml:"logging" toml:"logging"`
	Engine    EngineConfig             `yaml:"engine" toml:"engine"`
	Databases map[string]client.Config `yaml:"databases" toml:"databases" validate:"dive"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=text json"`
}

// EngineConfig overrides core.EngineConfig. Zero values keep the defaults.
type EngineConfig struct {
	MaxWorkers      int `yaml:"max_workers" toml:"max_workers" validate:"gte=0"`
	MaxPendingOps   int `yaml:"max_pending_ops" toml:"max_pending_ops" validate:"gte=0"`
	MemoryLimitMB   int `yaml:"memory_limit_mb" toml:"memory_limit_mb" validate:"gte=0"`
	MaxLogEntries   int `yaml:"max_log_entries" toml:"max_log_entries" validate:"gte=0"`
	MaxScriptSizeKB int `yaml:"max_script_size_kb" toml:"max_script_size_kb" validate:"gte=0"`

	ExecutionTimeout    time.Duration `yaml:"-" toml:"-"`
	ExecutionTimeoutRaw string        `yaml:"execution_timeout" toml:"execution_timeout"`
}

var validate = validator.New()

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Path returns the config file location.
// Priority: $SQLBRIDGE_CONFIG > $XDG_CONFIG_HOME/sqlbridge/config.yaml >
// ~/.config/sqlbridge/config.yaml
func Path() string {
	if p := os.Getenv(EnvVar); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "sqlbridge.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sqlbridge", "config.yaml")
}

// Load reads the file at path. Files ending in .toml are parsed as TOML,
// everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if raw := cfg.Engine.ExecutionTimeoutRaw; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing execution_timeout %q: %w", raw, err)
		}
		cfg.Engine.ExecutionTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// expandEnvVars replaces ${VAR} with the variable's value, or "" if unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks field constraints and every database entry.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Engine.ExecutionTimeout < 0 {
		return fmt.Errorf("engine.execution_timeout must not be negative")
	}
	for name, db := range c.Databases {
		if err := db.Validate(); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}
	return nil
}

// Core merges the overrides into core.DefaultEngineConfig.
func (e EngineConfig) Core() core.EngineConfig {
	cfg := core.DefaultEngineConfig()
	if e.MaxWorkers > 0 {
		cfg.MaxWorkers = e.MaxWorkers
	}
	if e.MaxPendingOps > 0 {
		cfg.MaxPendingOps = e.MaxPendingOps
	}
	if e.MemoryLimitMB > 0 {
		cfg.MemoryLimitMB = e.MemoryLimitMB
	}
	if e.MaxLogEntries > 0 {
		cfg.MaxLogEntries = e.MaxLogEntries
	}
	if e.MaxScriptSizeKB > 0 {
		cfg.MaxScriptSizeKB = e.MaxScriptSizeKB
	}
	if e.ExecutionTimeout > 0 {
		cfg.ExecutionTimeout = int(e.ExecutionTimeout / time.Millisecond)
	}
	return cfg
}

// Logger builds a slog.Logger writing to w.
func (l LoggingConfig) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(l.Level)}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
