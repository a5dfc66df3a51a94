// Package config loads host-process configuration for the swarm layer.
//
// Precedence: built-in defaults, then the YAML file, then environment
// variables with the AGENTMESH_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentmesh/swarm"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "AGENTMESH_"

// Config is the full host configuration.
type Config struct {
	// Swarm holds the coordination settings.
	Swarm swarm.Config `yaml:"swarm"`

	// Log holds the logging settings.
	Log LogConfig `yaml:"log"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or console.
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Swarm: swarm.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Swarm.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from AGENTMESH_* environment variables.
func applyEnv(cfg *Config) error {
	setString(&cfg.Swarm.NodeID, "NODE_ID")
	setString(&cfg.Swarm.InstanceURL, "INSTANCE_URL")
	setString(&cfg.Swarm.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Swarm.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Swarm.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	if v, ok := lookup("CAPABILITIES"); ok {
		parts := strings.Split(v, ",")
		caps := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				caps = append(caps, p)
			}
		}
		cfg.Swarm.Capabilities = caps
	}

	if err := setInt(&cfg.Swarm.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err := setInt(&cfg.Swarm.MaxConcurrentTasks, "MAX_CONCURRENT_TASKS"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Swarm.HeartbeatInterval, "HEARTBEAT_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Swarm.NodeTimeout, "NODE_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Swarm.SelectionMaxAge, "SELECTION_MAX_AGE"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Swarm.StatusRetention, "STATUS_RETENTION"); err != nil {
		return err
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return v, ok
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setInt(dst *int, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

// NewLogger builds a zap logger from the log settings.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "console" {
		zc.Encoding = "console"
	}
	return zc.Build()
}
