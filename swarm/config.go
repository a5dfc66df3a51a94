package swarm

import (
	"fmt"
	"time"
)

// Config holds the coordination settings for one swarm node.
type Config struct {
	// NodeID uniquely identifies this node. Generated if empty.
	NodeID string `yaml:"node_id" json:"node_id"`

	// InstanceURL is this node's reachable address, advertised to peers.
	InstanceURL string `yaml:"instance_url" json:"instance_url"`

	// Capabilities is the set of task types this node executes. Every entry
	// must have a registered executor before Start.
	Capabilities []string `yaml:"capabilities" json:"capabilities"`

	// HeartbeatInterval is the period of the coordination tick.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`

	// NodeTimeout is the heartbeat age past which a peer is evicted.
	NodeTimeout time.Duration `yaml:"node_timeout" json:"node_timeout"`

	// SelectionMaxAge is the heartbeat age past which a peer is skipped
	// during selection. Tighter than NodeTimeout, so a peer can be too stale
	// to pick before it is formally evicted.
	SelectionMaxAge time.Duration `yaml:"selection_max_age" json:"selection_max_age"`

	// MaxConcurrentTasks caps simultaneous local executions.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`

	// StatusPollInterval is how often a delegator re-reads a status record
	// while waiting for a result.
	StatusPollInterval time.Duration `yaml:"status_poll_interval" json:"status_poll_interval"`

	// TickBackoff is the pause after a failed coordination tick.
	TickBackoff time.Duration `yaml:"tick_backoff" json:"tick_backoff"`

	// StatusRetention bounds how long terminal status records live in the
	// store, so orphaned results do not accumulate forever.
	StatusRetention time.Duration `yaml:"status_retention" json:"status_retention"`

	// ShutdownTimeout bounds how long Stop waits for in-flight executions.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Redis configures the shared registry store connection.
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the shared registry store connection.
type RedisConfig struct {
	// Addr is the host:port of the store.
	Addr string `yaml:"addr" json:"addr"`

	// Password is the store password, empty for none.
	Password string `yaml:"password" json:"password"`

	// DB is the database number.
	DB int `yaml:"db" json:"db"`

	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// KeyPrefix namespaces all swarm keys.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// DefaultConfig returns a Config with the standard coordination defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  30 * time.Second,
		NodeTimeout:        90 * time.Second,
		SelectionMaxAge:    60 * time.Second,
		MaxConcurrentTasks: 3,
		StatusPollInterval: 1 * time.Second,
		TickBackoff:        5 * time.Second,
		StatusRetention:    1 * time.Hour,
		ShutdownTimeout:    10 * time.Second,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "swarm:",
		},
	}
}

// Validate checks the configuration for inconsistencies, filling defaults
// for unset durations.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = 90 * time.Second
	}
	if c.SelectionMaxAge <= 0 {
		c.SelectionMaxAge = 60 * time.Second
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 3
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = 1 * time.Second
	}
	if c.TickBackoff <= 0 {
		c.TickBackoff = 5 * time.Second
	}
	if c.StatusRetention <= 0 {
		c.StatusRetention = 1 * time.Hour
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.NodeTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: node_timeout (%s) must exceed heartbeat_interval (%s)",
			ErrInvalidConfig, c.NodeTimeout, c.HeartbeatInterval)
	}
	if c.SelectionMaxAge > c.NodeTimeout {
		return fmt.Errorf("%w: selection_max_age (%s) must not exceed node_timeout (%s)",
			ErrInvalidConfig, c.SelectionMaxAge, c.NodeTimeout)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis addr is required", ErrInvalidConfig)
	}
	return nil
}
