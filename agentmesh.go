// Package agentmesh provides a top-level convenience entry point for joining
// an agent swarm with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentmesh"
//
//	cfg := agentmesh.DefaultConfig()
//	cfg.Capabilities = []string{"echo"}
//	cfg.Redis.Addr = "localhost:6379"
//
//	coord := agentmesh.New(cfg, logger)
//	coord.RegisterExecutor("echo", swarm.ExecutorFunc(echo))
//
// This is a thin wrapper around [swarm.NewCoordinator]; both produce
// identical results. Use this package when you prefer the shorter import
// path.
package agentmesh

import (
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/swarm"
)

// Config is the swarm coordination configuration.
type Config = swarm.Config

// Coordinator is the swarm coordination entry point.
type Coordinator = swarm.Coordinator

// Option configures the coordinator created by [New].
type Option = swarm.Option

// DefaultConfig returns the standard coordination defaults.
func DefaultConfig() Config {
	return swarm.DefaultConfig()
}

// New creates a swarm coordinator. Call Start on it to join the swarm.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	return swarm.NewCoordinator(cfg, logger, opts...)
}

// WithMetricsRegisterer attaches swarm metrics to a shared Prometheus
// registerer.
var WithMetricsRegisterer = swarm.WithMetricsRegisterer
