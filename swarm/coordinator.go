package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/store"
)

// Coordinator is the dependency-injection root of the swarm layer. The host
// constructs one Coordinator, registers executors for its capabilities, and
// passes the instance to anything needing delegation or state sync. There is
// no process-wide accessor.
type Coordinator struct {
	cfg        Config
	logger     *zap.Logger
	registry   *ExecutorRegistry
	metricsReg prometheus.Registerer

	mu        sync.Mutex
	started   bool
	available bool

	store     *store.RedisStore
	dir       *Directory
	delegator *Delegator
	processor *Processor
	syncer    *Synchronizer
	metrics   *metrics.Collector

	done     chan struct{}
	loopCtx  context.Context
	loopStop context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetricsRegisterer attaches the swarm collectors to a shared Prometheus
// registerer. Without it each coordinator registers into a private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.metricsReg = reg
	}
}

// NewCoordinator creates a coordinator. No I/O happens until Start.
func NewCoordinator(cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	c := &Coordinator{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "coordinator"), zap.String("node_id", cfg.NodeID)),
		registry: NewExecutorRegistry(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NodeID returns this node's identity.
func (c *Coordinator) NodeID() string {
	return c.cfg.NodeID
}

// RegisterExecutor binds an executor to a task type. Every declared
// capability must have an executor registered before Start.
func (c *Coordinator) RegisterExecutor(taskType string, ex Executor) {
	c.registry.Register(taskType, ex)
}

// Start validates configuration and the executor registry, probes the shared
// store, registers this node in the directory, and launches the heartbeat
// loop. An unreachable store is not an error: the coordinator starts in
// standalone mode and Available reports false.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := c.registry.Validate(c.cfg.Capabilities); err != nil {
		return err
	}

	st, err := store.New(store.Config{
		Addr:      c.cfg.Redis.Addr,
		Password:  c.cfg.Redis.Password,
		DB:        c.cfg.Redis.DB,
		PoolSize:  c.cfg.Redis.PoolSize,
		KeyPrefix: c.cfg.Redis.KeyPrefix,
	}, c.logger)
	if err != nil {
		c.logger.Warn("shared store unreachable, swarm disabled for this node", zap.Error(err))
		c.started = true
		c.available = false
		return nil
	}

	c.store = st
	c.metrics = metrics.NewCollector("agentmesh_swarm", c.metricsReg)
	c.dir = NewDirectory(st, c.cfg.NodeID, c.cfg.NodeTimeout, c.logger)
	c.processor = NewProcessor(st, c.registry, c.cfg, c.metrics, c.logger)
	c.delegator = NewDelegator(st, c.dir, c.cfg, c.metrics, c.logger)
	c.syncer = NewSynchronizer(st, c.cfg.NodeID, c.logger)

	if err := c.dir.Register(ctx, c.selfNode(time.Now().UTC(), 0)); err != nil {
		c.logger.Warn("initial registration failed, swarm disabled for this node", zap.Error(err))
		_ = st.Close()
		c.store = nil
		c.started = true
		c.available = false
		return nil
	}

	c.loopCtx, c.loopStop = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.heartbeatLoop()

	c.started = true
	c.available = true
	c.logger.Info("swarm coordinator started",
		zap.Strings("capabilities", c.cfg.Capabilities),
		zap.Duration("heartbeat_interval", c.cfg.HeartbeatInterval),
	)
	return nil
}

// Stop shuts the coordinator down: the heartbeat loop exits, in-flight
// executions are drained up to the shutdown timeout, and the node
// unregisters from the directory best effort.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.mu.Lock()
		available := c.available
		c.available = false
		c.mu.Unlock()

		if !available {
			return
		}

		drainCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
		defer cancel()
		if err := c.processor.Drain(drainCtx); err != nil {
			c.logger.Warn("shutdown drain incomplete", zap.Error(err))
		}
		c.loopStop()

		unregCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := c.dir.Unregister(unregCtx); err != nil {
			c.logger.Warn("unregister failed, peers will sweep the entry", zap.Error(err))
		}

		if err := c.store.Close(); err != nil {
			c.logger.Warn("store close failed", zap.Error(err))
		}
		c.logger.Info("swarm coordinator stopped")
	})
	return nil
}

// Available reports whether this node is participating in the swarm. False
// before Start, after Stop, and in standalone mode.
func (c *Coordinator) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// ready returns ErrNotStarted before Start and ErrSwarmUnavailable in
// standalone mode or after Stop.
func (c *Coordinator) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	if !c.available {
		return ErrSwarmUnavailable
	}
	return nil
}

// Delegate publishes a task to the swarm and waits for its result. Returns
// ErrSwarmUnavailable in standalone mode; a nil result with nil error when
// no peer is capable, the peer fails, or the wait times out.
func (c *Coordinator) Delegate(ctx context.Context, taskType string, payload any, priority int, timeout time.Duration) (json.RawMessage, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.delegator.Delegate(ctx, taskType, payload, priority, timeout)
}

// Sync merges local state with peer snapshots through the shared store.
func (c *Coordinator) Sync(ctx context.Context, stateKey string, local map[string]any) (map[string]any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.syncer.Sync(ctx, stateKey, local)
}

// Peers returns the current directory snapshot, this node included.
func (c *Coordinator) Peers(ctx context.Context) ([]Node, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.dir.Snapshot(ctx)
}

// TaskStatus reads the current status record for a delegated task. Returns
// ErrTaskNotFound when no record exists or it has already aged out.
func (c *Coordinator) TaskStatus(ctx context.Context, taskID string) (*StatusRecord, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	blob, err := c.store.GetStatus(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
		}
		return nil, err
	}
	return UnmarshalStatusRecord(blob)
}

// PollOnce runs a single poll-and-claim cycle outside the heartbeat
// schedule. Useful for hosts that want to drain queues on demand.
func (c *Coordinator) PollOnce(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.processor.PollAndClaim(ctx)
}

// selfNode builds this node's directory entry for the given load factor.
func (c *Coordinator) selfNode(now time.Time, load float64) *Node {
	status := NodeStatusActive
	if load >= 1 {
		status = NodeStatusBusy
	}
	return &Node{
		ID:            c.cfg.NodeID,
		InstanceURL:   c.cfg.InstanceURL,
		Capabilities:  c.cfg.Capabilities,
		LoadFactor:    load,
		LastHeartbeat: now,
		Status:        status,
	}
}

// heartbeatLoop drives one coordination tick per interval. Tick failures are
// logged and followed by a short backoff; the loop exits only on Stop.
func (c *Coordinator) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.tick(c.loopCtx); err != nil {
				c.logger.Error("coordination tick failed", zap.Error(err))
				c.metrics.HeartbeatFailed()
				select {
				case <-c.done:
					return
				case <-time.After(c.cfg.TickBackoff):
				}
				continue
			}
			c.metrics.HeartbeatCompleted()
		}
	}
}

// tick refreshes this node's directory entry, sweeps stale peers, and drains
// the processor once.
func (c *Coordinator) tick(ctx context.Context) error {
	now := time.Now().UTC()
	load := c.processor.LoadFactor()

	if err := c.dir.Register(ctx, c.selfNode(now, load)); err != nil {
		return err
	}
	c.metrics.SetLoadFactor(load)

	evicted, remaining, err := c.dir.SweepStale(ctx, now)
	if err != nil {
		return err
	}
	if evicted > 0 {
		c.metrics.PeersEvicted(evicted)
	}
	c.metrics.SetKnownPeers(remaining)

	return c.processor.PollAndClaim(ctx)
}
