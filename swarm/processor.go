package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/store"
)

// Processor is the consumer side of delegation. It polls the capability
// queues this node declares, claims tasks, runs them through the executor
// registry, and writes terminal status records. Executions run under a
// supervised group so shutdown can drain them instead of dropping results.
type Processor struct {
	store    *store.RedisStore
	registry *ExecutorRegistry
	cfg      Config
	metrics  *metrics.Collector
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}

	group   errgroup.Group
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewProcessor creates a task processor. The metrics collector may be nil.
func NewProcessor(st *store.RedisStore, registry *ExecutorRegistry, cfg Config, m *metrics.Collector, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Processor{
		store:    st,
		registry: registry,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With(zap.String("component", "processor")),
		active:   make(map[string]struct{}),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
}

// ActiveCount returns the number of executions currently in flight.
func (p *Processor) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// LoadFactor returns the fraction of the concurrency budget in use.
func (p *Processor) LoadFactor() float64 {
	return float64(p.ActiveCount()) / float64(p.cfg.MaxConcurrentTasks)
}

// PollAndClaim performs one poll-and-claim cycle: at most one task per
// declared capability, skipped entirely while the node is at capacity.
// Claim failures on individual queues are logged and do not abort the cycle.
func (p *Processor) PollAndClaim(ctx context.Context) error {
	if p.ActiveCount() >= p.cfg.MaxConcurrentTasks {
		p.logger.Debug("at capacity, skipping poll",
			zap.Int("max_concurrent_tasks", p.cfg.MaxConcurrentTasks),
		)
		return nil
	}

	var firstErr error
	for _, capability := range p.cfg.Capabilities {
		if p.ActiveCount() >= p.cfg.MaxConcurrentTasks {
			break
		}

		blob, err := p.store.ClaimTask(ctx, capability, p.cfg.NodeID, time.Now(), p.cfg.StatusRetention)
		if err != nil {
			p.logger.Warn("claim failed",
				zap.String("task_type", capability),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if blob == nil {
			continue
		}

		task, err := UnmarshalTask(blob)
		if err != nil {
			p.logger.Warn("discarding unparseable task", zap.Error(err))
			continue
		}
		if task.Type != capability {
			p.logger.Warn("task type does not match its queue, discarding",
				zap.String("task_id", task.ID),
				zap.String("task_type", task.Type),
				zap.String("queue", capability),
			)
			continue
		}

		task.Status = TaskStatusAssigned
		task.AssignedTo = p.cfg.NodeID
		if p.metrics != nil {
			p.metrics.TaskClaimed()
		}
		p.logger.Info("task claimed",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.Type),
			zap.String("requester", task.RequesterID),
		)

		p.markActive(task.ID)
		t := task
		p.group.Go(func() error {
			p.execute(t)
			return nil
		})
	}
	return firstErr
}

// Drain waits for all in-flight executions to finish. When ctx expires the
// remaining executor contexts are cancelled and Drain returns the context
// error after a short grace period.
func (p *Processor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			p.logger.Warn("executions still running after drain cancel",
				zap.Int("active", p.ActiveCount()),
			)
		}
		return ctx.Err()
	}
}

// execute runs one claimed task to a terminal status record. Executor errors
// and panics are recorded as failures, never propagated.
func (p *Processor) execute(task *Task) {
	defer p.unmarkActive(task.ID)
	start := time.Now()

	result, execErr := p.runExecutor(task)

	outcome := "completed"
	if execErr != nil {
		outcome = "failed"
		p.logger.Warn("task execution failed",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.Type),
			zap.Error(execErr),
		)
	} else {
		p.logger.Info("task executed",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.Type),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	if p.metrics != nil {
		p.metrics.ObserveExecution(task.Type, outcome, time.Since(start))
	}

	// The status write is detached from the execution context so a shutdown
	// drain cannot lose a finished result.
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.writeTerminalStatus(writeCtx, task, result, execErr); err != nil {
		p.logger.Error("failed to record task outcome",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
}

// runExecutor invokes the registered executor, converting panics to errors.
func (p *Processor) runExecutor(task *Task) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	ex, ok := p.registry.Get(task.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutorMissing, task.Type)
	}
	return ex.Execute(p.baseCtx, task)
}

// writeTerminalStatus transitions the task's status record to completed or
// failed, preserving the claim fields written by the store script.
func (p *Processor) writeTerminalStatus(ctx context.Context, task *Task, result json.RawMessage, execErr error) error {
	rec := &StatusRecord{
		TaskID:     task.ID,
		AssignedTo: p.cfg.NodeID,
		CreatedAt:  task.CreatedAt,
	}
	if blob, err := p.store.GetStatus(ctx, task.ID); err == nil {
		if existing, perr := UnmarshalStatusRecord(blob); perr == nil {
			rec = existing
		}
	}

	now := time.Now().UTC()
	if execErr != nil {
		rec.Status = TaskStatusFailed
		rec.Error = execErr.Error()
		rec.FailedAt = &now
	} else {
		rec.Status = TaskStatusCompleted
		rec.Result = result
		rec.CompletedAt = &now
	}
	rec.AssignedTo = p.cfg.NodeID

	blob, err := rec.Marshal()
	if err != nil {
		return err
	}
	return p.store.SetStatus(ctx, task.ID, blob, p.cfg.StatusRetention)
}

func (p *Processor) markActive(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[taskID] = struct{}{}
}

func (p *Processor) unmarkActive(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, taskID)
}
