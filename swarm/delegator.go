package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/store"
)

// Delegator is the producer side of delegation. It selects an eligible peer,
// publishes a task onto the capability queue, and polls the status record
// until a terminal state or the caller's timeout.
type Delegator struct {
	store   *store.RedisStore
	dir     *Directory
	cfg     Config
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewDelegator creates a task delegator. The metrics collector may be nil.
func NewDelegator(st *store.RedisStore, dir *Directory, cfg Config, m *metrics.Collector, logger *zap.Logger) *Delegator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delegator{
		store:   st,
		dir:     dir,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(zap.String("component", "delegator")),
	}
}

// Delegate publishes a task of the given type and blocks until a peer
// reports a terminal status or timeout elapses.
//
// A nil result with nil error means the task produced no usable outcome:
// no capable peer existed (nothing was enqueued), the peer reported failure,
// or the wait timed out. On timeout the enqueued task is not retracted; a
// peer may still complete it and the record ages out via status retention.
func (d *Delegator) Delegate(ctx context.Context, taskType string, payload any, priority int, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	start := time.Now()

	nodes, err := d.dir.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory for delegation: %w", err)
	}
	peerID, ok := SelectNode(taskType, nodes, d.cfg.NodeID, time.Now(), d.cfg.SelectionMaxAge)
	if !ok {
		d.logger.Debug("no eligible peer for task type",
			zap.String("task_type", taskType),
		)
		d.observe(taskType, "no_peer", start)
		return nil, nil
	}

	var payloadBlob json.RawMessage
	if payload != nil {
		payloadBlob, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal task payload: %w", err)
		}
	}

	task := NewTask(taskType, payloadBlob, d.cfg.NodeID, priority, timeout)

	// The pending record lives slightly past the requester's deadline plus
	// retention so an orphaned task still has somewhere to land before the
	// record ages out.
	rec := &StatusRecord{
		TaskID:    task.ID,
		Status:    TaskStatusPending,
		CreatedAt: task.CreatedAt,
	}
	recBlob, err := rec.Marshal()
	if err != nil {
		return nil, err
	}
	if err := d.store.SetStatus(ctx, task.ID, recBlob, timeout+d.cfg.StatusRetention); err != nil {
		return nil, err
	}

	taskBlob, err := task.Marshal()
	if err != nil {
		return nil, err
	}
	if err := d.store.EnqueueTask(ctx, taskType, taskBlob); err != nil {
		return nil, err
	}

	d.logger.Info("task delegated",
		zap.String("task_id", task.ID),
		zap.String("task_type", taskType),
		zap.String("selected_peer", peerID),
		zap.Duration("timeout", timeout),
	)

	return d.await(ctx, task, start)
}

// await polls the status record until terminal status or timeout. A final
// check runs at the deadline so a result landing right at the boundary is
// still returned.
func (d *Delegator) await(ctx context.Context, task *Task, start time.Time) (json.RawMessage, error) {
	deadline := time.Now().Add(time.Duration(task.TimeoutSeconds) * time.Second)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(d.cfg.StatusPollInterval), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			// Wait gives up as soon as the next token cannot be served
			// before the deadline, which can be a full poll interval early.
			// Hold until the deadline actually passes so the last poll
			// window is still observed.
			<-waitCtx.Done()
			if ctx.Err() != nil {
				// The caller cancelled; give up locally, the claimant is
				// never told to stop.
				d.logger.Warn("delegation cancelled by caller",
					zap.String("task_id", task.ID),
				)
				d.observe(task.Type, "timeout", start)
				return nil, ctx.Err()
			}
			if result, terminal := d.checkStatus(ctx, task, start); terminal {
				return result, nil
			}
			d.logger.Warn("delegation timed out, task left orphaned",
				zap.String("task_id", task.ID),
				zap.String("task_type", task.Type),
				zap.Int("timeout_seconds", task.TimeoutSeconds),
			)
			d.observe(task.Type, "timeout", start)
			return nil, nil
		}

		if result, terminal := d.checkStatus(waitCtx, task, start); terminal {
			return result, nil
		}
	}
}

// checkStatus reads the status record once. The second return reports
// whether a terminal status was observed; for failures the result is nil.
func (d *Delegator) checkStatus(ctx context.Context, task *Task, start time.Time) (json.RawMessage, bool) {
	blob, err := d.store.GetStatus(ctx, task.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Warn("status poll failed",
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
		}
		return nil, false
	}

	rec, err := UnmarshalStatusRecord(blob)
	if err != nil {
		d.logger.Warn("unparseable status record",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return nil, false
	}

	switch rec.Status {
	case TaskStatusCompleted:
		d.observe(task.Type, "completed", start)
		return rec.Result, true
	case TaskStatusFailed:
		d.logger.Warn("delegated task failed on peer",
			zap.String("task_id", task.ID),
			zap.String("assigned_to", rec.AssignedTo),
			zap.String("error", rec.Error),
		)
		d.observe(task.Type, "failed", start)
		return nil, true
	}
	return nil, false
}

func (d *Delegator) observe(taskType, outcome string, start time.Time) {
	if d.metrics != nil {
		d.metrics.ObserveDelegation(taskType, outcome, time.Since(start))
	}
}
