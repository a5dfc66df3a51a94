package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/store"
)

// enqueueTestTask publishes a task and its pending status record the way a
// delegator would.
func enqueueTestTask(t *testing.T, st *store.RedisStore, task *Task) {
	t.Helper()
	ctx := context.Background()

	rec := &StatusRecord{TaskID: task.ID, Status: TaskStatusPending, CreatedAt: task.CreatedAt}
	recBlob, err := rec.Marshal()
	require.NoError(t, err)
	require.NoError(t, st.SetStatus(ctx, task.ID, recBlob, time.Hour))

	blob, err := task.Marshal()
	require.NoError(t, err)
	require.NoError(t, st.EnqueueTask(ctx, task.Type, blob))
}

// statusOf reads and decodes a task's status record.
func statusOf(t *testing.T, st *store.RedisStore, taskID string) *StatusRecord {
	t.Helper()
	blob, err := st.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	rec, err := UnmarshalStatusRecord(blob)
	require.NoError(t, err)
	return rec
}

func TestProcessor_ClaimAndExecute(t *testing.T) {
	_, st := setupSwarmStore(t)
	ctx := context.Background()

	reg := NewExecutorRegistry()
	reg.Register("echo", ExecutorFunc(func(ctx context.Context, task *Task) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}))
	p := NewProcessor(st, reg, testConfig("worker-1", "echo"), nil, zap.NewNop())

	task := NewTask("echo", json.RawMessage(`{"x":1}`), "requester", 0, 5*time.Second)
	enqueueTestTask(t, st, task)

	require.NoError(t, p.PollAndClaim(ctx))

	assert.Eventually(t, func() bool {
		rec := statusOf(t, st, task.ID)
		return rec.Status == TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec := statusOf(t, st, task.ID)
	assert.Equal(t, "worker-1", rec.AssignedTo)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Result))
	assert.NotNil(t, rec.CompletedAt)

	assert.Eventually(t, func() bool { return p.ActiveCount() == 0 }, time.Second, 10*time.Millisecond)

	n, err := st.QueueLen(ctx, "echo")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessor_ExecutionFailureRecorded(t *testing.T) {
	_, st := setupSwarmStore(t)
	ctx := context.Background()

	reg := NewExecutorRegistry()
	reg.Register("echo", ExecutorFunc(func(ctx context.Context, task *Task) (json.RawMessage, error) {
		return nil, errors.New("boom")
	}))
	p := NewProcessor(st, reg, testConfig("worker-1", "echo"), nil, zap.NewNop())

	task := NewTask("echo", nil, "requester", 0, 5*time.Second)
	enqueueTestTask(t, st, task)

	require.NoError(t, p.PollAndClaim(ctx))

	assert.Eventually(t, func() bool {
		rec := statusOf(t, st, task.ID)
		return rec.Status == TaskStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	rec := statusOf(t, st, task.ID)
	assert.Contains(t, rec.Error, "boom")
	assert.NotNil(t, rec.FailedAt)
	assert.Nil(t, rec.Result)
}

func TestProcessor_ExecutorPanicRecordedAsFailure(t *testing.T) {
	_, st := setupSwarmStore(t)
	ctx := context.Background()

	reg := NewExecutorRegistry()
	reg.Register("echo", ExecutorFunc(func(ctx context.Context, task *Task) (json.RawMessage, error) {
		panic("executor blew up")
	}))
	p := NewProcessor(st, reg, testConfig("worker-1", "echo"), nil, zap.NewNop())

	task := NewTask("echo", nil, "requester", 0, 5*time.Second)
	enqueueTestTask(t, st, task)

	require.NoError(t, p.PollAndClaim(ctx))

	assert.Eventually(t, func() bool {
		rec := statusOf(t, st, task.ID)
		return rec.Status == TaskStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, statusOf(t, st, task.ID).Error, "panic")
}

func TestProcessor_BackpressureSkipsPolling(t *testing.T) {
	_, st := setupSwarmStore(t)
	ctx := context.Background()

	cfg := testConfig("worker-1", "echo")
	cfg.MaxConcurrentTasks = 1
	p := NewProcessor(st, NewExecutorRegistry(), cfg, nil, zap.NewNop())
	p.markActive("occupied")

	task := NewTask("echo", nil, "requester", 0, 5*time.Second)
	enqueueTestTask(t, st, task)

	require.NoError(t, p.PollAndClaim(ctx))

	// The queued task must remain untouched while the node is at capacity.
	n, err := st.QueueLen(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, TaskStatusPending, statusOf(t, st, task.ID).Status)
}

func TestProcessor_OneTaskPerCapabilityPerCycle(t *testing.T) {
	_, st := setupSwarmStore(t)
	ctx := context.Background()

	reg := NewExecutorRegistry()
	reg.Register("echo", ExecutorFunc(func(ctx context.Context, task *Task) (json.RawMessage, error) {
		return nil, nil
	}))
	p := NewProcessor(st, reg, testConfig("worker-1", "echo"), nil, zap.NewNop())

	first := NewTask("echo", nil, "requester", 0, 5*time.Second)
	second := NewTask("echo", nil, "requester", 0, 5*time.Second)
	enqueueTestTask(t, st, first)
	enqueueTestTask(t, st, second)

	require.NoError(t, p.PollAndClaim(ctx))

	n, err := st.QueueLen(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProcessor_DrainWaitsForInflightExecutions(t *testing.T) {
	_, st := setupSwarmStore(t)
	ctx := context.Background()

	reg := NewExecutorRegistry()
	reg.Register("echo", ExecutorFunc(func(ctx context.Context, task *Task) (json.RawMessage, error) {
		time.Sleep(200 * time.Millisecond)
		return json.RawMessage(`{"slow":true}`), nil
	}))
	p := NewProcessor(st, reg, testConfig("worker-1", "echo"), nil, zap.NewNop())

	task := NewTask("echo", nil, "requester", 0, 5*time.Second)
	enqueueTestTask(t, st, task)
	require.NoError(t, p.PollAndClaim(ctx))

	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, p.Drain(drainCtx))

	// The result must be recorded by the time the drain returns.
	rec := statusOf(t, st, task.ID)
	assert.Equal(t, TaskStatusCompleted, rec.Status)
	assert.JSONEq(t, `{"slow":true}`, string(rec.Result))
	assert.Zero(t, p.ActiveCount())
}

func TestProcessor_DiscardsTaskFromWrongQueue(t *testing.T) {
	_, st := setupSwarmStore(t)
	ctx := context.Background()

	reg := NewExecutorRegistry()
	reg.Register("echo", ExecutorFunc(func(ctx context.Context, task *Task) (json.RawMessage, error) {
		return nil, nil
	}))
	p := NewProcessor(st, reg, testConfig("worker-1", "echo"), nil, zap.NewNop())

	// A task whose declared type disagrees with the queue it sits on.
	task := NewTask("other", nil, "requester", 0, 5*time.Second)
	blob, err := task.Marshal()
	require.NoError(t, err)
	require.NoError(t, st.EnqueueTask(ctx, "echo", blob))

	require.NoError(t, p.PollAndClaim(ctx))

	n, err := st.QueueLen(ctx, "echo")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, p.ActiveCount())
}
