package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Executor runs the business logic behind one task type. Implementations are
// supplied by the host application; the coordination layer never interprets
// payloads or results. CPU-bound work should offload internally so the
// executor returns promptly relative to requester timeouts.
type Executor interface {
	Execute(ctx context.Context, task *Task) (json.RawMessage, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *Task) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *Task) (json.RawMessage, error) {
	return f(ctx, task)
}

// ExecutorRegistry maps task types to their executors. Lookups at dispatch
// time never miss: Validate runs at startup and refuses any advertised
// capability that lacks a handler.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[string]Executor),
	}
}

// Register binds an executor to a task type, replacing any previous binding.
func (r *ExecutorRegistry) Register(taskType string, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[taskType] = ex
}

// Get returns the executor for a task type.
func (r *ExecutorRegistry) Get(taskType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[taskType]
	return ex, ok
}

// Validate checks that every declared capability has a registered executor.
func (r *ExecutorRegistry) Validate(capabilities []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range capabilities {
		if _, ok := r.executors[c]; !ok {
			return fmt.Errorf("%w: %s", ErrExecutorMissing, c)
		}
	}
	return nil
}
