package swarm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a delegated task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is enqueued and not yet claimed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusAssigned indicates a peer has claimed the task.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task execution failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusTimeout indicates the requester gave up waiting. It is
	// observed by the waiter; the claimant may still complete the task later.
	TaskStatusTimeout TaskStatus = "timeout"
)

// IsTerminal reports whether the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout:
		return true
	}
	return false
}

// rank orders statuses for forward-only transition checks.
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusAssigned:
		return 1
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a valid forward
// transition. A task status never regresses.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// NodeStatus represents the advertised state of a swarm node. It is
// informational; staleness eviction is driven by heartbeat age, not status.
type NodeStatus string

const (
	// NodeStatusActive indicates the node is accepting work.
	NodeStatusActive NodeStatus = "active"
	// NodeStatusBusy indicates the node is at its concurrency limit.
	NodeStatusBusy NodeStatus = "busy"
	// NodeStatusOffline indicates the node announced a shutdown.
	NodeStatusOffline NodeStatus = "offline"
)

// Task is a unit of delegable work published to the swarm.
type Task struct {
	// ID is a globally unique opaque identifier, generated at creation.
	ID string `json:"task_id"`

	// Type identifies the capability required to execute the task.
	Type string `json:"task_type"`

	// Payload is opaque structured data passed to the executor.
	Payload json.RawMessage `json:"payload,omitempty"`

	// RequesterID is the node id of the originator.
	RequesterID string `json:"requester_id"`

	// Priority is informational only; no queue ordering is derived from it.
	Priority int `json:"priority"`

	// TimeoutSeconds is the requester's ceiling on how long it will wait.
	TimeoutSeconds int `json:"timeout_seconds"`

	// CreatedAt is set at construction.
	CreatedAt time.Time `json:"created_at"`

	// AssignedTo is the node id of the claimant, empty before a claim.
	AssignedTo string `json:"assigned_to,omitempty"`

	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`

	// Result holds the execution output for terminal tasks.
	Result json.RawMessage `json:"result,omitempty"`
}

// NewTask constructs a pending task with a fresh random id.
func NewTask(taskType string, payload json.RawMessage, requesterID string, priority int, timeout time.Duration) *Task {
	return &Task{
		ID:             uuid.NewString(),
		Type:           taskType,
		Payload:        payload,
		RequesterID:    requesterID,
		Priority:       priority,
		TimeoutSeconds: int(timeout / time.Second),
		CreatedAt:      time.Now().UTC(),
		Status:         TaskStatusPending,
	}
}

// Marshal serializes the task to its wire blob.
func (t *Task) Marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}
	return data, nil
}

// UnmarshalTask deserializes a task wire blob.
func UnmarshalTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}

// Node is a directory entry for one swarm peer.
type Node struct {
	// ID is unique per process lifetime.
	ID string `json:"node_id"`

	// InstanceURL is a reachable address for out-of-band calls. The
	// coordination protocol itself never dials it.
	InstanceURL string `json:"instance_url,omitempty"`

	// Capabilities is the set of task types this node can execute.
	Capabilities []string `json:"capabilities"`

	// LoadFactor is active tasks over the concurrency budget, in [0,1].
	LoadFactor float64 `json:"load_factor"`

	// LastHeartbeat is the node's most recent self-report.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// Status is the advertised node state.
	Status NodeStatus `json:"status"`
}

// HasCapability reports whether the node declares the given task type.
func (n *Node) HasCapability(taskType string) bool {
	for _, c := range n.Capabilities {
		if c == taskType {
			return true
		}
	}
	return false
}

// HeartbeatAge returns how long ago the node last reported itself.
func (n *Node) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(n.LastHeartbeat)
}

// Marshal serializes the node to its wire blob.
func (n *Node) Marshal() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node %s: %w", n.ID, err)
	}
	return data, nil
}

// UnmarshalNode deserializes a node wire blob.
func UnmarshalNode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}
	return &n, nil
}

// StatusRecord tracks a delegated task's progress through the shared store.
// The delegator writes the initial pending record; the claimant writes every
// transition after that.
type StatusRecord struct {
	TaskID      string          `json:"task_id"`
	Status      TaskStatus      `json:"status"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	AssignedAt  *time.Time      `json:"assigned_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
}

// Marshal serializes the status record.
func (r *StatusRecord) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status record %s: %w", r.TaskID, err)
	}
	return data, nil
}

// UnmarshalStatusRecord deserializes a status record blob.
func UnmarshalStatusRecord(data []byte) (*StatusRecord, error) {
	var r StatusRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status record: %w", err)
	}
	return &r, nil
}
