// Package store provides the Redis-backed shared registry used by the swarm
// coordination layer. This package is internal and should not be imported by
// external projects.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound indicates the requested record does not exist in the store.
var ErrNotFound = errors.New("store: record not found")

// Config holds the store connection settings.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr" json:"addr"`

	// Password is the server password, empty for none.
	Password string `yaml:"password" json:"password"`

	// DB is the database number.
	DB int `yaml:"db" json:"db"`

	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// KeyPrefix namespaces every key written by the swarm.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "swarm:",
	}
}

// RedisStore is the shared registry client. It exposes the node directory
// hash, the capability-scoped task queues, per-task status records, and the
// per-key state hashes. All payloads are opaque blobs; serialization belongs
// to the caller.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// claimScript pops one task from a capability queue and marks its status
// record assigned in a single atomic step. The queue pop alone is exclusive,
// but without the script a claimant could crash between pop and status write,
// or race a stale record; the script closes that window. The pending record's
// remaining TTL is carried over so a claimant crash cannot leave an assigned
// record that outlives retention; records materialized here get a fresh
// retention expiry (ARGV[4], milliseconds). Returns the popped task blob, or
// false when the queue is empty or the record was already claimed.
var claimScript = redis.NewScript(`
local blob = redis.call('LPOP', KEYS[1])
if not blob then
  return false
end
local ok, task = pcall(cjson.decode, blob)
if not ok or type(task) ~= 'table' or not task.task_id then
  return false
end
local reckey = ARGV[3] .. task.task_id
local ttl = redis.call('PTTL', reckey)
local raw = redis.call('GET', reckey)
local rec
if raw then
  rec = cjson.decode(raw)
  if rec.status ~= 'pending' then
    return false
  end
else
  rec = {task_id = task.task_id, created_at = task.created_at}
end
rec.status = 'assigned'
rec.assigned_to = ARGV[1]
rec.assigned_at = ARGV[2]
if ttl <= 0 then
  ttl = tonumber(ARGV[4])
end
if ttl > 0 then
  redis.call('SET', reckey, cjson.encode(rec), 'PX', ttl)
else
  redis.call('SET', reckey, cjson.encode(rec))
end
return blob
`)

// New creates a store client and probes connectivity. A failed probe returns
// an error so the caller can fall back to standalone operation.
func New(cfg Config, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "swarm:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger.With(zap.String("component", "swarm_store")),
	}, nil
}

// nodesKey returns the directory hash key.
func (s *RedisStore) nodesKey() string {
	return s.prefix + "nodes"
}

// queueKey returns the capability-scoped task queue key.
func (s *RedisStore) queueKey(taskType string) string {
	return s.prefix + "tasks:" + taskType
}

// statusKeyPrefix returns the per-task status record key prefix.
func (s *RedisStore) statusKeyPrefix() string {
	return s.prefix + "task_status:"
}

// statusKey returns the status record key for a task.
func (s *RedisStore) statusKey(taskID string) string {
	return s.statusKeyPrefix() + taskID
}

// stateKey returns the shared state hash key for a state namespace.
func (s *RedisStore) stateKey(name string) string {
	return s.prefix + "state:" + name
}

// UpsertNode writes a node's directory entry.
func (s *RedisStore) UpsertNode(ctx context.Context, nodeID string, blob []byte) error {
	if err := s.client.HSet(ctx, s.nodesKey(), nodeID, blob).Err(); err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", nodeID, err)
	}
	return nil
}

// DeleteNodes removes directory entries. Used both for graceful unregister
// and for peer stale-sweeps; there is no owner exclusivity on deletion.
func (s *RedisStore) DeleteNodes(ctx context.Context, nodeIDs ...string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.nodesKey(), nodeIDs...).Err(); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	return nil
}

// ListNodes reads the full directory hash, node id to blob.
func (s *RedisStore) ListNodes(ctx context.Context) (map[string]string, error) {
	entries, err := s.client.HGetAll(ctx, s.nodesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return entries, nil
}

// EnqueueTask pushes a task blob onto the tail of its capability queue.
func (s *RedisStore) EnqueueTask(ctx context.Context, taskType string, blob []byte) error {
	if err := s.client.RPush(ctx, s.queueKey(taskType), blob).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", taskType, err)
	}
	return nil
}

// ClaimTask atomically pops one task from the capability queue and marks its
// status record assigned to claimantID. An existing pending record keeps its
// remaining expiry; a record created by the claim itself expires after
// retention. Returns nil with no error when the queue is empty or the popped
// task was already claimed.
func (s *RedisStore) ClaimTask(ctx context.Context, taskType, claimantID string, now time.Time, retention time.Duration) ([]byte, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.queueKey(taskType)},
		claimantID,
		now.UTC().Format(time.RFC3339Nano),
		s.statusKeyPrefix(),
		strconv.FormatInt(retention.Milliseconds(), 10),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s task: %w", taskType, err)
	}
	blob, ok := res.(string)
	if !ok {
		return nil, nil
	}
	return []byte(blob), nil
}

// QueueLen returns the depth of a capability queue.
func (s *RedisStore) QueueLen(ctx context.Context, taskType string) (int64, error) {
	n, err := s.client.LLen(ctx, s.queueKey(taskType)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s queue length: %w", taskType, err)
	}
	return n, nil
}

// SetStatus writes a task's status record. A non-zero retention applies an
// expiry so terminal records, including orphaned ones, eventually vanish.
func (s *RedisStore) SetStatus(ctx context.Context, taskID string, blob []byte, retention time.Duration) error {
	if err := s.client.Set(ctx, s.statusKey(taskID), blob, retention).Err(); err != nil {
		return fmt.Errorf("failed to write status for task %s: %w", taskID, err)
	}
	return nil
}

// GetStatus reads a task's status record. Returns ErrNotFound when the
// record does not exist or has expired.
func (s *RedisStore) GetStatus(ctx context.Context, taskID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.statusKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status for task %s: %w", taskID, err)
	}
	return data, nil
}

// WriteState writes a node's contribution to a shared state hash. Each node
// writes only its own sub-key.
func (s *RedisStore) WriteState(ctx context.Context, name, nodeID string, blob []byte) error {
	if err := s.client.HSet(ctx, s.stateKey(name), nodeID, blob).Err(); err != nil {
		return fmt.Errorf("failed to write state %s for node %s: %w", name, nodeID, err)
	}
	return nil
}

// ReadState reads a full shared state hash, node id to blob.
func (s *RedisStore) ReadState(ctx context.Context, name string) (map[string]string, error) {
	entries, err := s.client.HGetAll(ctx, s.stateKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", name, err)
	}
	return entries, nil
}

// Ping checks store connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
