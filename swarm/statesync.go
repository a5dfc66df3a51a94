package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/store"
)

// Synchronizer merges this node's local state snapshot into a shared per-node
// hash and folds peer snapshots back into a merged view. Convergence is best
// effort: there is no locking, and the merge is only as fresh as the last
// read.
type Synchronizer struct {
	store  *store.RedisStore
	selfID string
	logger *zap.Logger
}

// NewSynchronizer creates a state synchronizer.
func NewSynchronizer(st *store.RedisStore, selfID string, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		store:  st,
		selfID: selfID,
		logger: logger.With(zap.String("component", "statesync")),
	}
}

// Sync merges peer snapshots into local state, publishes the freshly stamped
// local snapshot under this node's sub-key, and returns the merged view.
//
// The merge is last-write-wins at whole-blob granularity: a peer blob whose
// timestamp field exceeds the merged view's current timestamp overwrites
// every field it carries, timestamp included. There is no per-field
// timestamping.
func (s *Synchronizer) Sync(ctx context.Context, stateKey string, local map[string]any) (map[string]any, error) {
	entries, err := s.store.ReadState(ctx, stateKey)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(local)+2)
	for k, v := range local {
		merged[k] = v
	}

	for nodeID, blob := range entries {
		if nodeID == s.selfID {
			continue
		}
		var peer map[string]any
		if err := json.Unmarshal([]byte(blob), &peer); err != nil {
			s.logger.Warn("skipping unparseable peer state",
				zap.String("state_key", stateKey),
				zap.String("node_id", nodeID),
				zap.Error(err),
			)
			continue
		}
		if blobTimestamp(peer) > blobTimestamp(merged) {
			for k, v := range peer {
				merged[k] = v
			}
		}
	}

	own := make(map[string]any, len(local)+2)
	for k, v := range local {
		own[k] = v
	}
	own["timestamp"] = float64(time.Now().UnixNano()) / 1e9
	own["node_id"] = s.selfID

	ownBlob, err := json.Marshal(own)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal local state %s: %w", stateKey, err)
	}
	if err := s.store.WriteState(ctx, stateKey, s.selfID, ownBlob); err != nil {
		return nil, err
	}

	s.logger.Debug("state synchronized",
		zap.String("state_key", stateKey),
		zap.Int("peer_blobs", len(entries)),
	)
	return merged, nil
}

// blobTimestamp extracts a state blob's whole-blob timestamp, zero when
// absent or malformed.
func blobTimestamp(m map[string]any) float64 {
	if v, ok := m["timestamp"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}
