package swarm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/store"
)

// Directory is the in-process view of the swarm's node membership, backed by
// one shared hash keyed by node id. A node's own entry is the sole source of
// truth for its freshness; peers never write another peer's entry except to
// delete it once stale.
type Directory struct {
	store       *store.RedisStore
	selfID      string
	nodeTimeout time.Duration
	logger      *zap.Logger
}

// NewDirectory creates a directory view over the shared store.
func NewDirectory(st *store.RedisStore, selfID string, nodeTimeout time.Duration, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		store:       st,
		selfID:      selfID,
		nodeTimeout: nodeTimeout,
		logger:      logger.With(zap.String("component", "directory")),
	}
}

// Register upserts a node entry into the shared hash. Idempotent; the entry
// is visible to all peers after one store round trip.
func (d *Directory) Register(ctx context.Context, node *Node) error {
	blob, err := node.Marshal()
	if err != nil {
		return err
	}
	if err := d.store.UpsertNode(ctx, node.ID, blob); err != nil {
		return fmt.Errorf("failed to register node %s: %w", node.ID, err)
	}
	d.logger.Debug("node entry written",
		zap.String("node_id", node.ID),
		zap.Float64("load_factor", node.LoadFactor),
	)
	return nil
}

// Unregister removes this node's own entry. Best effort on shutdown; a crash
// skips it and the peers' stale sweep becomes the failure detector.
func (d *Directory) Unregister(ctx context.Context) error {
	if err := d.store.DeleteNodes(ctx, d.selfID); err != nil {
		return fmt.Errorf("failed to unregister node %s: %w", d.selfID, err)
	}
	d.logger.Info("node unregistered", zap.String("node_id", d.selfID))
	return nil
}

// Snapshot reads every directory entry, including this node's own.
// Unparseable entries are skipped with a warning rather than failing the
// whole read.
func (d *Directory) Snapshot(ctx context.Context) ([]Node, error) {
	entries, err := d.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(entries))
	for id, blob := range entries {
		node, err := UnmarshalNode([]byte(blob))
		if err != nil {
			d.logger.Warn("skipping corrupt directory entry",
				zap.String("node_id", id),
				zap.Error(err),
			)
			continue
		}
		nodes = append(nodes, *node)
	}
	return nodes, nil
}

// SweepStale deletes every entry whose heartbeat is older than the node
// timeout. Any node may sweep any peer. Returns how many entries were
// evicted and how many remain.
func (d *Directory) SweepStale(ctx context.Context, now time.Time) (evicted, remaining int, err error) {
	nodes, err := d.Snapshot(ctx)
	if err != nil {
		return 0, 0, err
	}

	var stale []string
	for i := range nodes {
		if nodes[i].HeartbeatAge(now) > d.nodeTimeout {
			stale = append(stale, nodes[i].ID)
		}
	}
	if len(stale) == 0 {
		return 0, len(nodes), nil
	}

	if err := d.store.DeleteNodes(ctx, stale...); err != nil {
		return 0, len(nodes), err
	}
	d.logger.Info("evicted stale nodes",
		zap.Strings("node_ids", stale),
		zap.Duration("node_timeout", d.nodeTimeout),
	)
	return len(stale), len(nodes) - len(stale), nil
}
