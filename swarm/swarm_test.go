package swarm

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/store"
)

// setupSwarmStore starts an in-process Redis and a store client against it.
func setupSwarmStore(t *testing.T) (*miniredis.Miniredis, *store.RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := store.New(store.Config{
		Addr:      mr.Addr(),
		KeyPrefix: "swarm:",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return mr, st
}

// testConfig returns a coordination config with intervals shrunk for tests.
func testConfig(nodeID string, capabilities ...string) Config {
	cfg := DefaultConfig()
	cfg.NodeID = nodeID
	cfg.Capabilities = capabilities
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.NodeTimeout = 250 * time.Millisecond
	cfg.SelectionMaxAge = 200 * time.Millisecond
	cfg.StatusPollInterval = 20 * time.Millisecond
	cfg.TickBackoff = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// freshNode builds a directory entry with a current heartbeat.
func freshNode(id string, load float64, capabilities ...string) *Node {
	return &Node{
		ID:            id,
		InstanceURL:   "http://" + id + ":8080",
		Capabilities:  capabilities,
		LoadFactor:    load,
		LastHeartbeat: time.Now().UTC(),
		Status:        NodeStatusActive,
	}
}
