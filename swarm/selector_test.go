package swarm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSelectNode_PicksLowestLoad(t *testing.T) {
	now := time.Now()
	nodes := []Node{
		*freshNode("node-a", 0.9, "X"),
		*freshNode("node-b", 0.1, "X"),
		*freshNode("node-c", 0.5, "X"),
	}

	id, ok := SelectNode("X", nodes, "requester", now, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, "node-b", id)
}

func TestSelectNode_ExcludesSelf(t *testing.T) {
	now := time.Now()
	nodes := []Node{
		*freshNode("self", 0.0, "X"),
		*freshNode("peer", 0.9, "X"),
	}

	id, ok := SelectNode("X", nodes, "self", now, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, "peer", id)

	_, ok = SelectNode("X", nodes[:1], "self", now, time.Minute)
	assert.False(t, ok)
}

func TestSelectNode_ExcludesStalePeers(t *testing.T) {
	now := time.Now()
	stale := freshNode("stale", 0.0, "X")
	stale.LastHeartbeat = now.Add(-61 * time.Second)
	nodes := []Node{
		*stale,
		*freshNode("fresh", 0.9, "X"),
	}

	// The stale peer has the lowest load but must still be skipped.
	id, ok := SelectNode("X", nodes, "requester", now, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, "fresh", id)
}

func TestSelectNode_FiltersByCapability(t *testing.T) {
	now := time.Now()
	nodes := []Node{
		*freshNode("node-a", 0.0, "Y"),
		*freshNode("node-b", 0.9, "X"),
	}

	id, ok := SelectNode("X", nodes, "requester", now, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, "node-b", id)

	_, ok = SelectNode("Z", nodes, "requester", now, time.Minute)
	assert.False(t, ok)
}

func TestSelectNode_EmptySnapshot(t *testing.T) {
	_, ok := SelectNode("X", nil, "requester", time.Now(), time.Minute)
	assert.False(t, ok)
}

func TestSelectNode_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		now := time.Now()
		maxAge := 60 * time.Second

		n := rapid.IntRange(0, 12).Draw(rt, "nodes")
		nodes := make([]Node, n)
		for i := range nodes {
			age := time.Duration(rapid.Int64Range(0, 180).Draw(rt, fmt.Sprintf("age%d", i))) * time.Second
			var capabilities []string
			if rapid.Bool().Draw(rt, fmt.Sprintf("capable%d", i)) {
				capabilities = []string{"X"}
			}
			nodes[i] = Node{
				ID:            fmt.Sprintf("node-%d", i),
				Capabilities:  capabilities,
				LoadFactor:    rapid.Float64Range(0, 1).Draw(rt, fmt.Sprintf("load%d", i)),
				LastHeartbeat: now.Add(-age),
				Status:        NodeStatusActive,
			}
		}
		selfID := "node-0"

		id, ok := SelectNode("X", nodes, selfID, now, maxAge)
		if !ok {
			// No eligible candidate may exist.
			for i := range nodes {
				eligible := nodes[i].ID != selfID &&
					nodes[i].HasCapability("X") &&
					nodes[i].HeartbeatAge(now) <= maxAge
				if eligible {
					rt.Fatalf("eligible node %s exists but none was selected", nodes[i].ID)
				}
			}
			return
		}

		var selected *Node
		for i := range nodes {
			if nodes[i].ID == id {
				selected = &nodes[i]
			}
		}
		if selected == nil {
			rt.Fatalf("selected unknown node %s", id)
		}
		if id == selfID {
			rt.Fatalf("selected self")
		}
		if !selected.HasCapability("X") {
			rt.Fatalf("selected node without capability")
		}
		if selected.HeartbeatAge(now) > maxAge {
			rt.Fatalf("selected stale node")
		}
		for i := range nodes {
			eligible := nodes[i].ID != selfID &&
				nodes[i].HasCapability("X") &&
				nodes[i].HeartbeatAge(now) <= maxAge
			if eligible && nodes[i].LoadFactor < selected.LoadFactor {
				rt.Fatalf("node %s has lower load than selected %s", nodes[i].ID, id)
			}
		}
	})
}
