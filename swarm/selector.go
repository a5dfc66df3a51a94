package swarm

import "time"

// SelectNode picks the best eligible peer for a task type from a directory
// snapshot. Candidates must declare the capability, must not be selfID, and
// must have heartbeated within maxAge. Among eligible peers the one with the
// lowest load factor wins; ties break on iteration order. The second return
// is false when no peer qualifies.
//
// The function is pure: it performs no I/O and never mutates the snapshot.
func SelectNode(taskType string, nodes []Node, selfID string, now time.Time, maxAge time.Duration) (string, bool) {
	bestID := ""
	bestLoad := 0.0
	found := false

	for i := range nodes {
		n := &nodes[i]
		if n.ID == selfID {
			continue
		}
		if !n.HasCapability(taskType) {
			continue
		}
		if n.HeartbeatAge(now) > maxAge {
			continue
		}
		if !found || n.LoadFactor < bestLoad {
			bestID = n.ID
			bestLoad = n.LoadFactor
			found = true
		}
	}

	return bestID, found
}
