// Package swarm implements peer coordination for independent agent platform
// instances: node discovery and liveness over a shared Redis registry,
// load-aware task delegation across the peer set, and eventually consistent
// shared state.
//
// There is no consensus protocol and no leader. Every node runs the same
// code against the same store: a directory hash for membership, one list per
// capability as a task queue, per-task status records, and per-key state
// hashes. Liveness is a periodic heartbeat plus a stale sweep any peer may
// perform; the queue pop is the mutual-exclusion point for claims, hardened
// by an atomic pop-and-assign script.
//
// # Usage
//
//	cfg := swarm.DefaultConfig()
//	cfg.NodeID = "node-a"
//	cfg.Capabilities = []string{"calc"}
//	cfg.Redis.Addr = "localhost:6379"
//
//	coord := swarm.NewCoordinator(cfg, logger)
//	coord.RegisterExecutor("calc", swarm.ExecutorFunc(runCalc))
//
//	if err := coord.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer coord.Stop(ctx)
//
//	result, err := coord.Delegate(ctx, "calc", map[string]any{"expr": "2+2"}, 0, 5*time.Second)
//
// A coordinator whose store is unreachable at Start runs standalone:
// Available reports false and delegation returns ErrSwarmUnavailable, so the
// host can degrade gracefully instead of failing.
//
// Guarantees are deliberately weak: delegation is at-least-once from the
// queue's perspective, task results can be orphaned when a requester times
// out, and state sync converges by whole-blob last-write-wins. Hosts needing
// stronger semantics must build them above this layer.
package swarm
