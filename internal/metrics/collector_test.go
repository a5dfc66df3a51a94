package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("test", nil)

	c.ObserveDelegation("calc", "completed", 250*time.Millisecond)
	c.ObserveDelegation("calc", "completed", 100*time.Millisecond)
	c.ObserveDelegation("calc", "timeout", 30*time.Second)
	c.ObserveDelegation("echo", "no_peer", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.delegationsTotal.WithLabelValues("calc", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.delegationsTotal.WithLabelValues("calc", "timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.delegationsTotal.WithLabelValues("echo", "no_peer")))

	c.TaskClaimed()
	c.TaskClaimed()
	assert.Equal(t, float64(2), testutil.ToFloat64(c.tasksClaimedTotal))

	c.ObserveExecution("calc", "completed", 50*time.Millisecond)
	c.ObserveExecution("calc", "failed", 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.executionsTotal.WithLabelValues("calc", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.executionsTotal.WithLabelValues("calc", "failed")))

	c.HeartbeatCompleted()
	c.HeartbeatCompleted()
	c.HeartbeatFailed()
	assert.Equal(t, float64(2), testutil.ToFloat64(c.heartbeatsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.heartbeatFailures))

	c.PeersEvicted(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.peersEvictedTotal))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector("test", nil)

	c.SetLoadFactor(0.5)
	assert.Equal(t, 0.5, testutil.ToFloat64(c.loadFactor))
	c.SetLoadFactor(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.loadFactor))

	c.SetKnownPeers(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(c.knownPeers))
}

func TestCollector_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("swarm", reg)

	c.HeartbeatCompleted()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "swarm_heartbeats_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCollector_PrivateRegistriesDoNotCollide(t *testing.T) {
	// Two collectors with the same namespace must not panic on duplicate
	// registration when no shared registerer is supplied.
	assert.NotPanics(t, func() {
		_ = NewCollector("swarm", nil)
		_ = NewCollector("swarm", nil)
	})
}
