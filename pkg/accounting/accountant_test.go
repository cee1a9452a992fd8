package accounting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_600_000_000, 0)

func TestAccountantCounters(t *testing.T) {
	a := New("flow", 100, 0)

	a.Insertion(true, 2, 0, "")
	a.Insertion(true, 1, 1, "collapsed")
	a.Insertion(false, 3, 0, "")
	a.Update(true)
	a.Update(false)
	a.Eviction("timeout")
	a.Match()
	a.Occupancy(25)
	a.Processed(false)
	a.Processed(true)

	c := a.Counters()
	assert.Equal(t, uint64(3), c.InsertAttempts)
	assert.Equal(t, uint64(2), c.InsertSuccesses)
	assert.Equal(t, uint64(1), c.InsertFailures)
	assert.Equal(t, uint64(6), c.Recirculations)
	assert.Equal(t, uint64(1), c.DeRecirculations)
	assert.Equal(t, uint64(2), c.UpdateAttempts)
	assert.Equal(t, uint64(1), c.UpdateFailures)
	assert.Equal(t, uint64(2), c.Evictions)
	assert.Equal(t, uint64(1), c.Matches)
	assert.Equal(t, uint64(2), c.Processed)
	assert.Equal(t, uint64(1), c.Dropped)
	assert.Equal(t, []string{"collapsed", "timeout"}, a.ReasonNames())

	s := a.Finish(t0)
	assert.InDelta(t, 66.666, s.InsertSuccessRate, 0.01)
	assert.InDelta(t, 50.0, s.UpdateSuccessRate, 0.001)
	assert.InDelta(t, 25.0, s.Utilization, 0.001)
}

func TestAccountantSnapshotCadence(t *testing.T) {
	a := New("packet", 10, 5*time.Second)

	a.Tick(t0)
	a.Tick(t0.Add(4 * time.Second))
	assert.Empty(t, a.Snapshots())

	a.Insertion(true, 0, 0, "")
	a.Tick(t0.Add(5 * time.Second))
	require.Len(t, a.Snapshots(), 1)
	assert.Equal(t, int64(5000), a.Snapshots()[0].ElapsedMs)
	assert.Equal(t, uint64(1), a.Snapshots()[0].InsertAttempts)

	// A long gap yields one snapshot, then the cadence resumes
	a.Tick(t0.Add(17 * time.Second))
	a.Tick(t0.Add(19 * time.Second))
	require.Len(t, a.Snapshots(), 2)
	a.Tick(t0.Add(20 * time.Second))
	require.Len(t, a.Snapshots(), 3)

	a.Finish(t0.Add(21 * time.Second))
	snaps := a.Snapshots()
	require.Len(t, snaps, 4)
	assert.Equal(t, int64(21000), snaps[3].ElapsedMs)
	assert.Equal(t, "packet", snaps[3].Table)
}

func TestWriteTextfile(t *testing.T) {
	flow := New("flow", 64, 0)
	flow.Insertion(true, 1, 0, "")
	flow.Eviction("timeout")
	flow.Occupancy(3)
	pkt := New("packet", 32, 0)
	pkt.Match()

	path := filepath.Join(t.TempDir(), "metrics.prom")
	err := WriteTextfile(path, prometheus.Labels{"run": "test"}, flow, pkt)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `p4rtt_table_insert_attempts_total{run="test",table="flow"} 1`)
	assert.Contains(t, out, `p4rtt_table_evictions_total{reason="timeout",run="test",table="flow"} 1`)
	assert.Contains(t, out, `p4rtt_table_occupancy{run="test",table="flow"} 3`)
	assert.Contains(t, out, `p4rtt_table_matches_total{run="test",table="packet"} 1`)
	assert.Contains(t, out, `p4rtt_table_capacity{run="test",table="packet"} 32`)
}
