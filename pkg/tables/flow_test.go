package tables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/cuckoo"
)

func TestFlowRecordMerge(t *testing.T) {
	old := flowRec(1, 100, 200, t0, core.FlagSYN)
	next := flowRec(1, 150, 300, t0.Add(time.Second), core.FlagACK)
	next.EntryTime = t0.Add(time.Hour)

	merged := old.Merge(next)
	assert.Equal(t, old.Key, merged.Key)
	assert.Equal(t, t0, merged.EntryTime)
	assert.Equal(t, core.FlagSYN, merged.EntryFlags)
	assert.Equal(t, core.Interval{Low: 150, High: 300}, merged.Interval)
	assert.Equal(t, t0.Add(time.Second), merged.UpdateTime)
	assert.Equal(t, core.FlagACK, merged.UpdateFlags)
}

func TestFlowTableOperations(t *testing.T) {
	ft, err := NewFlowTable(core.FlowTableConfig{
		TableConfig: core.TableConfig{NumStages: 2, MaxSize: 1024, Recirculations: 1, PreferNew: true},
	})
	require.NoError(t, err)
	assert.Nil(t, ft.Staging())

	res := ft.Insert(flowRec(1, 100, 200, t0, core.FlagACK), t0)
	require.Equal(t, cuckoo.InsertedEmpty, res.Outcome)
	assert.False(t, res.Staged)
	assert.Equal(t, 1, ft.Occupancy())

	ok := ft.Update(flowRec(1, 100, 250, t0.Add(time.Millisecond), core.FlagPSH))
	require.True(t, ok)

	rec, ok := ft.Lookup(flowKey(1))
	require.True(t, ok)
	assert.Equal(t, uint64(250), rec.Interval.High)
	assert.Equal(t, core.FlagACK, rec.EntryFlags)

	assert.False(t, ft.Update(flowRec(2, 0, 1, t0, 0)))

	_, ok = ft.Delete(flowKey(1))
	assert.True(t, ok)
	_, ok = ft.Lookup(flowKey(1))
	assert.False(t, ok)
	assert.Zero(t, ft.Occupancy())
}

func TestFlowTableEvictsCollapsedWhileCarried(t *testing.T) {
	ft, err := NewFlowTable(core.FlowTableConfig{TableConfig: singleSlot(1)})
	require.NoError(t, err)

	// Stored as is; insertion does not judge the new record.
	ft.Insert(flowRec(1, 500, 500, t0, core.FlagACK), t0)

	res := ft.Insert(flowRec(2, 100, 200, t0, core.FlagACK), t0)
	assert.Equal(t, cuckoo.InsertedEvicted, res.Outcome)
	assert.Equal(t, EvictCollapsed, res.Verdict)
	assert.Equal(t, flowKey(1), res.Dropped.Key)
	require.Len(t, res.Touched, 1)
	assert.Equal(t, flowKey(1), res.Touched[0].Key)

	_, ok := ft.Lookup(flowKey(2))
	assert.True(t, ok)
	assert.Equal(t, 1, ft.Occupancy())
}

func TestFlowTableEntryTimeout(t *testing.T) {
	cfg := core.FlowTableConfig{TableConfig: singleSlot(1)}
	cfg.EntryTimeoutMs = core.IntPtr(100)

	ft, err := NewFlowTable(cfg)
	require.NoError(t, err)
	ft.Insert(flowRec(1, 100, 200, t0, core.FlagACK), t0)

	// One microsecond short of the timeout: kept, and the walk runs out.
	now := t0.Add(100*time.Millisecond - time.Microsecond)
	res := ft.Insert(flowRec(2, 100, 200, now, core.FlagACK), now)
	assert.Equal(t, cuckoo.Failed, res.Outcome)
	assert.Equal(t, flowKey(2), res.Dropped.Key)

	now = t0.Add(100 * time.Millisecond)
	res = ft.Insert(flowRec(3, 100, 200, now, core.FlagACK), now)
	assert.Equal(t, cuckoo.InsertedEvicted, res.Outcome)
	assert.Equal(t, EvictTimeout, res.Verdict)
	assert.Equal(t, flowKey(1), res.Dropped.Key)
}

func TestFlowTableSynTimeout(t *testing.T) {
	cfg := core.FlowTableConfig{
		TableConfig:  singleSlot(1),
		SynAction:    core.SynTimeout,
		SynTimeoutMs: core.IntPtr(10),
	}
	cfg.EntryTimeoutMs = core.IntPtr(1000)

	ft, err := NewFlowTable(cfg)
	require.NoError(t, err)

	syn := flowRec(1, 1000, 1001, t0, core.FlagSYN)
	now := t0.Add(10 * time.Millisecond)
	assert.Equal(t, EvictSynTimeout, ft.Verdict(syn, now))

	// Not a SYN record: only the entry timeout applies
	data := flowRec(2, 1000, 1050, t0, core.FlagACK)
	assert.Equal(t, cuckoo.Keep, ft.Verdict(data, now))
	assert.Equal(t, EvictTimeout, ft.Verdict(data, t0.Add(time.Second)))

	// Without the timeout policy SYN records age like any other
	cfg.SynAction = core.SynIgnore
	ft, err = NewFlowTable(cfg)
	require.NoError(t, err)
	assert.Equal(t, cuckoo.Keep, ft.Verdict(syn, now))
}

func TestFlowTableSynStaging(t *testing.T) {
	cfg := core.FlowTableConfig{
		TableConfig: core.TableConfig{NumStages: 2, MaxSize: 64, PreferNew: true},
		SynAction:   core.SynStaging,
		SynStaging:  core.TableConfig{NumStages: 1, MaxSize: 8, PreferNew: true},
	}
	ft, err := NewFlowTable(cfg)
	require.NoError(t, err)
	require.NotNil(t, ft.Staging())

	res := ft.Insert(flowRec(1, 1000, 1001, t0, core.FlagSYN), t0)
	assert.True(t, res.Staged)
	assert.Equal(t, cuckoo.InsertedEmpty, res.Outcome)
	assert.Zero(t, ft.Occupancy())
	assert.Equal(t, 1, ft.Staging().Occupancy())

	// Non-SYN records go to the main table
	res = ft.Insert(flowRec(2, 5, 10, t0, core.FlagACK), t0)
	assert.False(t, res.Staged)
	assert.Equal(t, 1, ft.Occupancy())

	// Staged records are visible through the flow table
	_, ok := ft.Lookup(flowKey(1))
	assert.True(t, ok)
	assert.True(t, ft.Update(flowRec(1, 1000, 1051, t0, core.FlagACK)))
	rec, _ := ft.Staging().Lookup(flowKey(1))
	assert.Equal(t, uint64(1051), rec.Interval.High)

	_, ok = ft.Delete(flowKey(1))
	assert.True(t, ok)
	assert.Zero(t, ft.Staging().Occupancy())
}

func TestFlowTableRejectsEmptyStaging(t *testing.T) {
	_, err := NewFlowTable(core.FlowTableConfig{
		TableConfig: core.TableConfig{NumStages: 1, MaxSize: 8},
		SynAction:   core.SynStaging,
	})
	assert.ErrorIs(t, err, cuckoo.ErrInvalidGeometry)
}
