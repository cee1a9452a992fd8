package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/p4rtt/pkg/config"
	"github.com/irctrakz/p4rtt/pkg/core"
)

func TestExpandCartesianProduct(t *testing.T) {
	g := &Grid{
		EnableApprox: []bool{false, true},
		PacketTable: TableGrid{
			MaxSize:       []int{1024, 2048, 4096},
			EvictionStage: []core.EvictionTiming{core.EvictAtStart},
		},
	}
	if g.Size() != 6 {
		t.Errorf("Expected 6 combinations, got %d", g.Size())
	}

	cfgs := g.Expand(*config.DefaultConfig())
	require.Len(t, cfgs, 6)

	type combo struct {
		approx bool
		size   int
	}
	var got []combo
	for _, c := range cfgs {
		got = append(got, combo{c.Simulation.EnableApprox, c.PacketTable.MaxSize})
	}
	assert.Equal(t, []combo{
		{false, 1024}, {false, 2048}, {false, 4096},
		{true, 1024}, {true, 2048}, {true, 4096},
	}, got)

	// Untouched parameters keep the base value.
	for _, c := range cfgs {
		assert.Equal(t, 8, c.PacketTable.Recirculations)
		assert.Equal(t, 65536, c.FlowTable.MaxSize)
	}
}

func TestExpandEmptyGrid(t *testing.T) {
	base := *config.DefaultConfig()
	cfgs := (&Grid{}).Expand(base)
	require.Len(t, cfgs, 1)
	assert.Equal(t, base, cfgs[0])
}

func TestExpandNormalizes(t *testing.T) {
	g := &Grid{FlowTable: TableGrid{NumStages: []int{4}, MaxSize: []int{10}}}
	cfgs := g.Expand(*config.DefaultConfig())
	require.Len(t, cfgs, 1)
	assert.Equal(t, 8, cfgs[0].FlowTable.MaxSize)
}

func TestLoadGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
synAction: [ignore, staging]
flowTable:
  recirculations: [1, 3]
packetTable:
  entryTimeoutMs: [null, 250]
`), 0644))

	g, err := LoadGrid(path)
	require.NoError(t, err)
	assert.Equal(t, []core.SynAction{core.SynIgnore, core.SynStaging}, g.SynAction)
	require.Len(t, g.PacketTable.EntryTimeoutMs, 2)
	assert.Nil(t, g.PacketTable.EntryTimeoutMs[0])
	assert.Equal(t, 250, *g.PacketTable.EntryTimeoutMs[1])
	assert.Equal(t, 8, g.Size())

	cfgs := g.Expand(*config.DefaultConfig())
	require.Len(t, cfgs, 8)
	last := cfgs[7]
	assert.Equal(t, core.SynStaging, last.FlowTable.SynAction)
	assert.Equal(t, 3, last.FlowTable.Recirculations)
	require.NotNil(t, last.PacketTable.EntryTimeoutMs)
	assert.Nil(t, cfgs[0].PacketTable.EntryTimeoutMs)

	_, err = LoadGrid(filepath.Join(t.TempDir(), "grid.txt"))
	assert.Error(t, err)
}
