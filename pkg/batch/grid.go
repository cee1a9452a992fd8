// Package batch runs a simulation for every combination of a parameter grid.
package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/irctrakz/p4rtt/pkg/config"
	"github.com/irctrakz/p4rtt/pkg/core"
)

// TableGrid lists candidate values for each table parameter. An empty list
// keeps the base configuration's value.
type TableGrid struct {
	NumStages      []int                 `json:"num_stages" yaml:"numStages"`
	MaxSize        []int                 `json:"max_size" yaml:"maxSize"`
	Recirculations []int                 `json:"recirculations" yaml:"recirculations"`
	PreferNew      []bool                `json:"prefer_new" yaml:"preferNew"`
	EvictionStage  []core.EvictionTiming `json:"eviction_stage" yaml:"evictionStage"`

	// EntryTimeoutMs entries may be null for "no timeout".
	EntryTimeoutMs []*int `json:"entry_timeout_ms" yaml:"entryTimeoutMs"`
}

// Grid is a parameter sweep. Expand yields the cartesian product of every
// non-empty list, the last listed parameter varying fastest.
type Grid struct {
	EnableApprox []bool    `json:"enable_approx" yaml:"enableApprox"`
	SamplingRate []float64 `json:"sampling_rate" yaml:"samplingRate"`

	FlowTable    TableGrid        `json:"flow_table" yaml:"flowTable"`
	SynAction    []core.SynAction `json:"syn_action" yaml:"synAction"`
	SynTimeoutMs []*int           `json:"syn_timeout_ms" yaml:"synTimeoutMs"`
	SynStaging   TableGrid        `json:"syn_staging" yaml:"synStaging"`

	PacketTable     TableGrid `json:"packet_table" yaml:"packetTable"`
	ApproxFlowTable TableGrid `json:"approx_flow_table" yaml:"approxFlowTable"`
}

// LoadGrid reads a grid from a YAML or JSON file.
func LoadGrid(path string) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read grid file: %w", err)
	}

	var g Grid
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &g)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &g)
	default:
		return nil, fmt.Errorf("unsupported grid file format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse grid file: %w", err)
	}
	return &g, nil
}

type axis struct {
	n     int
	apply func(c *config.Config, i int)
}

func (g *Grid) axes() []axis {
	var out []axis
	add := func(n int, apply func(c *config.Config, i int)) {
		if n > 0 {
			out = append(out, axis{n: n, apply: apply})
		}
	}

	add(len(g.EnableApprox), func(c *config.Config, i int) { c.Simulation.EnableApprox = g.EnableApprox[i] })
	add(len(g.SamplingRate), func(c *config.Config, i int) { c.Simulation.SamplingRate = g.SamplingRate[i] })

	out = append(out, g.FlowTable.axes(func(c *config.Config) *core.TableConfig { return &c.FlowTable.TableConfig })...)
	add(len(g.SynAction), func(c *config.Config, i int) { c.FlowTable.SynAction = g.SynAction[i] })
	add(len(g.SynTimeoutMs), func(c *config.Config, i int) { c.FlowTable.SynTimeoutMs = g.SynTimeoutMs[i] })
	out = append(out, g.SynStaging.axes(func(c *config.Config) *core.TableConfig { return &c.FlowTable.SynStaging })...)

	out = append(out, g.PacketTable.axes(func(c *config.Config) *core.TableConfig { return &c.PacketTable })...)
	out = append(out, g.ApproxFlowTable.axes(func(c *config.Config) *core.TableConfig { return &c.ApproxFlowTable })...)
	return out
}

func (tg *TableGrid) axes(table func(*config.Config) *core.TableConfig) []axis {
	var out []axis
	add := func(n int, apply func(tc *core.TableConfig, i int)) {
		if n > 0 {
			out = append(out, axis{n: n, apply: func(c *config.Config, i int) { apply(table(c), i) }})
		}
	}
	add(len(tg.NumStages), func(tc *core.TableConfig, i int) { tc.NumStages = tg.NumStages[i] })
	add(len(tg.MaxSize), func(tc *core.TableConfig, i int) { tc.MaxSize = tg.MaxSize[i] })
	add(len(tg.Recirculations), func(tc *core.TableConfig, i int) { tc.Recirculations = tg.Recirculations[i] })
	add(len(tg.PreferNew), func(tc *core.TableConfig, i int) { tc.PreferNew = tg.PreferNew[i] })
	add(len(tg.EvictionStage), func(tc *core.TableConfig, i int) { tc.EvictionStage = tg.EvictionStage[i] })
	add(len(tg.EntryTimeoutMs), func(tc *core.TableConfig, i int) { tc.EntryTimeoutMs = tg.EntryTimeoutMs[i] })
	return out
}

// Size returns the number of combinations.
func (g *Grid) Size() int {
	n := 1
	for _, a := range g.axes() {
		n *= a.n
	}
	return n
}

// Expand returns one configuration per combination, each a copy of base
// with the combination applied and normalised.
func (g *Grid) Expand(base config.Config) []config.Config {
	combos := []config.Config{base}
	for _, a := range g.axes() {
		next := make([]config.Config, 0, len(combos)*a.n)
		for _, c := range combos {
			for i := 0; i < a.n; i++ {
				cc := c
				a.apply(&cc, i)
				next = append(next, cc)
			}
		}
		combos = next
	}
	for i := range combos {
		combos[i].Normalize()
	}
	return combos
}
