// Package sim replays a packet trace through the RTT-measurement tables
// the way the switch pipeline would: flow table, approximate flow table
// and packet table, one packet at a time.
package sim

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/p4rtt/pkg/accounting"
	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/logging"
	"github.com/irctrakz/p4rtt/pkg/tables"
)

// Table names used by the accountants and in output files.
const (
	FlowTableName       = "flow"
	SynStagingTableName = "syn_staging"
	PacketTableName     = "packet"
	ApproxTableName     = "approx_flow"
)

// Config is the resolved configuration of one simulation.
type Config struct {
	FlowTable   core.FlowTableConfig
	PacketTable core.TableConfig

	// ApproxFlowTable is nil when the approximate flow table is disabled.
	ApproxFlowTable *core.TableConfig

	// Network is the monitored address space; nil means DefaultMonitored.
	Network *Network

	// LogInterval is the snapshot period in trace time.
	LogInterval time.Duration

	// SamplingRate is the fraction of flows measured, in (0, 1].
	SamplingRate float64
}

// Stats counts packets by how the classifier handled them.
type Stats struct {
	Packets   uint64 `json:"packets"`
	Seq       uint64 `json:"seq_packets"`
	Ack       uint64 `json:"ack_packets"`
	Transit   uint64 `json:"transit_packets"`
	Unsampled uint64 `json:"unsampled_packets"`
	Reordered uint64 `json:"reordered_packets"`
	Samples   uint64 `json:"samples"`
}

// Summary is the result of a finished run.
type Summary struct {
	Stats
	First  time.Time             `json:"first"`
	Last   time.Time             `json:"last"`
	Tables []accounting.Snapshot `json:"tables"`
}

// Duration returns the trace time covered by the run.
func (s Summary) Duration() time.Duration { return s.Last.Sub(s.First) }

// Simulation owns the tables of one run. It is not safe for concurrent use;
// run independent simulations in separate goroutines instead.
type Simulation struct {
	cfg     Config
	network *Network

	flows   *tables.FlowTable
	packets *tables.PacketTable
	approx  *tables.ApproxFlowTable

	flowAcct   *accounting.Accountant
	synAcct    *accounting.Accountant
	packetAcct *accounting.Accountant
	approxAcct *accounting.Accountant

	sampleAll bool
	threshold uint32
	hashBuf   []byte

	stats    Stats
	first    time.Time
	last     time.Time
	started  bool
	finished bool
	summary  Summary

	samples  []RTTSample
	onSample func(RTTSample)
	log      *logrus.Entry
}

// New builds the tables described by cfg.
func New(cfg Config) (*Simulation, error) {
	if cfg.SamplingRate <= 0 || cfg.SamplingRate > 1 || math.IsNaN(cfg.SamplingRate) {
		return nil, fmt.Errorf("sampling rate %v outside (0, 1]", cfg.SamplingRate)
	}
	network := cfg.Network
	if network == nil {
		var err error
		if network, err = ParseNetwork(DefaultMonitored, nil); err != nil {
			return nil, err
		}
	}

	s := &Simulation{
		cfg:     cfg,
		network: network,
		log:     logging.Component("sim"),
	}
	s.sampleAll = cfg.SamplingRate >= 1
	s.threshold = uint32(cfg.SamplingRate * math.MaxUint32)

	var err error
	if s.flows, err = tables.NewFlowTable(cfg.FlowTable); err != nil {
		return nil, err
	}
	if s.packets, err = tables.NewPacketTable(cfg.PacketTable); err != nil {
		return nil, err
	}
	if cfg.ApproxFlowTable != nil {
		if s.approx, err = tables.NewApproxFlowTable(*cfg.ApproxFlowTable); err != nil {
			return nil, err
		}
	}

	s.flowAcct = accounting.New(FlowTableName, s.flows.Capacity(), cfg.LogInterval)
	if syn := s.flows.Staging(); syn != nil {
		s.synAcct = accounting.New(SynStagingTableName, syn.Capacity(), cfg.LogInterval)
	}
	s.packetAcct = accounting.New(PacketTableName, s.packets.Capacity(), cfg.LogInterval)
	if s.approx != nil {
		s.approxAcct = accounting.New(ApproxTableName, s.approx.Capacity(), cfg.LogInterval)
	}

	s.log.WithFields(logrus.Fields{
		"flow_capacity":   s.flows.Capacity(),
		"packet_capacity": s.packets.Capacity(),
		"approx":          s.approx != nil,
		"syn_action":      cfg.FlowTable.SynAction,
		"sampling_rate":   cfg.SamplingRate,
	}).Debug("Simulation tables ready")
	return s, nil
}

// OnSample registers a callback invoked for every RTT sample. Samples are
// also retained and returned by Samples unless a callback is registered.
func (s *Simulation) OnSample(fn func(RTTSample)) { s.onSample = fn }

// Samples returns the retained RTT samples.
func (s *Simulation) Samples() []RTTSample { return s.samples }

// Stats returns the packet counters.
func (s *Simulation) Stats() Stats { return s.stats }

// FlowTable returns the flow table.
func (s *Simulation) FlowTable() *tables.FlowTable { return s.flows }

// PacketTable returns the packet table.
func (s *Simulation) PacketTable() *tables.PacketTable { return s.packets }

// ApproxFlowTable returns the approximate flow table, or nil.
func (s *Simulation) ApproxFlowTable() *tables.ApproxFlowTable { return s.approx }

// Accountants returns the accountants of the configured tables.
func (s *Simulation) Accountants() []*accounting.Accountant {
	out := []*accounting.Accountant{s.flowAcct}
	if s.synAcct != nil {
		out = append(out, s.synAcct)
	}
	out = append(out, s.packetAcct)
	if s.approxAcct != nil {
		out = append(out, s.approxAcct)
	}
	return out
}

// Run processes every packet of src, then finishes the run. The context
// is checked between packets.
func (s *Simulation) Run(ctx context.Context, src core.PacketSource) (Summary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return s.Finish(), err
		}
		p, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.Finish(), fmt.Errorf("read packet %d: %w", s.stats.Packets+1, err)
		}
		s.Process(p)
	}
	return s.Finish(), nil
}

// Process runs one packet through the pipeline.
func (s *Simulation) Process(p core.Packet) {
	s.stats.Packets++
	s.tick(p.Timestamp)

	switch s.network.Classify(p) {
	case Outbound:
		if !s.sampled(p.Key()) {
			s.stats.Unsampled++
			break
		}
		s.stats.Seq++
		s.handleSeq(p)
	case Inbound:
		if !s.sampled(p.Key().Reverse()) {
			s.stats.Unsampled++
			break
		}
		s.stats.Ack++
		s.handleAck(p)
	default:
		s.stats.Transit++
	}

	s.refreshOccupancy()
}

func (s *Simulation) tick(now time.Time) {
	if !s.started {
		s.started = true
		s.first = now
	} else if now.Before(s.last) {
		if s.stats.Reordered == 0 {
			s.log.WithFields(logrus.Fields{
				"packet": s.stats.Packets,
				"ts":     now,
				"last":   s.last,
			}).Warn("Trace is not in timestamp order")
		}
		s.stats.Reordered++
		return
	}
	s.last = now
	for _, a := range s.Accountants() {
		a.Tick(now)
	}
}

// sampled selects a deterministic subset of flows by hashing the data
// direction key.
func (s *Simulation) sampled(key core.FlowKey) bool {
	if s.sampleAll {
		return true
	}
	s.hashBuf = key.AppendHashKey(s.hashBuf[:0])
	return crc32.ChecksumIEEE(s.hashBuf) <= s.threshold
}

func (s *Simulation) refreshOccupancy() {
	s.flowAcct.Occupancy(s.flows.Occupancy())
	if s.synAcct != nil {
		s.synAcct.Occupancy(s.flows.Staging().Occupancy())
	}
	s.packetAcct.Occupancy(s.packets.Occupancy())
	if s.approxAcct != nil {
		s.approxAcct.Occupancy(s.approx.Occupancy())
	}
}

// approxLookup returns the approximate flow table as a lookup, keeping
// the interface nil when the table is disabled.
func (s *Simulation) approxLookup() tables.FlowLookup {
	if s.approx == nil {
		return nil
	}
	return s.approx
}

func (s *Simulation) emit(sample RTTSample) {
	s.stats.Samples++
	if s.onSample != nil {
		s.onSample(sample)
		return
	}
	s.samples = append(s.samples, sample)
}

// Finish records the final snapshots and returns the run summary. Further
// calls return the same summary.
func (s *Simulation) Finish() Summary {
	if s.finished {
		return s.summary
	}
	s.finished = true
	s.refreshOccupancy()

	sum := Summary{Stats: s.stats, First: s.first, Last: s.last}
	for _, a := range s.Accountants() {
		sum.Tables = append(sum.Tables, a.Finish(s.last))
	}
	s.summary = sum

	s.log.WithFields(logrus.Fields{
		"packets": sum.Packets,
		"samples": sum.Samples,
		"elapsed": sum.Duration(),
	}).Info("Simulation finished")
	return sum
}
