package tables

import (
	"net/netip"
	"time"

	"github.com/irctrakz/p4rtt/pkg/core"
)

var t0 = time.Unix(1_600_000_000, 0)

func flowKey(n int) core.FlowKey {
	return core.FlowKey{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("93.184.216.34"),
		SrcPort: uint16(40000 + n),
		DstPort: 443,
	}
}

func flowRec(n int, low, high uint64, ts time.Time, flags core.Flags) FlowRecord {
	return NewFlowRecord(flowKey(n), core.Interval{Low: low, High: high}, ts, flags)
}

// flowMap is a FlowLookup backed by a map.
type flowMap map[core.FlowKey]FlowRecord

func (m flowMap) Lookup(key core.FlowKey) (FlowRecord, bool) {
	r, ok := m[key]
	return r, ok
}

func singleSlot(recirc int) core.TableConfig {
	return core.TableConfig{NumStages: 1, MaxSize: 1, Recirculations: recirc, PreferNew: true}
}
