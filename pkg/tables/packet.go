package tables

import (
	"fmt"
	"time"

	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/cuckoo"
)

// EvictionCode is the packet table's insertion result code. The numeric
// values are stable and appear in output files.
type EvictionCode int

const (
	// NoEviction: the insertion failed and nothing was evicted.
	NoEviction EvictionCode = 0
	// TimeoutExpired: the carried record outlived the entry timeout.
	TimeoutExpired EvictionCode = 1
	// CollapsedInApprox: the approximate flow table shows the range acknowledged.
	CollapsedInApprox EvictionCode = 2
	// FlowNotFound: the owning flow is not in the flow table.
	FlowNotFound EvictionCode = 3
	// AckedInFlow: the flow table shows the range acknowledged.
	AckedInFlow EvictionCode = 4
	// Inserted: the walk ended on an empty slot.
	Inserted EvictionCode = 5
)

func (c EvictionCode) String() string {
	switch c {
	case NoEviction:
		return "no_eviction"
	case TimeoutExpired:
		return "timeout"
	case CollapsedInApprox:
		return "collapsed_in_approx"
	case FlowNotFound:
		return "flow_not_found"
	case AckedInFlow:
		return "acked_in_flow"
	case Inserted:
		return "inserted"
	}
	return fmt.Sprintf("EvictionCode(%d)", int(c))
}

// PacketInsertResult is the result of a packet table insertion.
type PacketInsertResult struct {
	cuckoo.InsertResult[PacketRecord]

	// Code classifies the outcome.
	Code EvictionCode

	// Reinserted is set when, after a failed walk, the last carried record
	// was put back at the new record's stage-0 slot.
	Reinserted bool

	// Discarded is the record overwritten by that reinsertion.
	Discarded    PacketRecord
	HasDiscarded bool
}

// ChargedRecirculations is the number of recirculations the insertion
// costs: one is refunded when the approximate flow table resolved the
// record, one is added for the reinsertion pass after every failed walk,
// whether or not the slot took the carried record back.
func (r PacketInsertResult) ChargedRecirculations() int {
	n := r.Recirculations
	if r.Code == CollapsedInApprox && n > 0 {
		n--
	}
	if r.Outcome == cuckoo.Failed {
		n++
	}
	return n
}

// PacketTable keeps one pending measurement per (flow, expected ack).
type PacketTable struct {
	cfg   core.TableConfig
	store *cuckoo.Store[core.PacketKey, PacketRecord]
}

// NewPacketTable builds a packet table.
func NewPacketTable(cfg core.TableConfig) (*PacketTable, error) {
	store, err := cuckoo.New[core.PacketKey, PacketRecord](cfg)
	if err != nil {
		return nil, fmt.Errorf("packet table: %w", err)
	}
	return &PacketTable{cfg: cfg, store: store}, nil
}

func (t *PacketTable) Config() core.TableConfig { return t.cfg }
func (t *PacketTable) Occupancy() int          { return t.store.Occupancy() }
func (t *PacketTable) Capacity() int           { return t.store.Capacity() }

func (t *PacketTable) Lookup(key core.PacketKey) (PacketRecord, bool) {
	return t.store.Lookup(key)
}

// Update refreshes the timestamp of the record stored under key.
func (t *PacketTable) Update(key core.PacketKey, ts time.Time) bool {
	return t.store.Update(key, func(old PacketRecord) PacketRecord {
		old.Timestamp = ts
		return old
	})
}

func (t *PacketTable) Delete(key core.PacketKey) (PacketRecord, bool) {
	return t.store.Delete(key)
}

// Code evaluates the eviction rule for a carried record. The approximate
// flow table is consulted before the flow table; approx may be nil.
func (t *PacketTable) Code(r PacketRecord, now time.Time, flows, approx FlowLookup) EvictionCode {
	if t.cfg.EntryTimeoutMs != nil && expired(now, r.Timestamp, *t.cfg.EntryTimeoutMs) {
		return TimeoutExpired
	}
	if approx != nil {
		if ar, ok := approx.Lookup(r.Key.Flow); ok {
			if ar.Interval.Collapsed() || r.Key.ExpectedAck <= ar.Interval.Low {
				return CollapsedInApprox
			}
		}
	}
	fr, ok := flows.Lookup(r.Key.Flow)
	if !ok {
		return FlowNotFound
	}
	if r.Key.ExpectedAck <= fr.Interval.Low {
		return AckedInFlow
	}
	return NoEviction
}

// Insert adds rec. On a failed walk the record carried last is put back
// at rec's own stage-0 slot, so the newcomer is the one dropped rather
// than an older, longer-waiting measurement.
func (t *PacketTable) Insert(rec PacketRecord, now time.Time, flows, approx FlowLookup) PacketInsertResult {
	res := t.store.Insert(rec, func(r PacketRecord) cuckoo.Verdict {
		return cuckoo.Verdict(t.Code(r, now, flows, approx))
	})

	out := PacketInsertResult{InsertResult: res}
	switch res.Outcome {
	case cuckoo.InsertedEmpty:
		out.Code = Inserted
	case cuckoo.InsertedEvicted:
		out.Code = EvictionCode(res.Verdict)
	case cuckoo.Failed:
		out.Code = NoEviction
		idx := t.store.Index(rec.Key, 0)
		prev, had := t.store.Offer(0, idx, res.Dropped)
		if !had || prev.Key != res.Dropped.Key {
			out.Reinserted = true
			out.Discarded, out.HasDiscarded = prev, had
		}
	}
	return out
}

// Range visits every record.
func (t *PacketTable) Range(fn func(PacketRecord) bool) {
	t.store.Range(func(_, _ int, r PacketRecord) bool { return fn(r) })
}
