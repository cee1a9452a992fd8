// Package tables holds the RTT-measurement tables built on the cuckoo
// store: the flow table (with its optional SYN staging table), the packet
// table and the approximate flow table.
package tables

import (
	"fmt"
	"time"

	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/cuckoo"
)

// FlowRecord tracks the unacknowledged sequence range of one flow.
type FlowRecord struct {
	Key      core.FlowKey
	Interval core.Interval

	EntryTime  time.Time
	UpdateTime time.Time

	EntryFlags  core.Flags
	UpdateFlags core.Flags
}

// NewFlowRecord builds a record whose entry and update metadata are the same.
func NewFlowRecord(key core.FlowKey, iv core.Interval, ts time.Time, flags core.Flags) FlowRecord {
	return FlowRecord{
		Key:         key,
		Interval:    iv,
		EntryTime:   ts,
		UpdateTime:  ts,
		EntryFlags:  flags,
		UpdateFlags: flags,
	}
}

// StoreKey implements cuckoo.Record.
func (r FlowRecord) StoreKey() core.FlowKey { return r.Key }

// Merge returns r with the interval and update metadata of next. The key
// and entry metadata of r are kept.
func (r FlowRecord) Merge(next FlowRecord) FlowRecord {
	r.Interval = next.Interval
	r.UpdateTime = next.UpdateTime
	r.UpdateFlags = next.UpdateFlags
	return r
}

func (r FlowRecord) String() string {
	return fmt.Sprintf("%s [%d,%d) %s", r.Key, r.Interval.Low, r.Interval.High, r.UpdateFlags)
}

// PacketRecord is one in-flight byte range awaiting its acknowledgement.
type PacketRecord struct {
	Key       core.PacketKey
	Timestamp time.Time

	// OriginalSeq is the sequence number of the packet that opened the range.
	OriginalSeq uint64
}

// StoreKey implements cuckoo.Record.
func (r PacketRecord) StoreKey() core.PacketKey { return r.Key }

// FlowLookup is the read-only view of a flow-keyed table that the packet
// table's eviction predicate consults.
type FlowLookup interface {
	Lookup(key core.FlowKey) (FlowRecord, bool)
}

// Flow eviction reasons.
const (
	EvictSynTimeout cuckoo.Verdict = iota + 1
	EvictTimeout
	EvictCollapsed
)

// expired reports whether at least timeoutMs passed between since and now.
func expired(now, since time.Time, timeoutMs int) bool {
	return now.Sub(since).Microseconds() >= int64(timeoutMs)*1000
}

// flowVerdict is the eviction rule shared by the flow-keyed tables. A nil
// timeout disables the corresponding check.
func flowVerdict(r FlowRecord, now time.Time, entryTimeoutMs, synTimeoutMs *int) cuckoo.Verdict {
	if synTimeoutMs != nil && r.UpdateFlags.Has(core.FlagSYN) && expired(now, r.UpdateTime, *synTimeoutMs) {
		return EvictSynTimeout
	}
	if entryTimeoutMs != nil && expired(now, r.UpdateTime, *entryTimeoutMs) {
		return EvictTimeout
	}
	if r.Interval.Collapsed() {
		return EvictCollapsed
	}
	return cuckoo.Keep
}

// VerdictName names a flow eviction reason for logs and metrics.
func VerdictName(v cuckoo.Verdict) string {
	switch v {
	case cuckoo.Keep:
		return "none"
	case EvictSynTimeout:
		return "syn_timeout"
	case EvictTimeout:
		return "timeout"
	case EvictCollapsed:
		return "collapsed"
	}
	return fmt.Sprintf("verdict_%d", int(v))
}
