package tables

import (
	"fmt"
	"time"

	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/cuckoo"
)

// FlowInsertResult is the result of a flow table insertion.
type FlowInsertResult struct {
	cuckoo.InsertResult[FlowRecord]

	// Staged is set when the record was redirected to the SYN staging table.
	Staged bool
}

// FlowTable keeps one confidence interval per flow.
type FlowTable struct {
	cfg   core.FlowTableConfig
	store *cuckoo.Store[core.FlowKey, FlowRecord]
	syn   *SynStagingTable
}

// NewFlowTable builds a flow table and, for the staging policy, its
// staging table.
func NewFlowTable(cfg core.FlowTableConfig) (*FlowTable, error) {
	store, err := cuckoo.New[core.FlowKey, FlowRecord](cfg.TableConfig)
	if err != nil {
		return nil, fmt.Errorf("flow table: %w", err)
	}
	t := &FlowTable{cfg: cfg, store: store}
	if cfg.SynAction == core.SynStaging {
		t.syn, err = NewSynStagingTable(cfg.SynStaging)
		if err != nil {
			return nil, fmt.Errorf("flow table: %w", err)
		}
	}
	return t, nil
}

// Config returns the table configuration.
func (t *FlowTable) Config() core.FlowTableConfig { return t.cfg }

// Staging returns the SYN staging table, or nil.
func (t *FlowTable) Staging() *SynStagingTable { return t.syn }

// Occupancy returns the number of records in the main table.
func (t *FlowTable) Occupancy() int { return t.store.Occupancy() }

// Capacity returns the number of slots of the main table.
func (t *FlowTable) Capacity() int { return t.store.Capacity() }

// Lookup returns the record for key from the main table or, failing
// that, from the staging table.
func (t *FlowTable) Lookup(key core.FlowKey) (FlowRecord, bool) {
	if r, ok := t.store.Lookup(key); ok {
		return r, true
	}
	if t.syn != nil {
		return t.syn.Lookup(key)
	}
	return FlowRecord{}, false
}

// Update merges rec into the stored record with the same key.
func (t *FlowTable) Update(rec FlowRecord) bool {
	merge := func(old FlowRecord) FlowRecord { return old.Merge(rec) }
	if t.store.Update(rec.Key, merge) {
		return true
	}
	return t.syn != nil && t.syn.Update(rec)
}

// Delete removes the record for key.
func (t *FlowTable) Delete(key core.FlowKey) (FlowRecord, bool) {
	if r, ok := t.store.Delete(key); ok {
		return r, true
	}
	if t.syn != nil {
		return t.syn.Delete(key)
	}
	return FlowRecord{}, false
}

// Verdict applies the flow eviction rule to r at time now.
func (t *FlowTable) Verdict(r FlowRecord, now time.Time) cuckoo.Verdict {
	var synTimeout *int
	if t.cfg.SynAction == core.SynTimeout {
		synTimeout = t.cfg.SynTimeoutMs
	}
	return flowVerdict(r, now, t.cfg.EntryTimeoutMs, synTimeout)
}

// Insert adds a new flow. Records opened by a SYN go to the staging table
// when one is configured. Touched lists every record dislodged from stage 0.
func (t *FlowTable) Insert(rec FlowRecord, now time.Time) FlowInsertResult {
	if t.syn != nil && rec.EntryFlags.Has(core.FlagSYN) {
		return FlowInsertResult{InsertResult: t.syn.Insert(rec, now), Staged: true}
	}
	res := t.store.Insert(rec, func(r FlowRecord) cuckoo.Verdict { return t.Verdict(r, now) })
	return FlowInsertResult{InsertResult: res}
}

// Range visits every record of the main table.
func (t *FlowTable) Range(fn func(FlowRecord) bool) {
	t.store.Range(func(_, _ int, r FlowRecord) bool { return fn(r) })
}
