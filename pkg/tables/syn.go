package tables

import (
	"fmt"
	"time"

	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/cuckoo"
)

// SynStagingTable parks flows opened by a SYN in a separate, smaller memory.
type SynStagingTable struct {
	cfg   core.TableConfig
	store *cuckoo.Store[core.FlowKey, FlowRecord]
}

// NewSynStagingTable builds a staging table.
func NewSynStagingTable(cfg core.TableConfig) (*SynStagingTable, error) {
	store, err := cuckoo.New[core.FlowKey, FlowRecord](cfg)
	if err != nil {
		return nil, fmt.Errorf("syn staging table: %w", err)
	}
	return &SynStagingTable{cfg: cfg, store: store}, nil
}

func (t *SynStagingTable) Occupancy() int { return t.store.Occupancy() }
func (t *SynStagingTable) Capacity() int  { return t.store.Capacity() }

func (t *SynStagingTable) Lookup(key core.FlowKey) (FlowRecord, bool) {
	return t.store.Lookup(key)
}

func (t *SynStagingTable) Update(rec FlowRecord) bool {
	return t.store.Update(rec.Key, func(old FlowRecord) FlowRecord { return old.Merge(rec) })
}

func (t *SynStagingTable) Delete(key core.FlowKey) (FlowRecord, bool) {
	return t.store.Delete(key)
}

// Insert adds rec; carried records are evicted on entry timeout or collapse.
func (t *SynStagingTable) Insert(rec FlowRecord, now time.Time) cuckoo.InsertResult[FlowRecord] {
	return t.store.Insert(rec, func(r FlowRecord) cuckoo.Verdict {
		return flowVerdict(r, now, t.cfg.EntryTimeoutMs, nil)
	})
}
