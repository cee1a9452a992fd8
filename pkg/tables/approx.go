package tables

import (
	"fmt"
	"time"

	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/cuckoo"
)

// ApproxFlowTable is a best-effort mirror of flow state. It absorbs
// records the flow table dislodges during recirculation and records of
// ranges known to be closed, so that the packet table can discard stale
// measurements early.
//
// Entries are written with InsertOrUpdate, which may leave two entries
// for the same flow; readers get the one in the lowest stage.
type ApproxFlowTable struct {
	cfg   core.TableConfig
	store *cuckoo.Store[core.FlowKey, FlowRecord]
}

// NewApproxFlowTable builds an approximate flow table.
func NewApproxFlowTable(cfg core.TableConfig) (*ApproxFlowTable, error) {
	store, err := cuckoo.New[core.FlowKey, FlowRecord](cfg)
	if err != nil {
		return nil, fmt.Errorf("approx flow table: %w", err)
	}
	return &ApproxFlowTable{cfg: cfg, store: store}, nil
}

func (t *ApproxFlowTable) Config() core.TableConfig { return t.cfg }
func (t *ApproxFlowTable) Occupancy() int          { return t.store.Occupancy() }
func (t *ApproxFlowTable) Capacity() int           { return t.store.Capacity() }

func (t *ApproxFlowTable) Lookup(key core.FlowKey) (FlowRecord, bool) {
	return t.store.Lookup(key)
}

func (t *ApproxFlowTable) Delete(key core.FlowKey) (FlowRecord, bool) {
	return t.store.Delete(key)
}

// InsertOrUpdate merges rec into an entry for the same flow found along
// rec's candidate slots, or inserts it with a cuckoo walk over those slots.
func (t *ApproxFlowTable) InsertOrUpdate(rec FlowRecord, now time.Time) cuckoo.InsertResult[FlowRecord] {
	return t.store.Upsert(rec,
		func(old, next FlowRecord) FlowRecord { return old.Merge(next) },
		func(r FlowRecord) cuckoo.Verdict {
			return flowVerdict(r, now, t.cfg.EntryTimeoutMs, nil)
		})
}

// Range visits every record.
func (t *ApproxFlowTable) Range(fn func(FlowRecord) bool) {
	t.store.Range(func(_, _ int, r FlowRecord) bool { return fn(r) })
}
