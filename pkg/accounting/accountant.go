// Package accounting folds table operation outcomes into counters and
// periodic snapshots.
package accounting

import (
	"sort"
	"time"
)

// Counters are the cumulative counters of one table.
type Counters struct {
	// Processed counts packets that reached the table's pipeline stage.
	Processed uint64 `json:"processed"`

	// Dropped counts packets the stage passed on without touching the table.
	Dropped uint64 `json:"dropped"`

	// InsertAttempts is the number of insertions started.
	InsertAttempts uint64 `json:"insert_attempts"`

	// InsertSuccesses counts insertions that stored, merged or evicted.
	InsertSuccesses uint64 `json:"insert_successes"`

	// InsertFailures counts insertions that ran out of attempts.
	InsertFailures uint64 `json:"insert_failures"`

	// UpdateAttempts, UpdateSuccesses and UpdateFailures count in-place updates.
	UpdateAttempts  uint64 `json:"update_attempts"`
	UpdateSuccesses uint64 `json:"update_successes"`
	UpdateFailures  uint64 `json:"update_failures"`

	// Recirculations is the number of extra pipeline passes charged.
	Recirculations uint64 `json:"recirculations"`

	// DeRecirculations counts passes refunded after an early eviction.
	DeRecirculations uint64 `json:"de_recirculations"`

	// Evictions counts records discarded by the eviction predicate or by deletion.
	Evictions uint64 `json:"evictions"`

	// Matches counts records removed because they produced an RTT sample.
	Matches uint64 `json:"matches"`

	// Occupancy is the current number of stored records.
	Occupancy int `json:"occupancy"`
}

// Snapshot is the state of a table's counters at a point in trace time.
type Snapshot struct {
	Table     string    `json:"table"`
	At        time.Time `json:"at"`
	ElapsedMs int64     `json:"elapsed_ms"`
	Capacity  int       `json:"capacity"`
	Counters

	// Rates are percentages.
	InsertSuccessRate float64 `json:"insert_success_rate"`
	UpdateSuccessRate float64 `json:"update_success_rate"`
	Utilization       float64 `json:"utilization"`
}

// Accountant collects the counters of one table. It is driven by the
// simulation loop and is not safe for concurrent use.
type Accountant struct {
	name     string
	capacity int
	interval time.Duration

	started bool
	first   time.Time
	next    time.Time

	c         Counters
	reasons   map[string]uint64
	snapshots []Snapshot
}

// New returns an accountant for a table. A non-positive interval disables
// periodic snapshots; Finish still records a final one.
func New(name string, capacity int, interval time.Duration) *Accountant {
	return &Accountant{
		name:     name,
		capacity: capacity,
		interval: interval,
		reasons:  make(map[string]uint64),
	}
}

// Name returns the table name.
func (a *Accountant) Name() string { return a.name }

// Capacity returns the table capacity.
func (a *Accountant) Capacity() int { return a.capacity }

// Counters returns the current counters.
func (a *Accountant) Counters() Counters { return a.c }

// Reasons returns eviction counts per reason.
func (a *Accountant) Reasons() map[string]uint64 {
	out := make(map[string]uint64, len(a.reasons))
	for k, v := range a.reasons {
		out[k] = v
	}
	return out
}

// ReasonNames returns the eviction reasons seen so far, sorted.
func (a *Accountant) ReasonNames() []string {
	names := make([]string, 0, len(a.reasons))
	for k := range a.reasons {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns the recorded snapshots in order.
func (a *Accountant) Snapshots() []Snapshot { return a.snapshots }

// Tick advances trace time. The first call fixes the reference time;
// a snapshot is taken whenever a full interval has elapsed since the last.
func (a *Accountant) Tick(now time.Time) {
	if !a.started {
		a.started = true
		a.first = now
		a.next = now.Add(a.interval)
		return
	}
	if a.interval <= 0 || now.Before(a.next) {
		return
	}
	a.snapshots = append(a.snapshots, a.snapshot(now))
	for !now.Before(a.next) {
		a.next = a.next.Add(a.interval)
	}
}

// Finish records a final snapshot at now and returns it.
func (a *Accountant) Finish(now time.Time) Snapshot {
	if !a.started {
		a.started = true
		a.first = now
	}
	s := a.snapshot(now)
	a.snapshots = append(a.snapshots, s)
	return s
}

func (a *Accountant) snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Table:     a.name,
		At:        now,
		ElapsedMs: now.Sub(a.first).Milliseconds(),
		Capacity:  a.capacity,
		Counters:  a.c,
	}
	s.InsertSuccessRate = percent(a.c.InsertSuccesses, a.c.InsertAttempts)
	s.UpdateSuccessRate = percent(a.c.UpdateSuccesses, a.c.UpdateAttempts)
	if a.capacity > 0 {
		s.Utilization = 100 * float64(a.c.Occupancy) / float64(a.capacity)
	}
	return s
}

func percent(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}

// Insertion records one insertion. recirculations is the number of passes
// charged and refunded the number of passes given back; reason names the
// eviction that ended the walk, empty for none.
func (a *Accountant) Insertion(ok bool, recirculations, refunded int, reason string) {
	a.c.InsertAttempts++
	if ok {
		a.c.InsertSuccesses++
	} else {
		a.c.InsertFailures++
	}
	a.c.Recirculations += uint64(recirculations)
	a.c.DeRecirculations += uint64(refunded)
	if reason != "" {
		a.Eviction(reason)
	}
}

// Update records one in-place update.
func (a *Accountant) Update(ok bool) {
	a.c.UpdateAttempts++
	if ok {
		a.c.UpdateSuccesses++
	} else {
		a.c.UpdateFailures++
	}
}

// Eviction records one evicted record.
func (a *Accountant) Eviction(reason string) {
	a.c.Evictions++
	a.reasons[reason]++
}

// Processed records a packet reaching the table's stage; drop marks it
// as passed on without any table operation.
func (a *Accountant) Processed(drop bool) {
	a.c.Processed++
	if drop {
		a.c.Dropped++
	}
}

// Match records a record removed to produce a sample.
func (a *Accountant) Match() { a.c.Matches++ }

// Occupancy sets the current occupancy.
func (a *Accountant) Occupancy(n int) { a.c.Occupancy = n }
