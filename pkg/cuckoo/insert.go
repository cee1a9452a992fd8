package cuckoo

import "fmt"

// Verdict is the answer of an eviction predicate. Keep (zero) means the
// carried record stays in play; any other value names the reason it is
// discarded and is passed back to the caller untouched.
type Verdict int

// Keep is the verdict that does not evict.
const Keep Verdict = 0

// Predicate decides whether a record carried by an insertion walk should be
// discarded instead of being placed again.
type Predicate[V any] func(carried V) Verdict

// Outcome is the result class of an insertion.
type Outcome int

const (
	// InsertedEmpty means the walk ended on an empty slot.
	InsertedEmpty Outcome = iota
	// InsertedEvicted means the walk ended by discarding the carried record.
	InsertedEvicted
	// Updated means an existing record with the same key was merged (Upsert only).
	Updated
	// Failed means the attempt budget ran out while a record was still carried.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case InsertedEmpty:
		return "inserted"
	case InsertedEvicted:
		return "evicted"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Succeeded reports whether the record ended up stored or merged.
func (o Outcome) Succeeded() bool { return o != Failed }

// InsertResult describes one insertion walk.
type InsertResult[V any] struct {
	Outcome Outcome

	// Verdict is the predicate's answer when Outcome is InsertedEvicted.
	Verdict Verdict

	// Dropped is the record that left the table: the evicted record when
	// Outcome is InsertedEvicted, the carried record when Outcome is Failed.
	Dropped V

	// Attempts is the number of placement attempts, including the one that
	// ended the walk.
	Attempts int

	// Recirculations counts the times the walk wrapped back to stage 0.
	Recirculations int

	// Touched holds, in order, every record dislodged from stage 0.
	Touched []V
}

// Insert places rec with a bounded cuckoo walk of at most
// (Recirculations+1)*NumStages attempts. From the second attempt on, evict
// is consulted for the carried record at the stages selected by the
// table's eviction timing. evict may be nil.
func (s *Store[K, V]) Insert(rec V, evict Predicate[V]) InsertResult[V] {
	var res InsertResult[V]
	n := len(s.stages)
	budget := s.cfg.AttemptBudget()
	carried := rec
	stage := 0

	for attempt := 0; attempt < budget; attempt++ {
		if attempt > 0 {
			if stage == 0 {
				res.Recirculations++
			}
			if evict != nil && s.checksAt(stage) {
				if v := evict(carried); v != Keep {
					res.Outcome = InsertedEvicted
					res.Verdict = v
					res.Dropped = carried
					return res
				}
			}
		}

		res.Attempts++
		idx := s.Index(carried.StoreKey(), stage)
		next, occupied := s.displace(stage, idx, carried)
		if !occupied {
			res.Outcome = InsertedEmpty
			return res
		}
		if stage == 0 {
			res.Touched = append(res.Touched, next)
		}
		carried = next
		stage = (stage + 1) % n
	}

	res.Outcome = Failed
	res.Dropped = carried
	return res
}

// Upsert merges rec into an existing record with the same key or inserts it.
//
// Candidate slots always come from rec's own key. At each stage an empty
// slot takes the carried record; a slot holding rec's key is merged when
// the carried record has that key and overwritten by it otherwise;
// otherwise the carried record displaces the occupant as in Insert. A
// record for the key that sits beyond a displaced slot is not seen, so a
// key can end up stored twice.
func (s *Store[K, V]) Upsert(rec V, merge func(old, rec V) V, evict Predicate[V]) InsertResult[V] {
	var res InsertResult[V]
	n := len(s.stages)
	budget := s.cfg.AttemptBudget()
	key := rec.StoreKey()
	carried := rec
	stage := 0

	for attempt := 0; attempt < budget; attempt++ {
		if attempt > 0 {
			if stage == 0 {
				res.Recirculations++
			}
			if evict != nil && s.checksAt(stage) {
				if v := evict(carried); v != Keep {
					res.Outcome = InsertedEvicted
					res.Verdict = v
					res.Dropped = carried
					return res
				}
			}
		}

		res.Attempts++
		idx := s.Index(key, stage)
		cur, used := s.At(stage, idx)
		switch {
		case !used:
			s.Place(stage, idx, carried)
			res.Outcome = InsertedEmpty
			return res
		case cur.StoreKey() == key:
			if carried.StoreKey() == key {
				s.Place(stage, idx, merge(cur, carried))
			} else {
				s.Place(stage, idx, carried)
			}
			res.Outcome = Updated
			return res
		}

		next, _ := s.displace(stage, idx, carried)
		if stage == 0 {
			res.Touched = append(res.Touched, next)
		}
		carried = next
		stage = (stage + 1) % n
	}

	res.Outcome = Failed
	res.Dropped = carried
	return res
}
