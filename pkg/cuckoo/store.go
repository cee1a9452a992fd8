// Package cuckoo implements a fixed-capacity, multi-stage cuckoo hash
// table shaped like the register arrays of a switch pipeline.
//
// Every key maps to exactly one slot per stage. Lookups, updates and
// deletes always probe every stage once. Insertions walk the stages in
// order, displacing occupants, and may wrap around to stage 0 a bounded
// number of times (recirculations). The store keeps no statistics of its
// own: each operation returns what happened and callers account for it.
package cuckoo

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/irctrakz/p4rtt/pkg/core"
)

// ErrInvalidGeometry is returned when a table would have no stages or
// no slots per stage.
var ErrInvalidGeometry = errors.New("cuckoo: table needs at least one stage and one slot per stage")

// Key is a table key with a canonical byte encoding used for hashing.
type Key interface {
	comparable
	AppendHashKey([]byte) []byte
}

// Record is a value stored in a Store. A record carries its own key.
type Record[K Key] interface {
	StoreKey() K
}

type slot[V any] struct {
	rec  V
	used bool
}

// Store is a multi-stage cuckoo table. It is not safe for concurrent use.
type Store[K Key, V Record[K]] struct {
	cfg       core.TableConfig
	stageSize uint32
	stages    [][]slot[V]
	occupancy int
	probes    uint64
	buf       []byte
}

// New builds an empty store for cfg. The configuration is used as is;
// callers are expected to have normalised it.
func New[K Key, V Record[K]](cfg core.TableConfig) (*Store[K, V], error) {
	if cfg.NumStages < 1 || cfg.StageSize() < 1 {
		return nil, fmt.Errorf("%w (stages=%d, maxSize=%d)", ErrInvalidGeometry, cfg.NumStages, cfg.MaxSize)
	}
	if cfg.Recirculations < 0 {
		cfg.Recirculations = 0
	}
	s := &Store[K, V]{
		cfg:       cfg,
		stageSize: uint32(cfg.StageSize()),
		stages:    make([][]slot[V], cfg.NumStages),
	}
	for i := range s.stages {
		s.stages[i] = make([]slot[V], s.stageSize)
	}
	return s, nil
}

// Config returns the configuration the store was built with.
func (s *Store[K, V]) Config() core.TableConfig { return s.cfg }

// NumStages returns the number of stages.
func (s *Store[K, V]) NumStages() int { return len(s.stages) }

// StageSize returns the number of slots per stage.
func (s *Store[K, V]) StageSize() int { return int(s.stageSize) }

// Capacity returns the total number of slots.
func (s *Store[K, V]) Capacity() int { return len(s.stages) * int(s.stageSize) }

// Occupancy returns the number of occupied slots.
func (s *Store[K, V]) Occupancy() int { return s.occupancy }

// Probes returns the number of slots inspected by Lookup, Update and Delete
// since the store was created.
func (s *Store[K, V]) Probes() uint64 { return s.probes }

// Index returns the slot index of key in the given stage: the CRC32 of the
// key's canonical bytes, re-run stage more times seeded with the previous
// checksum, modulo the stage size.
func (s *Store[K, V]) Index(key K, stage int) int {
	s.buf = key.AppendHashKey(s.buf[:0])
	sum := crc32.ChecksumIEEE(s.buf)
	for i := 0; i < stage; i++ {
		sum = crc32.Update(sum, crc32.IEEETable, s.buf)
	}
	return int(sum % s.stageSize)
}

// find probes every stage for key and returns the first match.
func (s *Store[K, V]) find(key K) (stage, idx int, ok bool) {
	s.buf = key.AppendHashKey(s.buf[:0])
	sum := crc32.ChecksumIEEE(s.buf)
	for st := range s.stages {
		if st > 0 {
			sum = crc32.Update(sum, crc32.IEEETable, s.buf)
		}
		i := int(sum % s.stageSize)
		s.probes++
		if ok {
			continue
		}
		if sl := &s.stages[st][i]; sl.used && sl.rec.StoreKey() == key {
			stage, idx, ok = st, i, true
		}
	}
	return stage, idx, ok
}

// Lookup returns the record stored under key.
func (s *Store[K, V]) Lookup(key K) (V, bool) {
	st, i, ok := s.find(key)
	if !ok {
		var zero V
		return zero, false
	}
	return s.stages[st][i].rec, true
}

// Update replaces the record stored under key with merge(old). It reports
// whether key was found. merge must not change the record's key.
func (s *Store[K, V]) Update(key K, merge func(old V) V) bool {
	st, i, ok := s.find(key)
	if !ok {
		return false
	}
	sl := &s.stages[st][i]
	sl.rec = merge(sl.rec)
	return true
}

// Delete empties the slot holding key and returns the removed record.
func (s *Store[K, V]) Delete(key K) (V, bool) {
	st, i, ok := s.find(key)
	if !ok {
		var zero V
		return zero, false
	}
	return s.empty(st, i), true
}

func (s *Store[K, V]) empty(stage, idx int) V {
	sl := &s.stages[stage][idx]
	rec := sl.rec
	var zero V
	sl.rec, sl.used = zero, false
	s.occupancy--
	return rec
}

// At returns the record in a given slot.
func (s *Store[K, V]) At(stage, idx int) (V, bool) {
	sl := s.stages[stage][idx]
	return sl.rec, sl.used
}

// Place writes rec into a slot unconditionally and returns the previous
// occupant, if any.
func (s *Store[K, V]) Place(stage, idx int, rec V) (V, bool) {
	sl := &s.stages[stage][idx]
	prev, had := sl.rec, sl.used
	sl.rec, sl.used = rec, true
	if !had {
		s.occupancy++
	}
	return prev, had
}

// displace stores rec at (stage, idx) following the table's preference and
// returns the record that must be carried on. When the table prefers old
// entries and the slot is taken, rec itself is carried on, except at the
// last stage where the occupant is always displaced.
func (s *Store[K, V]) displace(stage, idx int, rec V) (V, bool) {
	if !s.cfg.PreferNew && stage < len(s.stages)-1 && s.stages[stage][idx].used {
		return rec, true
	}
	return s.Place(stage, idx, rec)
}

// Offer stores rec at (stage, idx) the way one step of an insertion walk
// would and returns the record left over, if any.
func (s *Store[K, V]) Offer(stage, idx int, rec V) (V, bool) {
	return s.displace(stage, idx, rec)
}

// checksAt reports whether the eviction predicate runs at stage.
func (s *Store[K, V]) checksAt(stage int) bool {
	switch s.cfg.EvictionStage {
	case core.EvictImmediate:
		return true
	case core.EvictAtEnd:
		return stage == len(s.stages)-1
	default:
		return stage == 0
	}
}

// Range calls fn for every occupied slot until fn returns false.
func (s *Store[K, V]) Range(fn func(stage, idx int, rec V) bool) {
	for st := range s.stages {
		for i := range s.stages[st] {
			if sl := s.stages[st][i]; sl.used {
				if !fn(st, i, sl.rec) {
					return
				}
			}
		}
	}
}
