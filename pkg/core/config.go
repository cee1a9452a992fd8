package core

import (
	"fmt"
	"strings"
)

// EvictionTiming selects the pipeline point(s) at which a table's eviction
// predicate is consulted during an insertion walk.
type EvictionTiming int

const (
	// EvictAtStart checks the carried record each time the walk re-enters stage 0.
	EvictAtStart EvictionTiming = iota
	// EvictImmediate checks the carried record at every stage.
	EvictImmediate
	// EvictAtEnd checks the carried record only at the last stage.
	EvictAtEnd
)

var evictionTimingNames = map[EvictionTiming]string{
	EvictAtStart:   "start",
	EvictImmediate: "immediate",
	EvictAtEnd:     "end",
}

func (e EvictionTiming) String() string {
	if s, ok := evictionTimingNames[e]; ok {
		return s
	}
	return fmt.Sprintf("EvictionTiming(%d)", int(e))
}

// Valid reports whether e is one of the known timings.
func (e EvictionTiming) Valid() bool {
	_, ok := evictionTimingNames[e]
	return ok
}

// ParseEvictionTiming parses "start", "immediate" or "end".
func ParseEvictionTiming(s string) (EvictionTiming, error) {
	for k, v := range evictionTimingNames {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return k, nil
		}
	}
	return EvictAtStart, fmt.Errorf("invalid eviction stage: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (e EvictionTiming) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names are
// kept as an out-of-range value so that normalisation can report and
// correct them instead of failing the whole load.
func (e *EvictionTiming) UnmarshalText(b []byte) error {
	v, err := ParseEvictionTiming(string(b))
	if err != nil {
		*e = EvictionTiming(-1)
		return nil
	}
	*e = v
	return nil
}

// SynAction controls how the flow table treats handshake state.
type SynAction int

const (
	// SynIgnore drops SYN and RST packets before they reach any table.
	SynIgnore SynAction = iota
	// SynTimeout tracks SYN packets but evicts them after a shorter timeout.
	SynTimeout
	// SynStaging parks SYN records in a separate staging table.
	SynStaging
)

var synActionNames = map[SynAction]string{
	SynIgnore:  "ignore",
	SynTimeout: "timeout",
	SynStaging: "staging",
}

func (a SynAction) String() string {
	if s, ok := synActionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("SynAction(%d)", int(a))
}

// Valid reports whether a is one of the known actions.
func (a SynAction) Valid() bool {
	_, ok := synActionNames[a]
	return ok
}

// ParseSynAction parses "ignore", "timeout" or "staging".
func ParseSynAction(s string) (SynAction, error) {
	for k, v := range synActionNames {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return k, nil
		}
	}
	return SynIgnore, fmt.Errorf("invalid syn action: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a SynAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *SynAction) UnmarshalText(b []byte) error {
	v, err := ParseSynAction(string(b))
	if err != nil {
		*a = SynAction(-1)
		return nil
	}
	*a = v
	return nil
}

// TableConfig describes the geometry and policies of one cuckoo table.
type TableConfig struct {
	// NumStages is the number of hash stages (pipeline stages) of the table.
	NumStages int `json:"num_stages" yaml:"numStages"`

	// MaxSize is the total number of slots across all stages.
	// The per-stage size is MaxSize/NumStages, floored.
	MaxSize int `json:"max_size" yaml:"maxSize"`

	// Recirculations is the number of extra passes an insertion may take.
	Recirculations int `json:"recirculations" yaml:"recirculations"`

	// PreferNew makes an insertion always displace the current occupant.
	// When false an occupant is only displaced at the last stage.
	PreferNew bool `json:"prefer_new" yaml:"preferNew"`

	// EvictionStage selects where the eviction predicate is consulted.
	EvictionStage EvictionTiming `json:"eviction_stage" yaml:"evictionStage"`

	// EntryTimeoutMs evicts records idle for at least this long. Nil disables it.
	EntryTimeoutMs *int `json:"entry_timeout_ms,omitempty" yaml:"entryTimeoutMs,omitempty"`
}

// StageSize returns the number of slots per stage.
func (c TableConfig) StageSize() int {
	if c.NumStages <= 0 {
		return 0
	}
	return c.MaxSize / c.NumStages
}

// Capacity returns the usable number of slots.
func (c TableConfig) Capacity() int {
	return c.StageSize() * c.NumStages
}

// AttemptBudget returns the maximum number of placement attempts of one insertion.
func (c TableConfig) AttemptBudget() int {
	return (c.Recirculations + 1) * c.NumStages
}

// FlowTableConfig extends TableConfig with the handshake policy.
type FlowTableConfig struct {
	TableConfig `json:",inline" yaml:",inline"`

	// SynAction is the handshake policy.
	SynAction SynAction `json:"syn_action" yaml:"synAction"`

	// SynTimeoutMs is the idle timeout applied to SYN records when
	// SynAction is "timeout".
	SynTimeoutMs *int `json:"syn_timeout_ms,omitempty" yaml:"synTimeoutMs,omitempty"`

	// SynStaging is the geometry of the staging table when SynAction is "staging".
	SynStaging TableConfig `json:"syn_staging" yaml:"synStaging"`
}

// IntPtr is a convenience for optional millisecond settings.
func IntPtr(v int) *int { return &v }
