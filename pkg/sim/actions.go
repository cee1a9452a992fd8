package sim

import (
	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/tables"
)

// Action is the instruction one pipeline stage hands to the next.
type Action int

const (
	Drop Action = iota
	Insert
	Update
	Delete
	Match
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Match:
		return "match"
	}
	return "drop"
}

// Actionable carries an instruction and its payload downstream. Key is
// used by the packet table stage and Records by the approximate flow
// table stage.
type Actionable struct {
	Action  Action
	Key     core.PacketKey
	Records []tables.FlowRecord
}

var dropped = Actionable{Action: Drop}

// collapsedRecord is the closed range the approximate flow table learns
// when a flow's outstanding bytes are known to be resolved at ack.
func collapsedRecord(key core.FlowKey, ack uint64, p core.Packet) tables.FlowRecord {
	return tables.NewFlowRecord(key, core.Interval{Low: ack, High: ack}, p.Timestamp, p.Flags)
}
