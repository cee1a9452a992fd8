package sim

import (
	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/tables"
)

// handleAck processes an acknowledgement entering the monitored network.
// An ack strictly inside the flow's interval advances the interval and
// looks for the packet whose last byte it acknowledges.
func (s *Simulation) handleAck(p core.Packet) {
	key := p.Key().Reverse()
	pt, aft := s.ackFlowStage(p, key)

	matched := false
	if pt.Action == Match {
		if rec, ok := s.packets.Delete(pt.Key); ok {
			matched = true
			s.packetAcct.Update(true)
			s.packetAcct.Match()
			s.emit(RTTSample{
				Flow:    key,
				Seq:     rec.OriginalSeq,
				Ack:     p.Ack,
				SentAt:  rec.Timestamp,
				AckedAt: p.Timestamp,
				RTT:     p.Timestamp.Sub(rec.Timestamp),
			})
		}
	}
	s.packetAcct.Processed(!matched)

	if s.approx != nil {
		s.approxAcct.Processed(aft.Action == Drop)
		if aft.Action == Update {
			for _, r := range aft.Records {
				s.writeApprox(r, p)
			}
		}
	}
}

func (s *Simulation) ackFlowStage(p core.Packet, key core.FlowKey) (pt, aft Actionable) {
	ignoreSyn := s.cfg.FlowTable.SynAction == core.SynIgnore
	if (ignoreSyn && p.Flags.Any(core.FlagSYN|core.FlagRST)) || !p.Flags.Has(core.FlagACK) {
		s.flowAcct.Processed(true)
		return dropped, dropped
	}

	rec, ok := s.flows.Lookup(key)
	if !ok || (p.Ack != rec.Interval.Low && !rec.Interval.Contains(p.Ack)) {
		s.flowAcct.Processed(true)
		return dropped, dropped
	}
	s.flowAcct.Processed(false)

	if p.Ack == rec.Interval.Low {
		// Duplicate ack: the receiver is missing data, so the interval no
		// longer describes what is in flight.
		_, ok := s.flows.Delete(key)
		s.flowAcct.Update(ok)
		if ok {
			s.flowAcct.Eviction("duplicate_ack")
		}
		return dropped, dropped
	}

	next := core.Interval{Low: p.Ack, High: rec.Interval.High}
	upd := rec.Merge(tables.FlowRecord{Interval: next, UpdateTime: p.Timestamp, UpdateFlags: p.Flags})
	if next.Collapsed() {
		_, ok = s.flows.Delete(key)
		if ok {
			s.flowAcct.Eviction("collapsed")
		}
	} else {
		ok = s.flows.Update(upd)
	}
	s.flowAcct.Update(ok)

	return Actionable{Action: Match, Key: core.PacketKey{Flow: key, ExpectedAck: p.Ack}},
		Actionable{Action: Update, Records: []tables.FlowRecord{upd}}
}
