package sim

import (
	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/cuckoo"
	"github.com/irctrakz/p4rtt/pkg/tables"
)

// handleSeq processes a data packet leaving the monitored network.
//
// The flow table stage decides what the packet table and the approximate
// flow table do with the packet. Records the flow table dislodged on the
// way are written to the approximate table before the packet table runs,
// except the last one, which is written after it.
func (s *Simulation) handleSeq(p core.Packet) {
	pt, aft := s.seqFlowStage(p)

	var deferred *tables.FlowRecord
	if s.approx != nil {
		s.approxAcct.Processed(aft.Action == Drop)
		if aft.Action == Update && len(aft.Records) > 0 {
			n := len(aft.Records) - 1
			for _, r := range aft.Records[:n] {
				s.writeApprox(r, p)
			}
			deferred = &aft.Records[n]
		}
	}

	s.seqPacketStage(p, pt)

	if deferred != nil {
		s.writeApprox(*deferred, p)
	}
}

// seqFlowStage updates the flow's confidence interval and returns the
// instructions for the packet table and the approximate flow table.
func (s *Simulation) seqFlowStage(p core.Packet) (pt, aft Actionable) {
	ignoreSyn := s.cfg.FlowTable.SynAction == core.SynIgnore
	if (ignoreSyn && p.Flags.Any(core.FlagSYN|core.FlagRST)) || p.PureAck() {
		s.flowAcct.Processed(true)
		return dropped, dropped
	}

	key := p.Key()
	now := p.Timestamp
	expAck := p.ExpectedAck()
	pk := core.PacketKey{Flow: key, ExpectedAck: expAck}

	rec, found := s.flows.Lookup(key)
	if !found && expAck == p.Seq {
		// Nothing in flight: a new flow would start collapsed.
		s.flowAcct.Processed(true)
		return dropped, dropped
	}
	s.flowAcct.Processed(false)

	if found {
		iv := rec.Interval
		if p.Seq < iv.High {
			// Retransmission or reordering: the range can no longer be
			// trusted, so the flow is closed and its state mirrored as
			// acknowledged up to this packet.
			_, ok := s.flows.Delete(key)
			s.flowAcct.Update(ok)
			if ok {
				s.flowAcct.Eviction("seq_violation")
			}
			return dropped, Actionable{Action: Update, Records: []tables.FlowRecord{collapsedRecord(key, expAck, p)}}
		}

		next := core.Interval{Low: p.Seq, High: expAck}
		if p.Seq == iv.High {
			next.Low = iv.Low
		}
		upd := rec.Merge(tables.FlowRecord{Interval: next, UpdateTime: now, UpdateFlags: p.Flags})
		var ok bool
		if next.Collapsed() {
			_, ok = s.flows.Delete(key)
			if ok {
				s.flowAcct.Eviction("collapsed")
			}
		} else {
			ok = s.flows.Update(upd)
		}
		s.flowAcct.Update(ok)
		return Actionable{Action: Insert, Key: pk}, Actionable{Action: Update, Records: []tables.FlowRecord{upd}}
	}

	// A flow that is unknown but has this exact range pending is a
	// retransmission of a measured packet; its sample would be ambiguous.
	if _, ok := s.packets.Lookup(pk); ok {
		return Actionable{Action: Delete, Key: pk}, Actionable{Action: Update, Records: []tables.FlowRecord{collapsedRecord(key, expAck, p)}}
	}

	res := s.flows.Insert(tables.NewFlowRecord(key, core.Interval{Low: p.Seq, High: expAck}, now, p.Flags), now)
	acct := s.flowAcct
	if res.Staged {
		acct = s.synAcct
	}
	reason := ""
	if res.Outcome == cuckoo.InsertedEvicted {
		reason = tables.VerdictName(res.Verdict)
	}
	// One pass is spent bringing the packet back to the first stage before
	// the walk starts.
	acct.Insertion(res.Outcome.Succeeded(), res.Recirculations+1, 0, reason)
	if res.Outcome == cuckoo.Failed {
		s.log.WithField("flow", res.Dropped.Key).Debug("Flow table insertion failed")
	}
	return Actionable{Action: Insert, Key: pk}, Actionable{Action: Update, Records: res.Touched}
}

// seqPacketStage applies the flow table's instruction to the packet table.
func (s *Simulation) seqPacketStage(p core.Packet, pt Actionable) {
	s.packetAcct.Processed(pt.Action == Drop)

	switch pt.Action {
	case Delete:
		_, ok := s.packets.Delete(pt.Key)
		s.packetAcct.Update(ok)
		if ok {
			s.packetAcct.Eviction("retransmission")
		}
	case Insert:
		rec := tables.PacketRecord{Key: pt.Key, Timestamp: p.Timestamp, OriginalSeq: p.Seq}
		res := s.packets.Insert(rec, p.Timestamp, s.flows, s.approxLookup())
		refunded := 0
		if res.Code == tables.CollapsedInApprox && res.Recirculations > 0 {
			refunded = 1
		}
		reason := ""
		if res.Outcome == cuckoo.InsertedEvicted {
			reason = res.Code.String()
		}
		s.packetAcct.Insertion(res.Outcome.Succeeded(), res.ChargedRecirculations(), refunded, reason)
		if res.HasDiscarded {
			s.packetAcct.Eviction("displaced")
		}
	}
}

// writeApprox inserts or merges r into the approximate flow table.
func (s *Simulation) writeApprox(r tables.FlowRecord, p core.Packet) {
	res := s.approx.InsertOrUpdate(r, p.Timestamp)
	switch res.Outcome {
	case cuckoo.Updated:
		s.approxAcct.Update(true)
	case cuckoo.InsertedEvicted:
		s.approxAcct.Insertion(true, res.Recirculations, 0, tables.VerdictName(res.Verdict))
	default:
		s.approxAcct.Insertion(res.Outcome.Succeeded(), res.Recirculations, 0, "")
	}
}
