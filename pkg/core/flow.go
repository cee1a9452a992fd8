package core

import (
	"fmt"
	"net/netip"
	"strconv"
)

// FlowKey identifies one direction of a TCP connection. The SEQ and ACK
// legs of a connection use swapped keys (see Reverse) so both resolve to
// the same table entry.
type FlowKey struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

// Reverse swaps source and destination.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{SrcIP: k.DstIP, DstIP: k.SrcIP, SrcPort: k.DstPort, DstPort: k.SrcPort}
}

// AppendHashKey appends the canonical byte string of the key: the decimal
// rendering of every field, concatenated without separators.
func (k FlowKey) AppendHashKey(b []byte) []byte {
	b = append(b, k.SrcIP.String()...)
	b = append(b, k.DstIP.String()...)
	b = strconv.AppendUint(b, uint64(k.SrcPort), 10)
	b = strconv.AppendUint(b, uint64(k.DstPort), 10)
	return b
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort)
}

// PacketKey identifies one in-flight byte range of a flow.
type PacketKey struct {
	Flow        FlowKey
	ExpectedAck uint64
}

// AppendHashKey appends the flow's canonical bytes followed by the expected ack.
func (k PacketKey) AppendHashKey(b []byte) []byte {
	b = k.Flow.AppendHashKey(b)
	return strconv.AppendUint(b, k.ExpectedAck, 10)
}

func (k PacketKey) String() string {
	return fmt.Sprintf("%s#%d", k.Flow, k.ExpectedAck)
}

// Interval is the range of sequence space [Low, High) still awaiting
// acknowledgement. Low == High means nothing is tracked.
type Interval struct {
	Low  uint64
	High uint64
}

// Collapsed reports whether the interval no longer tracks any byte.
func (i Interval) Collapsed() bool { return i.Low == i.High }

// Contains reports whether Low < v <= High, i.e. whether an
// acknowledgement of v advances the interval.
func (i Interval) Contains(v uint64) bool { return v > i.Low && v <= i.High }
