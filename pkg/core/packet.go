package core

import (
	"net/netip"
	"strings"
	"time"
)

// Flags is the set of TCP flags carried by a packet.
type Flags uint8

// TCP flag bits, in CEUAPRSF order from most to least significant.
const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

const flagLetters = "CEUAPRSF"

// ParseFlags parses a flag string over {C,E,U,A,P,R,S,F}. Any other
// character (commonly '-' or '.') is treated as an unset position.
func ParseFlags(s string) Flags {
	var f Flags
	for _, r := range strings.ToUpper(s) {
		if i := strings.IndexRune(flagLetters, r); i >= 0 {
			f |= 1 << (len(flagLetters) - 1 - i)
		}
	}
	return f
}

// Has reports whether every flag in mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether at least one flag in mask is set.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

// OnlyACK reports whether ACK is the only one of the UAPRSF flags set.
// ECN bits are ignored.
func (f Flags) OnlyACK() bool {
	return f&^(FlagCWR|FlagECE) == FlagACK
}

// String renders the flags in fixed CEUAPRSF positions, '-' for unset.
func (f Flags) String() string {
	var b [len(flagLetters)]byte
	for i := range flagLetters {
		if f&(1<<(len(flagLetters)-1-i)) != 0 {
			b[i] = flagLetters[i]
		} else {
			b[i] = '-'
		}
	}
	return string(b[:])
}

// Packet is one TCP packet of a replayed trace.
type Packet struct {
	// No is the packet's position in the original capture.
	No uint64

	// Timestamp is the capture time.
	Timestamp time.Time

	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16

	// Flags are the TCP flags.
	Flags Flags

	// Seq and Ack are the raw TCP sequence and acknowledgement numbers.
	Seq uint64
	Ack uint64

	// Size is the TCP payload length in bytes.
	Size uint32
}

// Key returns the packet's flow key in sender order.
func (p Packet) Key() FlowKey {
	return FlowKey{SrcIP: p.SrcIP, DstIP: p.DstIP, SrcPort: p.SrcPort, DstPort: p.DstPort}
}

// ExpectedAck is the acknowledgement number that fully acknowledges this
// packet: seq + payload, plus one for the phantom byte of SYN or FIN.
func (p Packet) ExpectedAck() uint64 {
	e := p.Seq + uint64(p.Size)
	if p.Flags.Any(FlagSYN | FlagFIN) {
		e++
	}
	return e
}

// PureAck reports whether the packet is a bare acknowledgement with no payload.
func (p Packet) PureAck() bool {
	return p.Size == 0 && p.Flags.OnlyACK()
}
