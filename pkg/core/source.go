package core

// PacketSource yields the packets of a trace in capture order.
type PacketSource interface {
	// Next returns the next packet, or io.EOF after the last one.
	Next() (Packet, error)
}
