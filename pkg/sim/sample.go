package sim

import (
	"time"

	"github.com/irctrakz/p4rtt/pkg/core"
)

// RTTSample is one round-trip measurement: the time between a data packet
// leaving the monitored network and the acknowledgement of its last byte.
type RTTSample struct {
	// Flow is the key in the data (SEQ) direction.
	Flow core.FlowKey `json:"flow"`

	// Seq is the sequence number of the measured data packet and Ack the
	// acknowledgement number that matched it.
	Seq uint64 `json:"seq"`
	Ack uint64 `json:"ack"`

	SentAt  time.Time     `json:"sent_at"`
	AckedAt time.Time     `json:"acked_at"`
	RTT     time.Duration `json:"rtt"`
}

// Millis returns the RTT in milliseconds.
func (s RTTSample) Millis() float64 {
	return float64(s.RTT) / float64(time.Millisecond)
}
