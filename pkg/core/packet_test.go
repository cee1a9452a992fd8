package core

import (
	"net/netip"
	"testing"
)

// TestParseFlags tests parsing of CEUAPRSF flag strings.
func TestParseFlags(t *testing.T) {
	cases := []struct {
		in   string
		want Flags
	}{
		{"--A----", FlagACK},
		{"S", FlagSYN},
		{"---AP---", FlagACK | FlagPSH},
		{"CE-A---F", FlagCWR | FlagECE | FlagACK | FlagFIN},
		{"", 0},
	}

	for _, tc := range cases {
		if got := ParseFlags(tc.in); got != tc.want {
			t.Errorf("ParseFlags(%q): expected %v, got %v", tc.in, tc.want, got)
		}
	}

	if s := (FlagACK | FlagSYN).String(); s != "---A--S-" {
		t.Errorf("Expected '---A--S-', got '%s'", s)
	}
}

// TestPureAck tests the bare-acknowledgement classification.
func TestPureAck(t *testing.T) {
	p := Packet{Flags: FlagACK}
	if !p.PureAck() {
		t.Error("Expected ACK with no payload to be a pure ACK")
	}

	// ECN bits do not matter
	p.Flags = FlagACK | FlagECE
	if !p.PureAck() {
		t.Error("Expected ACK+ECE with no payload to be a pure ACK")
	}

	p.Flags = FlagACK | FlagPSH
	if p.PureAck() {
		t.Error("Expected ACK+PSH not to be a pure ACK")
	}

	p.Flags = FlagACK
	p.Size = 10
	if p.PureAck() {
		t.Error("Expected ACK with payload not to be a pure ACK")
	}
}

// TestExpectedAck tests the phantom byte of SYN and FIN.
func TestExpectedAck(t *testing.T) {
	p := Packet{Seq: 1000, Size: 50, Flags: FlagACK}
	if p.ExpectedAck() != 1050 {
		t.Errorf("Expected 1050, got %d", p.ExpectedAck())
	}

	p = Packet{Seq: 1000, Flags: FlagSYN}
	if p.ExpectedAck() != 1001 {
		t.Errorf("Expected 1001, got %d", p.ExpectedAck())
	}

	p = Packet{Seq: 1000, Size: 5, Flags: FlagFIN | FlagACK}
	if p.ExpectedAck() != 1006 {
		t.Errorf("Expected 1006, got %d", p.ExpectedAck())
	}
}

// TestFlowKey tests key reversal and the canonical hash bytes.
func TestFlowKey(t *testing.T) {
	k := FlowKey{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("1.2.3.4"),
		SrcPort: 51506,
		DstPort: 443,
	}

	r := k.Reverse()
	if r.SrcIP != k.DstIP || r.DstPort != k.SrcPort {
		t.Errorf("Unexpected reverse key: %v", r)
	}
	if r.Reverse() != k {
		t.Errorf("Expected double reverse to be the identity")
	}

	if got := string(k.AppendHashKey(nil)); got != "10.0.0.11.2.3.451506443" {
		t.Errorf("Unexpected canonical bytes: %q", got)
	}

	pk := PacketKey{Flow: k, ExpectedAck: 77}
	if got := string(pk.AppendHashKey(nil)); got != "10.0.0.11.2.3.45150644377" {
		t.Errorf("Unexpected packet key bytes: %q", got)
	}
}

// TestInterval tests collapse and containment.
func TestInterval(t *testing.T) {
	iv := Interval{Low: 100, High: 200}
	if iv.Collapsed() {
		t.Error("Expected (100,200) not to be collapsed")
	}
	if iv.Contains(100) || !iv.Contains(101) || !iv.Contains(200) || iv.Contains(201) {
		t.Errorf("Unexpected containment for %v", iv)
	}
	if !(Interval{Low: 5, High: 5}).Collapsed() {
		t.Error("Expected (5,5) to be collapsed")
	}
}
