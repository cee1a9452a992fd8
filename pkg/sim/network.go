package sim

import (
	"fmt"
	"net/netip"

	"github.com/irctrakz/p4rtt/pkg/core"
)

// Direction is the role of a packet relative to the monitored network.
type Direction int

const (
	// Transit packets are neither leaving nor entering the monitored network.
	Transit Direction = iota
	// Outbound packets carry data from inside to outside (SEQ direction).
	Outbound
	// Inbound packets carry acknowledgements from outside to inside (ACK direction).
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "seq"
	case Inbound:
		return "ack"
	}
	return "transit"
}

// DefaultMonitored is the monitored address space used when none is configured.
var DefaultMonitored = []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

// Network is the monitored address space: the include prefixes minus the
// exclude prefixes.
type Network struct {
	include []netip.Prefix
	exclude []netip.Prefix
}

// ParseNetwork builds a Network from CIDR strings.
func ParseNetwork(include, exclude []string) (*Network, error) {
	n := &Network{}
	for _, s := range include {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("monitored prefix %q: %w", s, err)
		}
		n.include = append(n.include, p.Masked())
	}
	for _, s := range exclude {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("excluded prefix %q: %w", s, err)
		}
		n.exclude = append(n.exclude, p.Masked())
	}
	return n, nil
}

// Contains reports whether a is inside the monitored network.
func (n *Network) Contains(a netip.Addr) bool {
	a = a.Unmap()
	in := false
	for _, p := range n.include {
		if p.Contains(a) {
			in = true
			break
		}
	}
	if !in {
		return false
	}
	for _, p := range n.exclude {
		if p.Contains(a) {
			return false
		}
	}
	return true
}

// Classify returns the direction of p.
func (n *Network) Classify(p core.Packet) Direction {
	src, dst := n.Contains(p.SrcIP), n.Contains(p.DstIP)
	switch {
	case src && !dst:
		return Outbound
	case !src && dst:
		return Inbound
	}
	return Transit
}
