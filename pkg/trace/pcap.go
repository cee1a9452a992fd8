package trace

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/irctrakz/p4rtt/pkg/core"
)

// pcapng section header block type, as it appears on disk.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// PcapSource decodes TCP packets from a pcap or pcapng capture. Frames
// that are not TCP over IPv4 or IPv6 are skipped.
type PcapSource struct {
	r    packetReader
	link gopacket.Decoder

	frames  uint64
	tcp     uint64
	skipped uint64
}

// NewPcapSource detects the capture format of r and reads its header.
func NewPcapSource(r io.Reader) (*PcapSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("pcapng: %w", err)
		}
		return &PcapSource{r: ng, link: ng.LinkType()}, nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("pcap: %w", err)
	}
	return &PcapSource{r: pr, link: pr.LinkType()}, nil
}

// Frames returns the number of frames read so far.
func (s *PcapSource) Frames() uint64 { return s.frames }

// Skipped returns the number of non-TCP frames skipped so far.
func (s *PcapSource) Skipped() uint64 { return s.skipped }

// Next implements Source.
func (s *PcapSource) Next() (core.Packet, error) {
	for {
		data, ci, err := s.r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return core.Packet{}, io.EOF
		}
		if err != nil {
			return core.Packet{}, fmt.Errorf("frame %d: %w", s.frames+1, err)
		}
		s.frames++

		pkt := gopacket.NewPacket(data, s.link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		p, ok := decodeTCP(pkt)
		if !ok {
			s.skipped++
			continue
		}
		p.No = s.tcp
		p.Timestamp = ci.Timestamp.UTC()
		s.tcp++
		return p, nil
	}
}

func decodeTCP(pkt gopacket.Packet) (core.Packet, bool) {
	var p core.Packet

	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		p.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		p.DstIP, _ = netip.AddrFromSlice(ip.DstIP.To4())
	case *layers.IPv6:
		p.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP)
		p.DstIP, _ = netip.AddrFromSlice(ip.DstIP)
	default:
		return p, false
	}

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return p, false
	}
	tcp, _ := tcpLayer.(*layers.TCP)

	p.SrcIP, p.DstIP = p.SrcIP.Unmap(), p.DstIP.Unmap()
	p.SrcPort = uint16(tcp.SrcPort)
	p.DstPort = uint16(tcp.DstPort)
	p.Seq = uint64(tcp.Seq)
	p.Ack = uint64(tcp.Ack)
	p.Size = uint32(len(tcp.Payload))
	p.Flags = tcpFlags(tcp)
	return p, true
}

func tcpFlags(tcp *layers.TCP) core.Flags {
	var f core.Flags
	set := func(on bool, flag core.Flags) {
		if on {
			f |= flag
		}
	}
	set(tcp.FIN, core.FlagFIN)
	set(tcp.SYN, core.FlagSYN)
	set(tcp.RST, core.FlagRST)
	set(tcp.PSH, core.FlagPSH)
	set(tcp.ACK, core.FlagACK)
	set(tcp.URG, core.FlagURG)
	set(tcp.ECE, core.FlagECE)
	set(tcp.CWR, core.FlagCWR)
	return f
}

var (
	fixtureSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	fixtureDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// WritePcap writes pkts as an Ethernet pcap with nanosecond timestamps.
// Payloads are zero-filled to each packet's size.
func WritePcap(w io.Writer, pkts []core.Packet) error {
	pw := pcapgo.NewWriterNanos(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	for i, p := range pkts {
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(p.SrcPort),
			DstPort: layers.TCPPort(p.DstPort),
			Seq:     uint32(p.Seq),
			Ack:     uint32(p.Ack),
			FIN:     p.Flags.Has(core.FlagFIN),
			SYN:     p.Flags.Has(core.FlagSYN),
			RST:     p.Flags.Has(core.FlagRST),
			PSH:     p.Flags.Has(core.FlagPSH),
			ACK:     p.Flags.Has(core.FlagACK),
			URG:     p.Flags.Has(core.FlagURG),
			ECE:     p.Flags.Has(core.FlagECE),
			CWR:     p.Flags.Has(core.FlagCWR),
			Window:  65535,
		}
		eth := &layers.Ethernet{SrcMAC: fixtureSrcMAC, DstMAC: fixtureDstMAC}

		var ip gopacket.SerializableLayer
		if p.SrcIP.Is4() && p.DstIP.Is4() {
			eth.EthernetType = layers.EthernetTypeIPv4
			ip4 := &layers.IPv4{
				Version:  4,
				TTL:      64,
				Protocol: layers.IPProtocolTCP,
				SrcIP:    p.SrcIP.AsSlice(),
				DstIP:    p.DstIP.AsSlice(),
			}
			if err := tcp.SetNetworkLayerForChecksum(ip4); err != nil {
				return err
			}
			ip = ip4
		} else {
			eth.EthernetType = layers.EthernetTypeIPv6
			ip6 := &layers.IPv6{
				Version:    6,
				HopLimit:   64,
				NextHeader: layers.IPProtocolTCP,
				SrcIP:      as16(p.SrcIP),
				DstIP:      as16(p.DstIP),
			}
			if err := tcp.SetNetworkLayerForChecksum(ip6); err != nil {
				return err
			}
			ip = ip6
		}

		if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(make([]byte, p.Size))); err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: p.Timestamp, CaptureLength: len(data), Length: len(data)}
		if err := pw.WritePacket(ci, data); err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
	}
	return nil
}

func as16(a netip.Addr) net.IP {
	b := a.As16()
	return b[:]
}
