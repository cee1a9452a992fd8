package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/p4rtt/pkg/core"
)

// TestPcapRoundTrip tests WritePcap against PcapSource.
func TestPcapRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePcap(&buf, fixture()))

	src, err := NewPcapSource(&buf)
	require.NoError(t, err)
	got, err := ReadAll(src)
	require.NoError(t, err)

	assert.Equal(t, fixture(), got)
	assert.Equal(t, uint64(3), src.Frames())
	assert.Zero(t, src.Skipped())
}

// TestPcapSkipsNonTCP tests that other protocols are skipped.
func TestPcapSkipsNonTCP(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: []byte{10, 0, 0, 1}, DstIP: []byte{8, 8, 8, 8}}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	sb := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(sb, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		&layers.Ethernet{SrcMAC: fixtureSrcMAC, DstMAC: fixtureDstMAC, EthernetType: layers.EthernetTypeIPv4},
		ip, udp, gopacket.Payload([]byte("query"))))
	data := sb.Bytes()
	require.NoError(t, w.WritePacket(gopacket.CaptureInfo{Timestamp: t0, CaptureLength: len(data), Length: len(data)}, data))

	for _, f := range frames(t, fixture()[:1]) {
		require.NoError(t, w.WritePacket(f.ci, f.data))
	}

	src, err := NewPcapSource(&buf)
	require.NoError(t, err)
	got, err := ReadAll(src)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, uint64(0), got[0].No)
	assert.Equal(t, uint64(999), got[0].Seq)
	assert.Equal(t, uint64(1), src.Skipped())
}

// TestPcapNg tests reading the pcapng format.
func TestPcapNg(t *testing.T) {
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, f := range frames(t, fixture()) {
		require.NoError(t, w.WritePacket(f.ci, f.data))
	}
	require.NoError(t, w.Flush())

	src, err := NewPcapSource(&buf)
	require.NoError(t, err)
	got, err := ReadAll(src)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range fixture() {
		if !got[i].Timestamp.Equal(want.Timestamp) {
			t.Errorf("Expected packet %d at %v, got %v", i, want.Timestamp, got[i].Timestamp)
		}
		got[i].Timestamp = want.Timestamp
	}
	assert.Equal(t, fixture(), got)
}

// TestOpen tests opening trace files by extension.
func TestOpen(t *testing.T) {
	dir := t.TempDir()

	pcapPath := filepath.Join(dir, "trace.pcap")
	f, err := os.Create(pcapPath)
	require.NoError(t, err)
	require.NoError(t, WritePcap(f, fixture()))
	require.NoError(t, f.Close())

	csvPath := filepath.Join(dir, "trace.CSV")
	f, err = os.Create(csvPath)
	require.NoError(t, err)
	require.NoError(t, WriteCSV(f, fixture()))
	require.NoError(t, f.Close())

	for _, path := range []string{pcapPath, csvPath} {
		pkts, err := Load(path)
		require.NoError(t, err, path)
		assert.Equal(t, fixture(), pkts, path)
	}

	_, err = Open(filepath.Join(dir, "missing.pcap"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.pcap")
	require.NoError(t, os.WriteFile(garbage, []byte("not a capture"), 0644))
	_, err = Open(garbage)
	assert.Error(t, err)
}

type frame struct {
	ci   gopacket.CaptureInfo
	data []byte
}

// frames renders packets to raw Ethernet frames through WritePcap.
func frames(t *testing.T, pkts []core.Packet) []frame {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WritePcap(&buf, pkts))
	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)

	var out []frame
	for range pkts {
		data, ci, err := r.ReadPacketData()
		require.NoError(t, err)
		out = append(out, frame{ci: ci, data: data})
	}
	return out
}
