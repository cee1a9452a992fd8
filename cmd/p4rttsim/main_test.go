package main

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/p4rtt/pkg/batch"
	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/trace"
)

// writeTrace writes a CSV trace of n flows, each one segment and its ack.
func writeTrace(t *testing.T, n int) string {
	t.Helper()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := netip.MustParseAddr("192.168.1.10")
	out := netip.MustParseAddr("198.51.100.7")

	var pkts []core.Packet
	for i := 0; i < n; i++ {
		port := uint16(40000 + i)
		sent := t0.Add(time.Duration(i) * 10 * time.Millisecond)
		pkts = append(pkts,
			core.Packet{No: uint64(2 * i), Timestamp: sent, SrcIP: in, DstIP: out, SrcPort: port, DstPort: 443,
				Flags: core.ParseFlags("AP"), Seq: 1000, Size: 100},
			core.Packet{No: uint64(2*i + 1), Timestamp: sent.Add(3 * time.Millisecond), SrcIP: out, DstIP: in, SrcPort: 443, DstPort: port,
				Flags: core.ParseFlags("A"), Ack: 1100},
		)
	}

	path := filepath.Join(t.TempDir(), "trace.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, trace.WriteCSV(f, pkts))
	require.NoError(t, f.Close())
	return path
}

func TestRunUsage(t *testing.T) {
	if code := run(nil); code != 2 {
		t.Errorf("Expected exit code 2 without a trace, got %d", code)
	}
	assert.Equal(t, 2, run([]string{"-no-such-flag"}))
}

func TestRunSingle(t *testing.T) {
	tracePath := writeTrace(t, 3)
	out := t.TempDir()

	require.Equal(t, 0, run([]string{"-out", out, "-prom", tracePath}))

	dirs, err := filepath.Glob(filepath.Join(out, "run_0000_*"))
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	for _, name := range []string{batch.ManifestFile, batch.ConfigFile, batch.SamplesFile, batch.MetricsFile} {
		_, err := os.Stat(filepath.Join(dirs[0], name))
		assert.NoError(t, err, name)
	}
}

func TestRunSweep(t *testing.T) {
	tracePath := writeTrace(t, 2)
	out := t.TempDir()
	grid := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(grid, []byte("enableApprox: [false, true]\n"), 0644))

	require.Equal(t, 0, run([]string{"-trace", tracePath, "-out", out, "-sweep", grid, "-workers", "2"}))

	dirs, err := filepath.Glob(filepath.Join(out, "run_*"))
	require.NoError(t, err)
	assert.Len(t, dirs, 2)

	assert.Equal(t, 1, run([]string{"-trace", tracePath, "-out", out, "-sweep", filepath.Join(out, "missing.yaml")}))
}

func TestRunConvert(t *testing.T) {
	tracePath := writeTrace(t, 4)
	pcapPath := filepath.Join(t.TempDir(), "trace.pcap")

	require.Equal(t, 0, run([]string{"-trace", tracePath, "-convert", pcapPath}))

	pkts, err := trace.Load(pcapPath)
	require.NoError(t, err)
	assert.Len(t, pkts, 8)

	assert.Equal(t, 1, run([]string{"-trace", tracePath, "-convert", filepath.Join(t.TempDir(), "trace.txt")}))
	assert.Equal(t, 1, run([]string{"-trace", filepath.Join(t.TempDir(), "missing.csv")}))
}
