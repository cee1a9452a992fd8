// Package trace reads packet traces (pcap, pcapng and CSV) and writes the
// result files of a run.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/irctrakz/p4rtt/pkg/core"
)

// Source yields packets in capture order.
type Source = core.PacketSource

// SliceSource replays packets held in memory. Several sources may share
// the same slice.
type SliceSource struct {
	pkts []core.Packet
	pos  int
}

// NewSliceSource returns a source over pkts.
func NewSliceSource(pkts []core.Packet) *SliceSource {
	return &SliceSource{pkts: pkts}
}

// Next implements Source.
func (s *SliceSource) Next() (core.Packet, error) {
	if s.pos >= len(s.pkts) {
		return core.Packet{}, io.EOF
	}
	p := s.pkts[s.pos]
	s.pos++
	return p, nil
}

// Len returns the number of packets.
func (s *SliceSource) Len() int { return len(s.pkts) }

// ReadAll drains src.
func ReadAll(src Source) ([]core.Packet, error) {
	var out []core.Packet
	for {
		p, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

// File is a trace opened from disk.
type File struct {
	Source
	f *os.File
}

// Close closes the underlying file.
func (f *File) Close() error { return f.f.Close() }

// Open opens a trace file. ".csv" files are read as CSV; everything else
// is read as pcap or pcapng.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var src Source
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		src, err = NewCSVSource(f)
	} else {
		src, err = NewPcapSource(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	return &File{Source: src, f: f}, nil
}

// Load reads a whole trace file into memory.
func Load(path string) ([]core.Packet, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pkts, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", path, err)
	}
	return pkts, nil
}
