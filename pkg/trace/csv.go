package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/irctrakz/p4rtt/pkg/core"
)

// Header is the column layout of CSV traces.
var Header = colNames[:]

const (
	colNo = iota
	colTimestamp
	colSrcIP
	colDstIP
	colSrcPort
	colDstPort
	colFlags
	colSeq
	colAck
	colSize
)

// CSVSource reads a CSV trace. Columns are located by header name, so
// extra columns and any column order are accepted.
type CSVSource struct {
	r    *csv.Reader
	cols [len(colNames)]int
	line int
}

var colNames = [...]string{
	"pkt_no", "timestamp_us",
	"src_ip", "dst_ip", "src_port", "dst_port",
	"flags", "seq", "ack", "size",
}

// NewCSVSource reads the header of r.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}

	s := &CSVSource{r: cr, line: 1}
	for c, name := range colNames {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		s.cols[c] = i
	}
	return s, nil
}

// Next implements Source.
func (s *CSVSource) Next() (core.Packet, error) {
	rec, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return core.Packet{}, io.EOF
	}
	s.line++
	if err != nil {
		return core.Packet{}, err
	}
	p, err := s.parse(rec)
	if err != nil {
		return core.Packet{}, fmt.Errorf("line %d: %w", s.line, err)
	}
	return p, nil
}

func (s *CSVSource) parse(rec []string) (core.Packet, error) {
	field := func(c int) string { return rec[s.cols[c]] }
	var (
		p   core.Packet
		err error
	)

	if p.No, err = strconv.ParseUint(field(colNo), 10, 64); err != nil {
		return p, fmt.Errorf("pkt_no: %w", err)
	}
	us, err := strconv.ParseInt(field(colTimestamp), 10, 64)
	if err != nil {
		return p, fmt.Errorf("timestamp_us: %w", err)
	}
	p.Timestamp = time.UnixMicro(us).UTC()

	if p.SrcIP, err = netip.ParseAddr(field(colSrcIP)); err != nil {
		return p, fmt.Errorf("src_ip: %w", err)
	}
	if p.DstIP, err = netip.ParseAddr(field(colDstIP)); err != nil {
		return p, fmt.Errorf("dst_ip: %w", err)
	}
	if p.SrcPort, err = parsePort(field(colSrcPort)); err != nil {
		return p, fmt.Errorf("src_port: %w", err)
	}
	if p.DstPort, err = parsePort(field(colDstPort)); err != nil {
		return p, fmt.Errorf("dst_port: %w", err)
	}

	p.Flags = core.ParseFlags(field(colFlags))

	if p.Seq, err = strconv.ParseUint(field(colSeq), 10, 64); err != nil {
		return p, fmt.Errorf("seq: %w", err)
	}
	if p.Ack, err = strconv.ParseUint(field(colAck), 10, 64); err != nil {
		return p, fmt.Errorf("ack: %w", err)
	}
	size, err := strconv.ParseUint(field(colSize), 10, 32)
	if err != nil {
		return p, fmt.Errorf("size: %w", err)
	}
	p.Size = uint32(size)
	return p, nil
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	return uint16(v), err
}

// WriteCSV writes pkts as a CSV trace.
func WriteCSV(w io.Writer, pkts []core.Packet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	row := make([]string, len(Header))
	for _, p := range pkts {
		row[colNo] = strconv.FormatUint(p.No, 10)
		row[colTimestamp] = strconv.FormatInt(p.Timestamp.UnixMicro(), 10)
		row[colSrcIP] = p.SrcIP.String()
		row[colDstIP] = p.DstIP.String()
		row[colSrcPort] = strconv.Itoa(int(p.SrcPort))
		row[colDstPort] = strconv.Itoa(int(p.DstPort))
		row[colFlags] = p.Flags.String()
		row[colSeq] = strconv.FormatUint(p.Seq, 10)
		row[colAck] = strconv.FormatUint(p.Ack, 10)
		row[colSize] = strconv.FormatUint(uint64(p.Size), 10)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
