package trace

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/irctrakz/p4rtt/pkg/accounting"
	"github.com/irctrakz/p4rtt/pkg/sim"
)

// SampleHeader is the column layout of samples.csv.
var SampleHeader = []string{
	"src_ip", "src_port", "dst_ip", "dst_port",
	"seq", "ack", "sent_us", "acked_us", "rtt_ms",
}

// SampleWriter writes RTT samples as CSV.
type SampleWriter struct {
	w   *csv.Writer
	row []string
	n   int
}

// NewSampleWriter writes the header to w.
func NewSampleWriter(w io.Writer) (*SampleWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(SampleHeader); err != nil {
		return nil, err
	}
	return &SampleWriter{w: cw, row: make([]string, len(SampleHeader))}, nil
}

// Write appends one sample.
func (s *SampleWriter) Write(sample sim.RTTSample) error {
	s.row[0] = sample.Flow.SrcIP.String()
	s.row[1] = strconv.Itoa(int(sample.Flow.SrcPort))
	s.row[2] = sample.Flow.DstIP.String()
	s.row[3] = strconv.Itoa(int(sample.Flow.DstPort))
	s.row[4] = strconv.FormatUint(sample.Seq, 10)
	s.row[5] = strconv.FormatUint(sample.Ack, 10)
	s.row[6] = strconv.FormatInt(sample.SentAt.UnixMicro(), 10)
	s.row[7] = strconv.FormatInt(sample.AckedAt.UnixMicro(), 10)
	s.row[8] = strconv.FormatFloat(sample.Millis(), 'f', 3, 64)
	s.n++
	return s.w.Write(s.row)
}

// Count returns the number of samples written.
func (s *SampleWriter) Count() int { return s.n }

// Flush flushes buffered rows.
func (s *SampleWriter) Flush() error {
	s.w.Flush()
	return s.w.Error()
}

// SnapshotHeader is the column layout of the snapshot time series.
var SnapshotHeader = []string{
	"table", "elapsed_ms", "processed", "dropped",
	"insert_attempts", "insert_successes", "insert_failures",
	"update_attempts", "update_successes", "update_failures",
	"recirculations", "de_recirculations", "evictions", "matches",
	"occupancy", "capacity",
	"insert_success_rate", "update_success_rate", "utilization",
}

// WriteSnapshots writes a table's snapshot time series as CSV.
func WriteSnapshots(w io.Writer, snaps []accounting.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SnapshotHeader); err != nil {
		return err
	}
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	for _, s := range snaps {
		row := []string{
			s.Table, strconv.FormatInt(s.ElapsedMs, 10), u(s.Processed), u(s.Dropped),
			u(s.InsertAttempts), u(s.InsertSuccesses), u(s.InsertFailures),
			u(s.UpdateAttempts), u(s.UpdateSuccesses), u(s.UpdateFailures),
			u(s.Recirculations), u(s.DeRecirculations), u(s.Evictions), u(s.Matches),
			strconv.Itoa(s.Occupancy), strconv.Itoa(s.Capacity),
			f(s.InsertSuccessRate), f(s.UpdateSuccessRate), f(s.Utilization),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
