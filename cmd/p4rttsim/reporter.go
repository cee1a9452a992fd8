package main

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/p4rtt/pkg/batch"
	"github.com/irctrakz/p4rtt/pkg/logging"
)

type progressSnapshot struct {
	Timestamp string            `json:"ts"`
	Runs      map[string]uint64 `json:"runs"`
	RT        map[string]uint64 `json:"rt"`
}

// metricsEnabled reports whether periodic progress dumps were requested.
func metricsEnabled() bool {
	return strings.TrimSpace(os.Getenv("METRICS_LOG")) != "" || strings.TrimSpace(os.Getenv("METRICS_INTERVAL")) != ""
}

func runProgressReporter(ctx context.Context, r *batch.Runner, total int) {
	iv := strings.TrimSpace(os.Getenv("METRICS_INTERVAL"))
	if iv == "" {
		iv = "30s"
	}
	d, err := time.ParseDuration(iv)
	if err != nil || d <= 0 {
		d = 30 * time.Second
	}

	format := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_FORMAT")))
	if format == "" {
		format = "text"
	}

	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		dumpProgress(r, total, format)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func progress(r *batch.Runner, total int) progressSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	runs := r.Metrics()
	runs["total"] = uint64(total)
	runs["workers"] = uint64(r.Workers())

	return progressSnapshot{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Runs:      runs,
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"sys":        ms.Sys,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
}

func dumpProgress(r *batch.Runner, total int, format string) {
	snap := progress(r, total)
	switch format {
	case "json":
		b, _ := json.Marshal(snap)
		logging.Infof("metrics: %s", string(b))
	default:
		logging.Infof("metrics: ts=%s runs: done=%d/%d failed=%d workers=%d | rt: heap=%dMi inuse=%dMi gor=%d gc=%d",
			snap.Timestamp,
			snap.Runs["runsCompleted"], snap.Runs["total"], snap.Runs["runsFailed"], snap.Runs["workers"],
			snap.RT["heap_alloc"]/(1024*1024), snap.RT["heap_inuse"]/(1024*1024), snap.RT["goroutines"], snap.RT["num_gc"],
		)
	}
}

// logSummary logs the outcome of one successful run, one line per table.
func logSummary(res batch.Result) {
	s := res.Summary
	logging.InfoWithFields(logrus.Fields{
		"run":       res.ID,
		"index":     res.Index,
		"packets":   s.Packets,
		"seq":       s.Seq,
		"ack":       s.Ack,
		"transit":   s.Transit,
		"unsampled": s.Unsampled,
		"reordered": s.Reordered,
	}, "Run %d: %d RTT samples over %s of trace", res.Index, s.Samples, s.Duration().Round(time.Millisecond))

	for _, t := range s.Tables {
		logging.InfoWithFields(logrus.Fields{
			"run":   res.ID,
			"table": t.Table,
		}, "  %-12s inserts %d/%d (%.2f%%) updates %d/%d evictions %d matches %d occupancy %d/%d (%.2f%%)",
			t.Table, t.InsertSuccesses, t.InsertAttempts, t.InsertSuccessRate,
			t.UpdateSuccesses, t.UpdateAttempts, t.Evictions, t.Matches,
			t.Occupancy, t.Capacity, t.Utilization)
	}
}
