package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/irctrakz/p4rtt/pkg/accounting"
	"github.com/irctrakz/p4rtt/pkg/trace"
)

// Output file names inside a run directory.
const (
	ManifestFile = "manifest.json"
	ConfigFile   = "config.yaml"
	SamplesFile  = "samples.csv"
	MetricsFile  = "metrics.prom"
)

// Manifest describes a finished run.
type Manifest struct {
	Result
	Trace string `json:"trace"`
	Error string `json:"error,omitempty"`
}

// RunDir returns the directory of a run below root.
func RunDir(root string, run Run) string {
	return filepath.Join(root, fmt.Sprintf("run_%04d_%s", run.Index, run.ID[:8]))
}

// WriteResult writes the files of one run into dir: the manifest, the
// configuration used and, as configured, the samples, the snapshot time
// series and a Prometheus textfile.
func WriteResult(dir, tracePath string, res Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	m := Manifest{Result: res, Trace: tracePath}
	if res.Err != nil {
		m.Error = res.Err.Error()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := res.Config.SaveToFile(filepath.Join(dir, ConfigFile)); err != nil {
		return err
	}

	out := res.Config.Output
	if out.Samples {
		if err := writeSamples(filepath.Join(dir, SamplesFile), res); err != nil {
			return err
		}
	}
	if out.Snapshots {
		for _, a := range res.Accountants {
			if err := writeSnapshots(filepath.Join(dir, a.Name()+"_snapshots.csv"), a); err != nil {
				return err
			}
		}
	}
	if out.Prometheus {
		labels := prometheus.Labels{"run": res.ID}
		if err := accounting.WriteTextfile(filepath.Join(dir, MetricsFile), labels, res.Accountants...); err != nil {
			return err
		}
	}
	return nil
}

func writeSamples(path string, res Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create samples file: %w", err)
	}
	defer f.Close()

	w, err := trace.NewSampleWriter(f)
	if err != nil {
		return err
	}
	for _, s := range res.Samples {
		if err := w.Write(s); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func writeSnapshots(path string, a *accounting.Accountant) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	if err := trace.WriteSnapshots(f, a.Snapshots()); err != nil {
		return fmt.Errorf("failed to write snapshots: %w", err)
	}
	return f.Close()
}
