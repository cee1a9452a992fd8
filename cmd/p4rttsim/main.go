package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/irctrakz/p4rtt/pkg/accounting"
	"github.com/irctrakz/p4rtt/pkg/batch"
	"github.com/irctrakz/p4rtt/pkg/config"
	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/logging"
	"github.com/irctrakz/p4rtt/pkg/trace"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command and returns the process exit code, so that
// deferred cleanup runs before the process exits.
func run(args []string) int {
	flags := flag.NewFlagSet("p4rttsim", flag.ContinueOnError)
	var (
		configPath = flags.String("config", "", "configuration file (yaml or json)")
		tracePath  = flags.String("trace", "", "packet trace (pcap, pcapng or csv)")
		outDir     = flags.String("out", "", "output directory, overrides output.dir")
		sweepPath  = flags.String("sweep", "", "parameter grid file; runs every combination")
		workers    = flags.Int("workers", 0, "parallel runs for a sweep (default: one per CPU)")
		prom       = flags.Bool("prom", false, "write metrics.prom for every run")
		listen     = flags.String("listen", "", "serve /health and /metrics on this address while running")
		convert    = flags.String("convert", "", "write the trace to this .csv or .pcap file and exit")
	)
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *tracePath == "" && flags.NArg() > 0 {
		*tracePath = flags.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Errorf("config: %v", err)
		return 1
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *prom {
		cfg.Output.Prometheus = true
	}
	if err := cfg.ApplyLogging(); err != nil {
		logging.Errorf("logging: %v", err)
		return 1
	}

	// Debug logging toggle via DEBUG env (truthy parser)
	dval := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG")))
	if dval == "1" || dval == "true" || dval == "yes" || dval == "on" {
		logging.SetLevel(logging.DebugLevel)
		logging.Infof("DEBUG enabled: verbose logging")
	}

	if *tracePath == "" {
		fmt.Fprintln(os.Stderr, "usage: p4rttsim [flags] -trace <file>")
		flags.PrintDefaults()
		return 2
	}

	start := time.Now()
	pkts, err := trace.Load(*tracePath)
	if err != nil {
		logging.Errorf("trace: %v", err)
		return 1
	}
	logging.Infof("Loaded %d TCP packets from %s in %s", len(pkts), *tracePath, time.Since(start).Round(time.Millisecond))

	if *convert != "" {
		if err := convertTrace(*convert, pkts); err != nil {
			logging.Errorf("convert: %v", err)
			return 1
		}
		logging.Infof("Wrote %d packets to %s", len(pkts), *convert)
		return 0
	}

	cfgs := []config.Config{*cfg}
	if *sweepPath != "" {
		g, err := batch.LoadGrid(*sweepPath)
		if err != nil {
			logging.Errorf("sweep: %v", err)
			return 1
		}
		cfgs = g.Expand(*cfg)
		logging.Infof("Sweep %s expands to %d runs", *sweepPath, len(cfgs))
	}
	runs := batch.Runs(cfgs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := batch.NewRunner(pkts, *workers)
	reg := prometheus.NewRegistry()

	var writeErrs int
	runner.OnResult = func(res batch.Result) {
		dir := batch.RunDir(cfg.Output.Dir, res.Run)
		if err := batch.WriteResult(dir, *tracePath, res); err != nil {
			writeErrs++
			logging.Errorf("Run %s: %v", res.ID, err)
			return
		}
		if *listen != "" && res.Err == nil {
			if err := reg.Register(accounting.NewCollector(prometheus.Labels{"run": res.ID}, res.Accountants...)); err != nil {
				logging.Warnf("Run %s: metrics not registered: %v", res.ID, err)
			}
		}
		logging.Infof("Run %d written to %s", res.Index, dir)
	}

	if *listen != "" {
		srv := newStatusServer(*listen, reg, runner, len(runs))
		go srv.serve()
		defer srv.close()
	}
	if metricsEnabled() {
		go runProgressReporter(ctx, runner, len(runs))
	}

	results := runner.Execute(ctx, runs)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			logging.Errorf("Run %d (%s) failed: %v", res.Index, res.ID, res.Err)
			continue
		}
		logSummary(res)
	}
	if failed > 0 || writeErrs > 0 {
		return 1
	}
	return 0
}

func convertTrace(path string, pkts []core.Packet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = trace.WriteCSV(f, pkts)
	case ".pcap":
		err = trace.WritePcap(f, pkts)
	default:
		return fmt.Errorf("unsupported output format: %s", path)
	}
	if err != nil {
		return err
	}
	return f.Close()
}
