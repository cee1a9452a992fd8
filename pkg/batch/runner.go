package batch

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/p4rtt/pkg/accounting"
	"github.com/irctrakz/p4rtt/pkg/config"
	"github.com/irctrakz/p4rtt/pkg/core"
	"github.com/irctrakz/p4rtt/pkg/logging"
	"github.com/irctrakz/p4rtt/pkg/sim"
	"github.com/irctrakz/p4rtt/pkg/trace"
)

// Run is one configuration of a sweep.
type Run struct {
	// ID uniquely identifies the run across sweeps.
	ID string `json:"run_id"`

	// Index is the position of the run in the expanded grid.
	Index int `json:"index"`

	Config config.Config `json:"config"`
}

// Result is the outcome of one run.
type Result struct {
	Run

	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished"`
	Summary  sim.Summary `json:"summary"`

	// Samples holds the RTT samples when the configuration asks for them.
	Samples []sim.RTTSample `json:"-"`

	Accountants []*accounting.Accountant `json:"-"`

	Err error `json:"-"`
}

// Runner replays one in-memory trace under many configurations on a
// bounded pool of workers. Every run builds its own tables; only the
// packet slice is shared, and it is never written.
type Runner struct {
	packets     []core.Packet
	workerCount int

	// OnResult, when set, is called for each finished run. Calls are
	// serialised.
	OnResult func(Result)

	completed uint64
	failed    uint64
}

// NewRunner creates a runner over packets. A non-positive workerCount
// uses one worker per CPU; P4RTT_BATCH_WORKERS overrides both.
func NewRunner(packets []core.Packet, workerCount int) *Runner {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if v := strings.TrimSpace(os.Getenv("P4RTT_BATCH_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workerCount = n
		}
	}
	return &Runner{packets: packets, workerCount: workerCount}
}

// Workers returns the pool size.
func (r *Runner) Workers() int { return r.workerCount }

// Runs assigns an id to each configuration.
func Runs(cfgs []config.Config) []Run {
	runs := make([]Run, len(cfgs))
	for i, c := range cfgs {
		runs[i] = Run{ID: uuid.NewString(), Index: i, Config: c}
	}
	return runs
}

// Execute runs every configuration and returns the results in run order.
// Runs that had not started when ctx was cancelled carry ctx's error.
func (r *Runner) Execute(ctx context.Context, runs []Run) []Result {
	results := make([]Result, len(runs))
	jobs := make(chan int)

	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := r.workerCount
	if workers > len(runs) {
		workers = len(runs)
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			logging.Debugf("Batch worker %d started", id)
			for idx := range jobs {
				res := r.execute(ctx, runs[idx])
				results[idx] = res
				if res.Err != nil {
					atomic.AddUint64(&r.failed, 1)
				}
				atomic.AddUint64(&r.completed, 1)
				if r.OnResult != nil {
					mu.Lock()
					r.OnResult(res)
					mu.Unlock()
				}
			}
			logging.Debugf("Batch worker %d stopped", id)
		}(i)
	}

	logging.Infof("Batch started: %d runs on %d workers", len(runs), workers)

	next := 0
feed:
	for ; next < len(runs); next++ {
		select {
		case jobs <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(runs); i++ {
		results[i] = Result{Run: runs[i], Err: ctx.Err()}
	}

	logging.Infof("Batch finished: %d completed, %d failed",
		atomic.LoadUint64(&r.completed), atomic.LoadUint64(&r.failed))
	return results
}

func (r *Runner) execute(ctx context.Context, run Run) Result {
	res := Result{Run: run, Started: time.Now()}
	log := logging.Component("batch").WithFields(logrus.Fields{"run": run.ID, "index": run.Index})

	sc, err := run.Config.Sim()
	if err != nil {
		res.Err = err
		return res
	}
	s, err := sim.New(sc)
	if err != nil {
		res.Err = err
		log.WithError(err).Error("Invalid run configuration")
		return res
	}

	if !run.Config.Output.Samples {
		s.OnSample(func(sim.RTTSample) {})
	}

	res.Summary, res.Err = s.Run(ctx, trace.NewSliceSource(r.packets))
	res.Finished = time.Now()
	res.Accountants = s.Accountants()
	if run.Config.Output.Samples {
		res.Samples = s.Samples()
	}

	log.WithFields(logrus.Fields{
		"samples": res.Summary.Samples,
		"elapsed": res.Finished.Sub(res.Started).Round(time.Millisecond),
	}).Info("Run finished")
	return res
}

// Metrics returns counters for the runner.
func (r *Runner) Metrics() map[string]uint64 {
	return map[string]uint64{
		"runsCompleted": atomic.LoadUint64(&r.completed),
		"runsFailed":    atomic.LoadUint64(&r.failed),
	}
}
