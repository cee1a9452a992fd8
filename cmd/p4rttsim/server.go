package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irctrakz/p4rtt/pkg/batch"
	"github.com/irctrakz/p4rtt/pkg/logging"
)

// statusServer exposes liveness, batch progress and the table metrics of
// finished runs while a batch executes.
type statusServer struct {
	srv *http.Server
}

func newStatusServer(addr string, reg *prometheus.Registry, r *batch.Runner, total int) *statusServer {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "p4rtt_batch_runs_total",
			Help: "Runs in the batch",
		}, func() float64 { return float64(total) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "p4rtt_batch_runs_completed",
			Help: "Runs finished so far, failed ones included",
		}, func() float64 { return float64(r.Metrics()["runsCompleted"]) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "p4rtt_batch_runs_failed",
			Help: "Runs that returned an error",
		}, func() float64 { return float64(r.Metrics()["runsFailed"]) }),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/progress", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(progress(r, total))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &statusServer{srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
}

func (s *statusServer) serve() {
	logging.Infof("Status server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Errorf("Status server: %v", err)
	}
}

func (s *statusServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}
