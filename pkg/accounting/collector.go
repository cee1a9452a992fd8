package accounting

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the counters of a set of accountants as Prometheus
// metrics labelled by table.
type Collector struct {
	accountants []*Accountant

	processed       *prometheus.Desc
	dropped         *prometheus.Desc
	insertAttempts  *prometheus.Desc
	insertSuccesses *prometheus.Desc
	insertFailures  *prometheus.Desc
	updateAttempts  *prometheus.Desc
	updateSuccesses *prometheus.Desc
	updateFailures  *prometheus.Desc
	recirculations  *prometheus.Desc
	deRecirculation *prometheus.Desc
	evictions       *prometheus.Desc
	matches         *prometheus.Desc
	occupancy       *prometheus.Desc
	capacity        *prometheus.Desc
}

// NewCollector builds a collector. constLabels are attached to every
// metric (for example the run id).
func NewCollector(constLabels prometheus.Labels, accountants ...*Accountant) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc("p4rtt_table_"+name, help, append([]string{"table"}, labels...), constLabels)
	}
	return &Collector{
		accountants:     accountants,
		processed:       desc("packets_processed_total", "Packets that reached the table's stage"),
		dropped:         desc("packets_dropped_total", "Packets passed on without a table operation"),
		insertAttempts:  desc("insert_attempts_total", "Insertions started"),
		insertSuccesses: desc("insert_successes_total", "Insertions that stored, merged or evicted a record"),
		insertFailures:  desc("insert_failures_total", "Insertions that exhausted the attempt budget"),
		updateAttempts:  desc("update_attempts_total", "In-place updates attempted"),
		updateSuccesses: desc("update_successes_total", "In-place updates that found their key"),
		updateFailures:  desc("update_failures_total", "In-place updates that missed"),
		recirculations:  desc("recirculations_total", "Pipeline recirculations charged"),
		deRecirculation: desc("de_recirculations_total", "Pipeline recirculations refunded"),
		evictions:       desc("evictions_total", "Records evicted, by reason", "reason"),
		matches:         desc("matches_total", "Records removed by an RTT match"),
		occupancy:       desc("occupancy", "Records currently stored"),
		capacity:        desc("capacity", "Slots available"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.processed, c.dropped,
		c.insertAttempts, c.insertSuccesses, c.insertFailures,
		c.updateAttempts, c.updateSuccesses, c.updateFailures,
		c.recirculations, c.deRecirculation, c.evictions,
		c.matches, c.occupancy, c.capacity,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	for _, a := range c.accountants {
		n := a.Name()
		s := a.Counters()
		counter(c.processed, s.Processed, n)
		counter(c.dropped, s.Dropped, n)
		counter(c.insertAttempts, s.InsertAttempts, n)
		counter(c.insertSuccesses, s.InsertSuccesses, n)
		counter(c.insertFailures, s.InsertFailures, n)
		counter(c.updateAttempts, s.UpdateAttempts, n)
		counter(c.updateSuccesses, s.UpdateSuccesses, n)
		counter(c.updateFailures, s.UpdateFailures, n)
		counter(c.recirculations, s.Recirculations, n)
		counter(c.deRecirculation, s.DeRecirculations, n)
		counter(c.matches, s.Matches, n)
		for _, r := range a.ReasonNames() {
			counter(c.evictions, a.reasons[r], n, r)
		}
		ch <- prometheus.MustNewConstMetric(c.occupancy, prometheus.GaugeValue, float64(s.Occupancy), n)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(a.Capacity()), n)
	}
}

// WriteTextfile writes the accountants' metrics in the Prometheus text
// exposition format, for the node exporter's textfile collector.
func WriteTextfile(path string, constLabels prometheus.Labels, accountants ...*Accountant) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(constLabels, accountants...)); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
