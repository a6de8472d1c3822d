package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/clipforge/clipforge/pkg/store"
)

// Collector exposes pipeline metrics in Prometheus text format. Job
// state gauges are derived from the store on scrape; attempt and
// stage counters are registered instruments updated by the pipeline.
type Collector struct {
	store     store.Store
	startTime time.Time

	jobsSubmitted  promclient.Counter
	jobsCompleted  *promclient.CounterVec
	jobsFailed     promclient.Counter
	stageOutcomes  *promclient.CounterVec
	stageDurations *promclient.HistogramVec
}

func NewCollector(s store.Store) *Collector {
	c := &Collector{
		store:     s,
		startTime: time.Now(),
		jobsSubmitted: promclient.NewCounter(promclient.CounterOpts{
			Name: "clipforge_jobs_submitted_total",
			Help: "Total jobs accepted for processing",
		}),
		jobsCompleted: promclient.NewCounterVec(promclient.CounterOpts{
			Name: "clipforge_jobs_completed_total",
			Help: "Total jobs finished successfully, by delivery mode",
		}, []string{"mode"}), // "styled" or "fallback"
		jobsFailed: promclient.NewCounter(promclient.CounterOpts{
			Name: "clipforge_jobs_failed_total",
			Help: "Total jobs that reached the error state",
		}),
		stageOutcomes: promclient.NewCounterVec(promclient.CounterOpts{
			Name: "clipforge_stage_outcomes_total",
			Help: "Stage executions by stage name and outcome",
		}, []string{"stage", "outcome"}),
		stageDurations: promclient.NewHistogramVec(promclient.HistogramOpts{
			Name:    "clipforge_stage_duration_seconds",
			Help:    "Wall-clock duration of pipeline stages",
			Buckets: promclient.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
	}

	promclient.MustRegister(c.jobsSubmitted)
	promclient.MustRegister(c.jobsCompleted)
	promclient.MustRegister(c.jobsFailed)
	promclient.MustRegister(c.stageOutcomes)
	promclient.MustRegister(c.stageDurations)

	return c
}

// RecordJobSubmitted increments the submission counter
func (c *Collector) RecordJobSubmitted() {
	c.jobsSubmitted.Inc()
}

// RecordJobCompleted counts a success; mode is "styled" or "fallback"
func (c *Collector) RecordJobCompleted(mode string) {
	c.jobsCompleted.WithLabelValues(mode).Inc()
}

// RecordJobFailed counts a terminal failure
func (c *Collector) RecordJobFailed() {
	c.jobsFailed.Inc()
}

// RecordStage counts one stage execution and its duration
func (c *Collector) RecordStage(stage, outcome string, duration time.Duration) {
	c.stageOutcomes.WithLabelValues(stage, outcome).Inc()
	c.stageDurations.WithLabelValues(stage).Observe(duration.Seconds())
}

// ServeHTTP writes store-derived gauges followed by the registered
// instruments, all in Prometheus text exposition format.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	jobs := c.store.ListJobs()

	jobsByStatus := make(map[string]int)
	totalAttempts := 0
	for _, job := range jobs {
		jobsByStatus[string(job.Status)]++
		totalAttempts += job.Attempts
	}

	fmt.Fprintf(w, "# HELP clipforge_uptime_seconds Time since the daemon started\n")
	fmt.Fprintf(w, "# TYPE clipforge_uptime_seconds gauge\n")
	fmt.Fprintf(w, "clipforge_uptime_seconds %d\n", int64(time.Since(c.startTime).Seconds()))

	fmt.Fprintf(w, "\n# HELP clipforge_jobs_total Total jobs tracked by the store\n")
	fmt.Fprintf(w, "# TYPE clipforge_jobs_total gauge\n")
	fmt.Fprintf(w, "clipforge_jobs_total %d\n", len(jobs))

	fmt.Fprintf(w, "\n# HELP clipforge_jobs_by_status Jobs by lifecycle state\n")
	fmt.Fprintf(w, "# TYPE clipforge_jobs_by_status gauge\n")
	for status, count := range jobsByStatus {
		fmt.Fprintf(w, "clipforge_jobs_by_status{status=\"%s\"} %d\n", status, count)
	}

	fmt.Fprintf(w, "\n# HELP clipforge_pipeline_attempts_total Pipeline attempts across all tracked jobs\n")
	fmt.Fprintf(w, "# TYPE clipforge_pipeline_attempts_total counter\n")
	fmt.Fprintf(w, "clipforge_pipeline_attempts_total %d\n", totalAttempts)

	fmt.Fprintf(w, "\n")

	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}
	w.Write(buf.Bytes())
}
