// Package metrics exports pipeline run events as Prometheus metrics.
//
// A Reporter is plugged into the runner next to the log reporter:
//
//	reg := prometheus.NewRegistry()
//	rep := metrics.NewReporter(reg)
//	runner := pipeline.NewRunner(pipeline.WithReporter(pipeline.MultiReporter{logRep, rep}))
//
// Counters are labelled by pipeline and component so that a long-running
// tool exposes one series per source, stage and sink.
package metrics

import (
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/binarymachines/mercury/internal/pipeline"
	"github.com/binarymachines/mercury/pkg/errors"
)

const namespace = "mercury"

var statuses = []pipeline.Status{
	pipeline.StatusBuilt,
	pipeline.StatusRunning,
	pipeline.StatusSucceeded,
	pipeline.StatusPartiallyFailed,
	pipeline.StatusFailed,
}

// Reporter implements pipeline.Reporter on top of Prometheus collectors.
type Reporter struct {
	runs              *prometheus.CounterVec
	recordsRead       *prometheus.CounterVec
	recordsWritten    *prometheus.CounterVec
	recordsDropped    *prometheus.CounterVec
	connectorFailures *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	throughput        *prometheus.GaugeVec
	status            *prometheus.GaugeVec

	mu       sync.Mutex
	pipeline map[string]string // run id -> pipeline name
}

// NewReporter creates the collectors and registers them with reg. The
// process collectors (resident memory, CPU) are registered as well.
func NewReporter(reg prometheus.Registerer) *Reporter {
	f := promauto.With(reg)
	r := &Reporter{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status",
		}, []string{"pipeline", "status"}),
		recordsRead: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Records admitted from the source",
		}, []string{"pipeline"}),
		recordsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records acknowledged by a sink",
		}, []string{"pipeline", "sink"}),
		recordsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped by component and error type",
		}, []string{"pipeline", "component", "type"}),
		connectorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_failures_total",
			Help:      "Failed connector attempts, retried or not",
		}, []string{"pipeline", "connector"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"pipeline"}),
		throughput: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_records_per_second",
			Help:      "Records read per second over the last run",
		}, []string{"pipeline"}),
		status: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_status",
			Help:      "1 for the current status of the last run of a pipeline",
		}, []string{"pipeline", "status"}),
		pipeline: make(map[string]string),
	}
	registerProcess(f)
	return r
}

func (r *Reporter) RunStarted(res *pipeline.RunResult) {
	r.mu.Lock()
	r.pipeline[res.RunID] = res.Pipeline
	r.mu.Unlock()
	r.setStatus(res.Pipeline, res.Status)
}

func (r *Reporter) StateChanged(runID string, _, to pipeline.Status) {
	r.setStatus(r.name(runID), to)
}

func (r *Reporter) RecordDropped(runID, component string, err error) {
	r.recordsDropped.WithLabelValues(r.name(runID), component, string(errors.TypeOf(err))).Inc()
}

func (r *Reporter) ConnectorFailed(runID, connector string, _ int, _ error) {
	r.connectorFailures.WithLabelValues(r.name(runID), connector).Inc()
}

// RunEnded books the totals of a run. Read and written counts are taken
// from the result rather than per event.
func (r *Reporter) RunEnded(res *pipeline.RunResult) {
	r.mu.Lock()
	delete(r.pipeline, res.RunID)
	r.mu.Unlock()

	r.setStatus(res.Pipeline, res.Status)
	r.runs.WithLabelValues(res.Pipeline, string(res.Status)).Inc()
	r.recordsRead.WithLabelValues(res.Pipeline).Add(float64(res.RecordsRead))
	for sink, n := range res.Written {
		r.recordsWritten.WithLabelValues(res.Pipeline, sink).Add(float64(n))
	}
	if secs := res.Elapsed.Seconds(); secs > 0 {
		r.runDuration.WithLabelValues(res.Pipeline).Observe(secs)
		r.throughput.WithLabelValues(res.Pipeline).Set(float64(res.RecordsRead) / secs)
	}
}

func (r *Reporter) name(runID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.pipeline[runID]; ok {
		return n
	}
	return "unknown"
}

func (r *Reporter) setStatus(name string, current pipeline.Status) {
	for _, s := range statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		r.status.WithLabelValues(name, string(s)).Set(v)
	}
}

// registerProcess exposes resident memory and CPU of this process.
func registerProcess(f promauto.Factory) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_resident_memory_bytes",
		Help:      "Resident set size of the tool",
	}, func() float64 {
		mem, err := proc.MemoryInfo()
		if err != nil {
			return 0
		}
		return float64(mem.RSS)
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_cpu_percent",
		Help:      "CPU usage of the tool since it started",
	}, func() float64 {
		pct, err := proc.CPUPercent()
		if err != nil {
			return 0
		}
		return pct
	})
}
