package cli

import (
	"sync"
	"time"

	"github.com/binarymachines/mercury/internal/pipeline"
)

// Status keeps the latest run state for the /status endpoint. It is a
// pipeline.Reporter.
type Status struct {
	tool    string
	started time.Time

	mu       sync.RWMutex
	current  pipeline.Status
	runs     int
	failures int
	rate     float64
	last     *pipeline.RunResult
}

// StatusSnapshot is the body of /status.
type StatusSnapshot struct {
	Tool              string              `json:"tool"`
	Version           string              `json:"version"`
	Uptime            string              `json:"uptime"`
	Status            pipeline.Status     `json:"status,omitempty"`
	Runs              int                 `json:"runs"`
	ConnectorFailures int                 `json:"connector_failures"`
	RecordsPerSecond  float64             `json:"records_per_second,omitempty"`
	LastRun           *pipeline.RunResult `json:"last_run,omitempty"`
}

var _ pipeline.ProgressReporter = (*Status)(nil)

// NewStatus creates the status of a tool process.
func NewStatus(tool string) *Status {
	return &Status{tool: tool, started: time.Now()}
}

func (s *Status) RunStarted(res *pipeline.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.current = res.Status
	s.last = res
}

func (s *Status) StateChanged(_ string, _, to pipeline.Status) {
	s.mu.Lock()
	s.current = to
	s.mu.Unlock()
}

func (s *Status) RecordDropped(string, string, error) {}

func (s *Status) ConnectorFailed(string, string, int, error) {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *Status) RunEnded(res *pipeline.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = res.Status
	s.rate = 0
	s.last = res
}

// Progress keeps the live counters of the run in flight.
func (s *Status) Progress(res *pipeline.RunResult, recordsPerSecond float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = recordsPerSecond
	s.last = res
}

// Snapshot returns the current state.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusSnapshot{
		Tool:              s.tool,
		Version:           Version,
		Uptime:            time.Since(s.started).Round(time.Second).String(),
		Status:            s.current,
		Runs:              s.runs,
		ConnectorFailures: s.failures,
		RecordsPerSecond:  s.rate,
		LastRun:           s.last,
	}
}
