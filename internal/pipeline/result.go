package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/binarymachines/mercury/pkg/errors"
)

// Status is the state of a run.
type Status string

// Run states. Built is terminal when validation fails; Succeeded,
// PartiallyFailed and Failed are terminal after Running.
const (
	StatusBuilt           Status = "built"
	StatusRunning         Status = "running"
	StatusSucceeded       Status = "succeeded"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusPartiallyFailed || s == StatusFailed
}

// OtherReason collects the drops of a component once it has maxReasons
// distinct reasons.
const OtherReason = "other"

const maxReasons = 64

// Drops counts the records one component dropped, by reason.
type Drops struct {
	Count   int64            `json:"count"`
	Reasons map[string]int64 `json:"reasons"`
}

// RunResult is the outcome of one run. The runner owns it until Run
// returns; it is never modified afterwards.
type RunResult struct {
	RunID       string            `json:"run_id"`
	Pipeline    string            `json:"pipeline"`
	Status      Status            `json:"status"`
	RecordsRead int64             `json:"records_read"`
	Written     map[string]int64  `json:"written"`
	Dropped     map[string]*Drops `json:"dropped"`
	// Filtered counts, per stage, the records a stage removed without an
	// error: filter conditions and duplicates. They are not failures.
	Filtered  map[string]int64 `json:"filtered,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Elapsed   time.Duration    `json:"elapsed_ns"`
	// Stopped is set when the run ended on the stop signal or the record
	// limit instead of source exhaustion.
	Stopped bool `json:"stopped,omitempty"`
	// Error and FailurePoint describe the fatal error of a failed run, or
	// the configuration error of a run that never started.
	Error        string `json:"error,omitempty"`
	FailurePoint string `json:"failure_point,omitempty"`
}

// TotalWritten sums the records written over all sinks.
func (r *RunResult) TotalWritten() int64 {
	var n int64
	for _, w := range r.Written {
		n += w
	}
	return n
}

// TotalDropped sums the drops of every component.
func (r *RunResult) TotalDropped() int64 {
	var n int64
	for _, d := range r.Dropped {
		n += d.Count
	}
	return n
}

// TotalFiltered sums the records removed by stages without an error.
func (r *RunResult) TotalFiltered() int64 {
	var n int64
	for _, f := range r.Filtered {
		n += f
	}
	return n
}

// DroppedAt returns the drop count of one component.
func (r *RunResult) DroppedAt(component string) int64 {
	if d, ok := r.Dropped[component]; ok {
		return d.Count
	}
	return 0
}

// Components lists the components that dropped records, sorted.
func (r *RunResult) Components() []string {
	out := make([]string, 0, len(r.Dropped))
	for c := range r.Dropped {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (r *RunResult) Clone() *RunResult {
	c := *r
	c.Written = make(map[string]int64, len(r.Written))
	for k, v := range r.Written {
		c.Written[k] = v
	}
	c.Filtered = make(map[string]int64, len(r.Filtered))
	for k, v := range r.Filtered {
		c.Filtered[k] = v
	}
	c.Dropped = make(map[string]*Drops, len(r.Dropped))
	for k, d := range r.Dropped {
		reasons := make(map[string]int64, len(d.Reasons))
		for rk, rv := range d.Reasons {
			reasons[rk] = rv
		}
		c.Dropped[k] = &Drops{Count: d.Count, Reasons: reasons}
	}
	return &c
}

// tracker collects counters while a run is in flight.
type tracker struct {
	mu      sync.Mutex
	res     *RunResult
	fatal   error
	fatalAt string
}

func newTracker(res *RunResult) *tracker {
	return &tracker{res: res}
}

func (t *tracker) read(n int64) {
	t.mu.Lock()
	t.res.RecordsRead += n
	t.mu.Unlock()
}

func (t *tracker) written(sink string, n int) {
	if n == 0 {
		return
	}
	t.mu.Lock()
	t.res.Written[sink] += int64(n)
	t.mu.Unlock()
}

func (t *tracker) dropped(component string, err error) {
	reason := errors.Reason(err)
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.res.Dropped[component]
	if !ok {
		d = &Drops{Reasons: make(map[string]int64)}
		t.res.Dropped[component] = d
	}
	d.Count++
	if _, known := d.Reasons[reason]; !known && len(d.Reasons) >= maxReasons {
		reason = OtherReason
	}
	d.Reasons[reason]++
}

func (t *tracker) filtered(stage string, n int64) {
	if n == 0 {
		return
	}
	t.mu.Lock()
	t.res.Filtered[stage] += n
	t.mu.Unlock()
}

// fail records the first fatal error only.
func (t *tracker) fail(component string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fatal == nil {
		t.fatal = err
		t.fatalAt = component
	}
}

func (t *tracker) failure() (error, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal, t.fatalAt
}

func (t *tracker) stopped() {
	t.mu.Lock()
	t.res.Stopped = true
	t.mu.Unlock()
}

func (t *tracker) snapshot() *RunResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res.Clone()
}
