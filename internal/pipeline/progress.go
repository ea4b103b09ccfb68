package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProgressReporter is a Reporter that also wants periodic snapshots of a
// run in flight. Enable them with WithProgress.
type ProgressReporter interface {
	Reporter
	Progress(res *RunResult, recordsPerSecond float64)
}

// Progress forwards the snapshot to the reporters that want it.
func (m MultiReporter) Progress(res *RunResult, recordsPerSecond float64) {
	for _, r := range m {
		if p, ok := r.(ProgressReporter); ok {
			p.Progress(res, recordsPerSecond)
		}
	}
}

// WithProgress logs a progress line and notifies progress reporters every
// interval while a run is in flight. Zero disables it.
func WithProgress(interval time.Duration) Option {
	return func(rn *Runner) {
		rn.progress = interval
	}
}

// progressTicker samples the tracker of one run.
type progressTicker struct {
	rn       *run
	interval time.Duration

	lastRead int64
	lastTick time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func (rn *run) startProgress() *progressTicker {
	if rn.progress <= 0 {
		return nil
	}
	pt := &progressTicker{
		rn:       rn,
		interval: rn.progress,
		lastTick: time.Now(),
		stopCh:   make(chan struct{}),
	}
	pt.wg.Add(1)
	go func() {
		defer pt.wg.Done()
		ticker := time.NewTicker(pt.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pt.stopCh:
				return
			case now := <-ticker.C:
				pt.report(now)
			}
		}
	}()
	return pt
}

// stop ends the ticker; a nil ticker is a no-op.
func (pt *progressTicker) stop() {
	if pt == nil {
		return
	}
	close(pt.stopCh)
	pt.wg.Wait()
}

func (pt *progressTicker) report(now time.Time) {
	res := pt.rn.t.snapshot()
	rate := throughput(res.RecordsRead-pt.lastRead, now.Sub(pt.lastTick))
	pt.lastRead, pt.lastTick = res.RecordsRead, now

	pt.rn.logger.Info("progress",
		zap.Int64("records_read", res.RecordsRead),
		zap.Int64("records_written", res.TotalWritten()),
		zap.Int64("records_dropped", res.TotalDropped()),
		zap.Int64("records_filtered", res.TotalFiltered()),
		zap.Float64("records_per_second", rate),
		zap.Duration("elapsed", now.Sub(res.StartedAt)))
	if p, ok := pt.rn.reporter.(ProgressReporter); ok {
		p.Progress(res, rate)
	}
}

func throughput(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
