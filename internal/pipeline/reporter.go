package pipeline

import (
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/errors"
)

// Reporter receives run events. Calls come from the runner's goroutines and
// must not block.
type Reporter interface {
	RunStarted(res *RunResult)
	StateChanged(runID string, from, to Status)
	RecordDropped(runID, component string, err error)
	ConnectorFailed(runID, connector string, attempt int, err error)
	RunEnded(res *RunResult)
}

// NopReporter ignores every event.
type NopReporter struct{}

func (NopReporter) RunStarted(*RunResult) {}
func (NopReporter) StateChanged(string, Status, Status) {}
func (NopReporter) RecordDropped(string, string, error) {}
func (NopReporter) ConnectorFailed(string, string, int, error) {}
func (NopReporter) RunEnded(*RunResult) {}

// MultiReporter fans events out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) RunStarted(res *RunResult) {
	for _, r := range m {
		r.RunStarted(res)
	}
}

func (m MultiReporter) StateChanged(runID string, from, to Status) {
	for _, r := range m {
		r.StateChanged(runID, from, to)
	}
}

func (m MultiReporter) RecordDropped(runID, component string, err error) {
	for _, r := range m {
		r.RecordDropped(runID, component, err)
	}
}

func (m MultiReporter) ConnectorFailed(runID, connector string, attempt int, err error) {
	for _, r := range m {
		r.ConnectorFailed(runID, connector, attempt, err)
	}
}

func (m MultiReporter) RunEnded(res *RunResult) {
	for _, r := range m {
		r.RunEnded(res)
	}
}

// LogReporter writes run events to a zap logger. Drops are logged at debug
// level; the run summary carries the counts.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a reporter logging to logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger.With(zap.String("component", "runner"))}
}

func (l *LogReporter) RunStarted(res *RunResult) {
	l.logger.Info("run started",
		zap.String("run_id", res.RunID),
		zap.String("pipeline", res.Pipeline))
}

func (l *LogReporter) StateChanged(runID string, from, to Status) {
	l.logger.Debug("run state changed",
		zap.String("run_id", runID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (l *LogReporter) RecordDropped(runID, component string, err error) {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("at", component),
		zap.String("reason", errors.Reason(err)),
		zap.Error(err),
	}
	var e *errors.Error
	if errors.As(err, &e) && len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	l.logger.Debug("record dropped", fields...)
}

func (l *LogReporter) ConnectorFailed(runID, connector string, attempt int, err error) {
	l.logger.Warn("connector failed",
		zap.String("run_id", runID),
		zap.String("connector", connector),
		zap.Int("attempt", attempt),
		zap.Error(err))
}

func (l *LogReporter) RunEnded(res *RunResult) {
	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.String("pipeline", res.Pipeline),
		zap.String("status", string(res.Status)),
		zap.Int64("read", res.RecordsRead),
		zap.Int64("written", res.TotalWritten()),
		zap.Int64("dropped", res.TotalDropped()),
		zap.Int64("filtered", res.TotalFiltered()),
		zap.Duration("elapsed", res.Elapsed),
	}
	for _, c := range res.Components() {
		fields = append(fields, zap.Int64("dropped_"+c, res.Dropped[c].Count))
	}
	switch res.Status {
	case StatusFailed, StatusBuilt:
		fields = append(fields, zap.String("error", res.Error), zap.String("failure_point", res.FailurePoint))
		l.logger.Error("run ended", fields...)
	case StatusPartiallyFailed:
		l.logger.Warn("run ended", fields...)
	default:
		l.logger.Info("run ended", fields...)
	}
}
