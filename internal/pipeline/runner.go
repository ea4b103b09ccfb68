// Package pipeline runs a descriptor: one source, an ordered chain of
// stages and one or more sinks, connected by bounded queues.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/logger"
	"github.com/binarymachines/mercury/pkg/models"
)

const tracerName = "github.com/binarymachines/mercury/internal/pipeline"

// Runner executes descriptors. A Runner holds no per-run state and may run
// several descriptors concurrently.
type Runner struct {
	reporter Reporter
	logger   *zap.Logger
	tracer   trace.Tracer
	progress time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithReporter sets the event reporter.
func WithReporter(r Reporter) Option {
	return func(rn *Runner) {
		if r != nil {
			rn.reporter = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(rn *Runner) {
		if l != nil {
			rn.logger = l
		}
	}
}

// WithTracer sets the tracer used for run, open and flush spans.
func WithTracer(t trace.Tracer) Option {
	return func(rn *Runner) {
		if t != nil {
			rn.tracer = t
		}
	}
}

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	rn := &Runner{
		reporter: NopReporter{},
		logger:   logger.Get(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(rn)
	}
	return rn
}

// Run executes d once and returns its result.
//
// Cancelling ctx is the stop signal: the source stops admitting records,
// everything already admitted drains through the stages and sinks, every
// sink is flushed and the run ends with Stopped set. A descriptor that fails
// validation never leaves Built and Run returns the configuration error. A
// failed run returns its fatal error; partially failed and succeeded runs
// return nil.
func (r *Runner) Run(ctx context.Context, d *Descriptor) (*RunResult, error) {
	res := &RunResult{
		RunID:     uuid.NewString(),
		Pipeline:  d.Name,
		Status:    StatusBuilt,
		Written:   make(map[string]int64),
		Dropped:   make(map[string]*Drops),
		Filtered:  make(map[string]int64),
		StartedAt: time.Now(),
	}
	if err := d.Validate(); err != nil {
		res.EndedAt = time.Now()
		res.Error = err.Error()
		r.reporter.RunEnded(res.Clone())
		return res, err
	}
	for _, b := range d.Sinks {
		res.Written[b.Sink.Name()] = 0
	}

	rn := &run{
		Runner: r,
		d:      d,
		id:     res.RunID,
		t:      newTracker(res),
		logger: r.logger.With(
			zap.String("run_id", res.RunID),
			zap.String("pipeline", d.Name)),
	}
	ctx = context.WithValue(ctx, logger.RunIDKey, res.RunID)
	ctx = context.WithValue(ctx, logger.PipelineKey, d.Name)
	return rn.execute(ctx)
}

// run is the state of one execution.
type run struct {
	*Runner
	d      *Descriptor
	id     string
	t      *tracker
	logger *zap.Logger
}

func (rn *run) execute(stop context.Context) (*RunResult, error) {
	ctx, span := rn.tracer.Start(stop, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline", rn.d.Name),
		attribute.String("run_id", rn.id)))
	defer span.End()

	rn.reporter.RunStarted(rn.t.snapshot())
	rn.setStatus(StatusRunning)

	if err := rn.open(ctx); err != nil {
		return rn.finish(span)
	}

	// Internal tasks ignore the stop signal; only the reader watches it.
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	g, gctx := errgroup.WithContext(work)
	admitted := make(chan []*models.Record, rn.d.Policy.BufferSize)
	g.Go(func() error { return rn.read(gctx, ctx, admitted) })

	var out <-chan []*models.Record = admitted
	for _, seg := range segmentsOf(rn.d.Stages) {
		out = rn.startSegment(gctx, g, seg, out)
	}

	queues := make([]chan *models.Record, len(rn.d.Sinks))
	for i := range queues {
		queues[i] = make(chan *models.Record, rn.d.Policy.BufferSize)
	}
	g.Go(func() error { return rn.dispatch(gctx, out, queues) })
	for i, b := range rn.d.Sinks {
		for w := 0; w < b.writers(); w++ {
			sink, q := b.Sink, queues[i]
			g.Go(func() error { return rn.drain(gctx, sink, q) })
		}
	}

	progress := rn.startProgress()
	if err := g.Wait(); err != nil {
		if fatal, _ := rn.t.failure(); fatal == nil {
			rn.t.fail(rn.d.Name, err)
		}
	}
	progress.stop()

	rn.flushAll(work)
	rn.closeAll(work)
	return rn.finish(span)
}

// open opens the source and then every sink. On failure everything already
// opened is closed again.
func (rn *run) open(ctx context.Context) error {
	src := rn.d.Source
	if err := rn.openConnector(ctx, src.Name(), src.Open); err != nil {
		rn.connectorFatal(src.Name(), err)
		return err
	}
	for i, b := range rn.d.Sinks {
		if err := rn.openConnector(ctx, b.Sink.Name(), b.Sink.Open); err != nil {
			rn.connectorFatal(b.Sink.Name(), err)
			bg := context.WithoutCancel(ctx)
			for _, opened := range rn.d.Sinks[:i] {
				rn.closeConnector(bg, opened.Sink.Name(), opened.Sink.Close)
			}
			rn.closeConnector(bg, src.Name(), src.Close)
			return err
		}
	}
	return nil
}

func (rn *run) openConnector(ctx context.Context, name string, open func(context.Context) error) error {
	ctx = context.WithValue(ctx, logger.ConnectorKey, name)
	ctx, span := rn.tracer.Start(ctx, "connector.open", trace.WithAttributes(attribute.String("connector", name)))
	defer span.End()

	err := rn.retry(name).Execute(ctx, func(int) error {
		return base.Classify(open(ctx), "open "+name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	logger.WithContext(ctx).Debug("connector opened")
	return nil
}

// read admits records from the source until it is exhausted, the stop
// signal fires or the record limit is reached. A fatal source error ends
// admission without cancelling the tasks downstream, so admitted records
// still drain.
func (rn *run) read(gctx, stop context.Context, out chan<- []*models.Record) error {
	defer close(out)

	src := rn.d.Source
	readCtx, cancel := context.WithCancel(gctx)
	defer cancel()
	unregister := context.AfterFunc(stop, cancel)
	defer unregister()

	limit := rn.d.Policy.MaxRecords
	var n int64
	for {
		if stop.Err() != nil || (limit > 0 && n >= limit) {
			rn.t.stopped()
			return nil
		}
		rec, err := rn.readOne(readCtx, src)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case stop.Err() != nil:
			rn.t.stopped()
			return nil
		case gctx.Err() != nil:
			return gctx.Err()
		case errors.IsRecordLevel(err):
			n++
			rn.t.read(1)
			if ferr := rn.drop(src.Name(), err); ferr != nil {
				return ferr
			}
			continue
		default:
			rn.connectorFatal(src.Name(), err)
			return nil
		}

		n++
		rn.t.read(1)
		select {
		case out <- []*models.Record{rec}:
		case <-gctx.Done():
			return gctx.Err()
		}
	}
}

// readOne reads one record with retries. Exhaustion of a bounded source is
// io.EOF; an unbounded source that ends is a connection failure.
func (rn *run) readOne(ctx context.Context, src core.Source) (*models.Record, error) {
	var (
		rec    *models.Record
		result error
	)
	err := rn.retry(src.Name()).Execute(ctx, func(int) error {
		r, err := src.Read(ctx)
		switch {
		case err == nil:
			rec, result = r, nil
			return nil
		case errors.Is(err, io.EOF):
			if src.Bounded() {
				result = io.EOF
				return nil
			}
			return errors.New(errors.ErrorTypeConnection, "stream ended unexpectedly")
		case errors.IsRecordLevel(err):
			result = err
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return base.Classify(err, "read "+src.Name())
		}
	})
	if err != nil {
		return nil, err
	}
	return rec, result
}

// dispatch copies every record to the queue of every sink.
func (rn *run) dispatch(ctx context.Context, in <-chan []*models.Record, queues []chan *models.Record) error {
	defer func() {
		for _, q := range queues {
			close(q)
		}
	}()
	for unit := range in {
		for _, rec := range unit {
			for _, q := range queues {
				select {
				case q <- rec:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

// drain is one writer task of a sink.
func (rn *run) drain(ctx context.Context, sink core.Sink, q <-chan *models.Record) error {
	name := sink.Name()
	for rec := range q {
		ack, err := rn.write(ctx, sink, rec)
		if aerr := rn.account(name, ack); aerr != nil {
			return aerr
		}
		if err == nil {
			continue
		}
		if errors.IsRecordLevel(err) {
			if ferr := rn.drop(name, err); ferr != nil {
				return ferr
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rn.connectorFatal(name, err)
		return err
	}
	return nil
}

func (rn *run) write(ctx context.Context, sink core.Sink, rec *models.Record) (core.Ack, error) {
	var (
		total  core.Ack
		result error
	)
	err := rn.retry(sink.Name()).Execute(ctx, func(int) error {
		ack, err := sink.Write(ctx, rec)
		total.Add(ack)
		switch {
		case err == nil:
			return nil
		case errors.IsRecordLevel(err):
			result = err
			return nil
		default:
			return base.Classify(err, "write "+sink.Name())
		}
	})
	if err != nil {
		return total, err
	}
	return total, result
}

// account books what a sink acknowledged.
func (rn *run) account(sink string, ack core.Ack) error {
	rn.t.written(sink, ack.Written)
	for _, rej := range ack.Rejected {
		if err := rn.drop(sink, rej); err != nil {
			return err
		}
	}
	return nil
}

// flushAll flushes every sink once. A sink that already failed is skipped;
// the others are flushed even on a failed run so that what they buffered is
// not lost.
func (rn *run) flushAll(ctx context.Context) {
	_, failedAt := rn.t.failure()
	for _, b := range rn.d.Sinks {
		name := b.Sink.Name()
		if name == failedAt {
			continue
		}
		ack, err := rn.flush(ctx, b.Sink)
		if aerr := rn.account(name, ack); aerr != nil && err == nil {
			err = aerr
		}
		if err != nil {
			rn.connectorFatal(name, err)
		}
	}
}

func (rn *run) flush(ctx context.Context, sink core.Sink) (core.Ack, error) {
	ctx, span := rn.tracer.Start(ctx, "sink.flush", trace.WithAttributes(attribute.String("sink", sink.Name())))
	defer span.End()

	var total core.Ack
	err := rn.retry(sink.Name()).Execute(ctx, func(int) error {
		ack, err := sink.Flush(ctx)
		total.Add(ack)
		return base.Classify(err, "flush "+sink.Name())
	})
	span.SetAttributes(attribute.Int("written", total.Written), attribute.Int("rejected", len(total.Rejected)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return total, err
}

func (rn *run) closeAll(ctx context.Context) {
	for _, b := range rn.d.Sinks {
		rn.closeConnector(ctx, b.Sink.Name(), b.Sink.Close)
	}
	rn.closeConnector(ctx, rn.d.Source.Name(), rn.d.Source.Close)
}

func (rn *run) closeConnector(ctx context.Context, name string, closeFn func(context.Context) error) {
	if err := closeFn(ctx); err != nil {
		rn.logger.Warn("close failed", zap.String("connector", name), zap.Error(err))
	}
}

// drop books a record-level failure. Under fail-fast the drop becomes the
// fatal error of the run.
func (rn *run) drop(component string, err error) error {
	rn.t.dropped(component, err)
	rn.reporter.RecordDropped(rn.id, component, err)
	if !rn.d.Policy.FailFast() {
		return nil
	}
	fatal := errors.Wrapf(err, errors.ErrorTypeInternal, "fail-fast: record dropped at %s", component)
	rn.t.fail(component, fatal)
	return fatal
}

func (rn *run) connectorFatal(name string, err error) {
	rn.t.fail(name, err)
	rn.reporter.ConnectorFailed(rn.id, name, rn.d.Policy.Retry.MaxAttempts, err)
}

func (rn *run) retry(component string) *base.RetryPolicy {
	rp := base.FromConfig(rn.d.Policy.Retry)
	rp.OnRetry = func(attempt int, err error) {
		rn.reporter.ConnectorFailed(rn.id, component, attempt, err)
	}
	return rp
}

func (rn *run) setStatus(to Status) {
	rn.t.mu.Lock()
	from := rn.t.res.Status
	rn.t.res.Status = to
	rn.t.mu.Unlock()
	rn.reporter.StateChanged(rn.id, from, to)
}

// finish decides the terminal status and publishes the result.
func (rn *run) finish(span trace.Span) (*RunResult, error) {
	fatal, at := rn.t.failure()
	status := StatusSucceeded
	switch {
	case fatal != nil:
		status = StatusFailed
	case rn.t.snapshot().TotalDropped() > 0:
		status = StatusPartiallyFailed
	}
	rn.setStatus(status)

	rn.t.mu.Lock()
	res := rn.t.res
	res.EndedAt = time.Now()
	res.Elapsed = res.EndedAt.Sub(res.StartedAt)
	if fatal != nil {
		res.Error = fatal.Error()
		res.FailurePoint = at
	}
	rn.t.mu.Unlock()

	span.SetAttributes(
		attribute.String("status", string(status)),
		attribute.Int64("read", res.RecordsRead),
		attribute.Int64("written", res.TotalWritten()),
		attribute.Int64("dropped", res.TotalDropped()))
	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
	}
	rn.reporter.RunEnded(res.Clone())
	return res, fatal
}
