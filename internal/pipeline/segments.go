package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
	"github.com/binarymachines/mercury/pkg/transform"
)

// segment is a run of consecutive stages executed by the same tasks.
// Stateless stages are grouped and sharded across workers; a stateful stage
// always runs alone on a single task.
type segment struct {
	stages   []StageBinding
	stateful bool
}

func segmentsOf(stages []StageBinding) []segment {
	var (
		out []segment
		cur []StageBinding
	)
	for _, b := range stages {
		if !transform.IsStateful(b.Stage) {
			cur = append(cur, b)
			continue
		}
		if len(cur) > 0 {
			out = append(out, segment{stages: cur})
			cur = nil
		}
		out = append(out, segment{stages: []StageBinding{b}, stateful: true})
	}
	if len(cur) > 0 {
		out = append(out, segment{stages: cur})
	}
	return out
}

// startSegment wires a segment between in and the returned channel. Units
// (the records produced from one source record) leave in admission order
// whatever the number of workers: the distributor and the merger visit the
// workers in the same round-robin order.
func (rn *run) startSegment(ctx context.Context, g *errgroup.Group, seg segment, in <-chan []*models.Record) <-chan []*models.Record {
	size := rn.d.Policy.BufferSize
	out := make(chan []*models.Record, size)

	workers := rn.d.Policy.Workers
	if seg.stateful || workers <= 1 {
		states := make([]transform.State, len(seg.stages))
		for i, b := range seg.stages {
			states[i] = transform.NewState(b.Stage)
		}
		g.Go(func() error {
			defer close(out)
			for unit := range in {
				res, err := rn.applyChain(ctx, seg.stages, states, unit)
				if err != nil {
					return err
				}
				if len(res) == 0 {
					continue
				}
				select {
				case out <- res:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		return out
	}

	shard := size/workers + 1
	ins := make([]chan []*models.Record, workers)
	outs := make([]chan []*models.Record, workers)
	for i := range ins {
		ins[i] = make(chan []*models.Record, shard)
		outs[i] = make(chan []*models.Record, shard)
	}

	g.Go(func() error {
		defer func() {
			for _, c := range ins {
				close(c)
			}
		}()
		i := 0
		for unit := range in {
			select {
			case ins[i] <- unit:
			case <-ctx.Done():
				return ctx.Err()
			}
			i = (i + 1) % workers
		}
		return nil
	})

	states := make([]transform.State, len(seg.stages))
	for w := 0; w < workers; w++ {
		src, dst := ins[w], outs[w]
		g.Go(func() error {
			defer close(dst)
			for unit := range src {
				res, err := rn.applyChain(ctx, seg.stages, states, unit)
				if err != nil {
					return err
				}
				// empty results are forwarded to keep the merger aligned
				select {
				case dst <- res:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(out)
		for i := 0; ; i = (i + 1) % workers {
			res, ok := <-outs[i]
			if !ok {
				return nil
			}
			if len(res) == 0 {
				continue
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	return out
}

// applyChain runs the records of one unit through the stages of a segment.
func (rn *run) applyChain(ctx context.Context, stages []StageBinding, states []transform.State, unit []*models.Record) ([]*models.Record, error) {
	cur := unit
	for i, b := range stages {
		name := b.Stage.Name()
		policy := b.OnError
		if policy == "" {
			policy = config.OnErrorDrop
		}

		var (
			next     []*models.Record
			filtered int64
		)
		for _, rec := range cur {
			out, err := transform.Apply(ctx, b.Stage, rec, states[i], policy)
			if err == nil {
				if len(out) == 0 {
					filtered++
				}
				next = append(next, out...)
				continue
			}
			var abort *transform.AbortError
			switch {
			case errors.As(err, &abort):
				rn.t.dropped(name, abort.Err)
				rn.reporter.RecordDropped(rn.id, name, abort.Err)
				rn.t.fail(name, err)
				return nil, err
			case errors.IsRecordLevel(err):
				if ferr := rn.drop(name, err); ferr != nil {
					return nil, ferr
				}
			default:
				rn.t.fail(name, err)
				return nil, err
			}
		}
		rn.t.filtered(name, filtered)
		if len(next) == 0 {
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}
