package pipeline

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/transform"

	// the map stage is part of every runner
	_ "github.com/binarymachines/mercury/pkg/schema"
)

// StageBinding places a stage in the chain with its failure policy.
type StageBinding struct {
	Stage   transform.Stage
	OnError string
}

// SinkBinding attaches a sink with its writer count.
type SinkBinding struct {
	Sink    core.Sink
	Writers int
}

// Descriptor is a runnable pipeline: built connectors and stages plus the
// execution policy. It must not change once passed to Run.
type Descriptor struct {
	Name   string
	Source core.Source
	Stages []StageBinding
	Sinks  []SinkBinding
	Policy config.Policy
}

// Build resolves a pipeline configuration through the connector and stage
// registries. Every failure is a configuration error.
func Build(cfg *config.Pipeline) (*Descriptor, error) {
	p := *cfg
	p.Stages = append([]config.Stage(nil), cfg.Stages...)
	p.Sinks = append([]config.Connector(nil), cfg.Sinks...)
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	src, err := registry.CreateSource(p.Source)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{Name: p.Name, Source: src, Policy: p.Policy}

	for i := range p.Stages {
		st, err := transform.Create(&p.Stages[i])
		if err != nil {
			return nil, err
		}
		d.Stages = append(d.Stages, StageBinding{Stage: st, OnError: p.Stages[i].OnError})
	}
	for _, sc := range p.Sinks {
		sink, err := registry.CreateSink(sc)
		if err != nil {
			return nil, err
		}
		d.Sinks = append(d.Sinks, SinkBinding{Sink: sink, Writers: sc.Writers})
	}
	return d, nil
}

// Validate checks what Run checks before the Built -> Running transition.
func (d *Descriptor) Validate() error {
	if d.Source == nil {
		return errors.New(errors.ErrorTypeConfig, "pipeline has no source")
	}
	if len(d.Sinks) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one sink is required")
	}
	if err := d.Policy.Validate(); err != nil {
		return err
	}

	names := map[string]string{d.Source.Name(): "source"}
	for _, b := range d.Stages {
		if b.Stage == nil {
			return errors.New(errors.ErrorTypeConfig, "nil stage")
		}
		switch b.OnError {
		case "", config.OnErrorDrop, config.OnErrorDefault, config.OnErrorAbort:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "stage %s: unknown on_error %q", b.Stage.Name(), b.OnError)
		}
		if other, dup := names[b.Stage.Name()]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "stage name %q already used by %s", b.Stage.Name(), other)
		}
		names[b.Stage.Name()] = "stage"
		if v, ok := b.Stage.(transform.Validator); ok {
			if err := v.Validate(); err != nil {
				if errors.IsConfig(err) {
					return err
				}
				return errors.Wrapf(err, errors.ErrorTypeConfig, "stage %s", b.Stage.Name())
			}
		}
	}
	for _, b := range d.Sinks {
		if b.Sink == nil {
			return errors.New(errors.ErrorTypeConfig, "nil sink")
		}
		if other, dup := names[b.Sink.Name()]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "sink name %q already used by %s", b.Sink.Name(), other)
		}
		names[b.Sink.Name()] = "sink"
		if b.Writers > 1 {
			if _, ok := b.Sink.(core.ConcurrentSink); !ok {
				return errors.Newf(errors.ErrorTypeConfig, "sink %s is ordered and takes a single writer", b.Sink.Name())
			}
		}
	}
	return nil
}

// writers returns how many writer tasks a sink gets.
func (b SinkBinding) writers() int {
	n := b.Writers
	if n < 1 {
		n = 1
	}
	if cs, ok := b.Sink.(core.ConcurrentSink); ok && n > cs.MaxWriters() && cs.MaxWriters() > 0 {
		n = cs.MaxWriters()
	}
	return n
}
