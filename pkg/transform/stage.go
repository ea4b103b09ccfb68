// Package transform defines transform stages and their failure policies.
//
// A Stage maps one Record to zero (filtered), one or many (fan-out)
// Records. Stateless stages may run on any number of workers; stages that
// implement Stateful receive an accumulator they own exclusively and run on
// a single worker in source order.
//
//	stage, err := transform.Create(config.Stage{Type: "filter", Settings: config.Settings{
//	    "field": "status", "op": "eq", "value": "active",
//	}})
package transform

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// State is the accumulator of a stateful stage. The runner creates one per
// run with NewState and passes it into every Apply call.
type State interface{}

// Stage maps one record to zero or more records.
type Stage interface {
	Name() string
	// Apply returns the outputs for rec. A record-level error only affects
	// rec; an untyped error is treated as a transform failure of rec.
	// Connector-level typed errors (connection, timeout) fail the run.
	Apply(ctx context.Context, rec *models.Record, state State) ([]*models.Record, error)
}

// Stateful is a Stage that keeps an accumulator across records.
type Stateful interface {
	Stage
	NewState() State
}

// Substituter is implemented by stages that can produce replacement output
// for a record they failed on, used by the "default" policy. Stages without
// it pass the input through unchanged.
type Substituter interface {
	Substitute(ctx context.Context, rec *models.Record, state State, cause error) ([]*models.Record, error)
}

// Validator is implemented by stages that can check their configuration
// before a run starts.
type Validator interface {
	Validate() error
}

// Func adapts a function to a stateless Stage.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, rec *models.Record) ([]*models.Record, error)
}

func (f Func) Name() string { return f.StageName }

func (f Func) Apply(ctx context.Context, rec *models.Record, _ State) ([]*models.Record, error) {
	return f.Fn(ctx, rec)
}

// AbortError is returned by Apply when a stage with the abort policy fails
// on a record.
type AbortError struct {
	Stage string
	Err   error
}

func (e *AbortError) Error() string {
	return "stage " + e.Stage + " aborted: " + e.Err.Error()
}

func (e *AbortError) Unwrap() error { return e.Err }

// Apply runs stage on rec under the given failure policy (one of the
// config.OnError values).
//
// The returned error is nil when the record was handled, a record-level
// error when it must be counted as dropped, an *AbortError when the run
// must stop after counting the drop, or a connector-level error.
func Apply(ctx context.Context, stage Stage, rec *models.Record, state State, policy string) ([]*models.Record, error) {
	out, err := stage.Apply(ctx, rec, state)
	if err == nil {
		return out, nil
	}
	if !errors.IsRecordLevel(err) {
		var typed *errors.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		err = errors.Wrapf(err, errors.ErrorTypeTransform, "stage %s failed", stage.Name())
	}

	switch policy {
	case config.OnErrorAbort:
		return nil, &AbortError{Stage: stage.Name(), Err: err}
	case config.OnErrorDefault:
		sub, ok := stage.(Substituter)
		if !ok {
			return []*models.Record{rec}, nil
		}
		out, serr := sub.Substitute(ctx, rec, state, err)
		if serr != nil {
			if errors.IsRecordLevel(serr) {
				return nil, serr
			}
			return nil, errors.Wrapf(serr, errors.ErrorTypeTransform, "stage %s substitute failed", stage.Name())
		}
		return out, nil
	default:
		return nil, err
	}
}

// NewState returns the state for stage, nil for stateless stages.
func NewState(stage Stage) State {
	if s, ok := stage.(Stateful); ok {
		return s.NewState()
	}
	return nil
}

// IsStateful reports whether stage must run on a single worker.
func IsStateful(stage Stage) bool {
	_, ok := stage.(Stateful)
	return ok
}

// Factory creates a stage from its configuration.
type Factory func(cfg *config.Stage) (Stage, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterStage makes a stage type available to Create.
func RegisterStage(typ string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(typ)] = f
}

// Create builds a stage from cfg. Unknown types and invalid settings are
// configuration errors.
func Create(cfg *config.Stage) (Stage, error) {
	factoriesMu.RLock()
	f, ok := factories[strings.ToLower(cfg.Type)]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown stage type %q", cfg.Type)
	}
	stage, err := f(cfg)
	if err != nil {
		if errors.IsConfig(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "stage %s", cfg.Name)
	}
	return stage, nil
}

// Types lists the registered stage types.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
