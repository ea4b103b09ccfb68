package cli

import (
	"fmt"

	"github.com/binarymachines/mercury/internal/pipeline"
	"github.com/binarymachines/mercury/pkg/errors"
)

// Exit codes of every tool.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitConfig  = 2
	ExitPartial = 3
)

// ExitError ends a tool with a specific exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps the outcome of a run to the tool's exit code.
func ExitCode(res *pipeline.RunResult, err error) int {
	if err != nil && errors.IsConfig(err) {
		return ExitConfig
	}
	if res == nil {
		if err != nil {
			return ExitFailed
		}
		return ExitOK
	}
	switch res.Status {
	case pipeline.StatusSucceeded:
		if err != nil {
			return ExitFailed
		}
		return ExitOK
	case pipeline.StatusPartiallyFailed:
		return ExitPartial
	case pipeline.StatusBuilt:
		return ExitConfig
	default:
		return ExitFailed
	}
}

// codeOf returns the exit code carried by err.
func codeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.IsConfig(err) {
		return ExitConfig
	}
	return ExitFailed
}
