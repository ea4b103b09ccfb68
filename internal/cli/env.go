package cli

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/binarymachines/mercury/pkg/errors"
)

// Env is the process configuration read from the environment. Flags set on
// the command line win over it.
type Env struct {
	LogLevel    string  `env:"MERCURY_LOG_LEVEL" envDefault:"info"`
	LogFormat   string  `env:"MERCURY_LOG_FORMAT" envDefault:"console"`
	MetricsAddr string  `env:"MERCURY_METRICS_ADDR"`
	Trace       bool    `env:"MERCURY_TRACE"`
	TraceRate   float64 `env:"MERCURY_TRACE_SAMPLING" envDefault:"1"`
	Environment string  `env:"MERCURY_ENV" envDefault:"local"`
}

// LoadEnv parses and validates the environment.
func LoadEnv() (*Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "environment variables not valid")
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Env) validate() error {
	var problems []string
	if err := validLogLevel(e.LogLevel); err != nil {
		problems = append(problems, "MERCURY_LOG_LEVEL: "+err.Error())
	}
	if err := validLogFormat(e.LogFormat); err != nil {
		problems = append(problems, "MERCURY_LOG_FORMAT: "+err.Error())
	}
	if e.TraceRate < 0 || e.TraceRate > 1 {
		problems = append(problems, "MERCURY_TRACE_SAMPLING must be between 0 and 1")
	}
	if len(problems) > 0 {
		return errors.Newf(errors.ErrorTypeConfig, "environment variables not valid: %s", strings.Join(problems, ", "))
	}
	return nil
}

var logLevels = []string{"debug", "info", "warn", "error"}

func validLogLevel(level string) error {
	for _, l := range logLevels {
		if strings.EqualFold(level, l) {
			return nil
		}
	}
	return fmt.Errorf("unknown log level %q (possible values: %s)", level, strings.Join(logLevels, ", "))
}

func validLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "json", "console":
		return nil
	}
	return fmt.Errorf("unknown log format %q (json or console)", format)
}
