package cli

import (
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

const (
	configFlagName    = "config"
	logLevelFlagName  = "log-level"
	logFormatFlagName = "log-format"
	batchFlagName     = "batch-size"
	bufferFlagName    = "buffer"
	workersFlagName   = "workers"
	policyFlagName    = "error-policy"
	retriesFlagName   = "retries"
	maxFlagName       = "max-records"
	reportFlagName    = "report"
	metricsFlagName   = "metrics-addr"
	traceFlagName     = "trace"
	dryRunFlagName    = "dry-run"
	progressFlagName  = "progress"
)

// Flags are the options every tool accepts.
type Flags struct {
	Config      string
	LogLevel    string
	LogFormat   string
	BatchSize   int
	BufferSize  int
	Workers     int
	ErrorPolicy string
	Retries     int
	MaxRecords  int64
	Report      string
	MetricsAddr string
	Trace       bool
	DryRun      bool
	Progress    time.Duration
}

func (f *Flags) addFlags(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVarP(&f.Config, configFlagName, "c", "", "pipeline descriptor file (YAML or JSON); replaces the tool's own source and sink flags")
	fs.StringVar(&f.LogLevel, logLevelFlagName, "info", "log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFormat, logFormatFlagName, "console", "log encoding (console or json)")
	fs.IntVar(&f.BatchSize, batchFlagName, 0, "records per sink batch")
	fs.IntVar(&f.BufferSize, bufferFlagName, 0, "capacity of each queue between tasks")
	fs.IntVar(&f.Workers, workersFlagName, 0, "parallel shards for stateless stages")
	fs.StringVar(&f.ErrorPolicy, policyFlagName, "", "what a rejected record does to the run (continue or fail-fast)")
	fs.IntVar(&f.Retries, retriesFlagName, 0, "attempts for a failing connector operation")
	fs.Int64Var(&f.MaxRecords, maxFlagName, 0, "stop after admitting this many records (0 reads everything)")
	fs.StringVar(&f.Report, reportFlagName, "", "write the run result as JSON to this file (- for stdout)")
	fs.StringVar(&f.MetricsAddr, metricsFlagName, "", heredoc.Doc(`
		serve /metrics, /healthz and /status on this address
		while the tool runs (for example :9102)`))
	fs.BoolVar(&f.Trace, traceFlagName, false, "export OpenTelemetry spans to stderr")
	fs.BoolVar(&f.DryRun, dryRunFlagName, false, "build and validate the pipeline without running it")
	fs.DurationVar(&f.Progress, progressFlagName, 0, "log progress at this interval (for example 30s)")
}

// applyEnv fills the flags not given on the command line from env.
func (f *Flags) applyEnv(cmd *cobra.Command, e *Env) {
	fs := cmd.Flags()
	if !fs.Changed(logLevelFlagName) {
		f.LogLevel = e.LogLevel
	}
	if !fs.Changed(logFormatFlagName) {
		f.LogFormat = e.LogFormat
	}
	if !fs.Changed(metricsFlagName) {
		f.MetricsAddr = e.MetricsAddr
	}
	if !fs.Changed(traceFlagName) {
		f.Trace = e.Trace
	}
}

// validate checks the flag values that do not depend on a pipeline.
func (f *Flags) validate() error {
	if err := validLogLevel(f.LogLevel); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "--"+logLevelFlagName)
	}
	if err := validLogFormat(f.LogFormat); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "--"+logFormatFlagName)
	}
	for name, v := range map[string]int64{
		batchFlagName:   int64(f.BatchSize),
		bufferFlagName:  int64(f.BufferSize),
		workersFlagName: int64(f.Workers),
		retriesFlagName: int64(f.Retries),
		maxFlagName:     f.MaxRecords,
	} {
		if v < 0 {
			return errors.Newf(errors.ErrorTypeConfig, "--%s cannot be negative", name)
		}
	}
	if f.Progress < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "--%s cannot be negative", progressFlagName)
	}
	return nil
}

// override applies the policy flags given on the command line.
func (f *Flags) override(cmd *cobra.Command, pol *config.Policy) {
	fs := cmd.Flags()
	if fs.Changed(batchFlagName) {
		pol.BatchSize = f.BatchSize
	}
	if fs.Changed(bufferFlagName) {
		pol.BufferSize = f.BufferSize
	}
	if fs.Changed(workersFlagName) {
		pol.Workers = f.Workers
	}
	if fs.Changed(policyFlagName) {
		pol.ErrorPolicy = f.ErrorPolicy
	}
	if fs.Changed(retriesFlagName) {
		pol.Retry.MaxAttempts = f.Retries
	}
	if fs.Changed(maxFlagName) {
		pol.MaxRecords = f.MaxRecords
	}
}
