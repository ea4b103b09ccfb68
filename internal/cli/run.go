package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/internal/pipeline"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/logger"
	"github.com/binarymachines/mercury/pkg/metrics"
	"github.com/binarymachines/mercury/pkg/observability"
)

func execute(cmd *cobra.Command, t Tool, f *Flags, args []string) error {
	e, err := LoadEnv()
	if err != nil {
		return exit(ExitConfig, err)
	}
	f.applyEnv(cmd, e)
	if err := f.validate(); err != nil {
		return exit(ExitConfig, err)
	}
	if err := logger.Init(logger.Config{Level: f.LogLevel, Encoding: f.LogFormat}); err != nil {
		return exit(ExitConfig, errors.Wrap(err, errors.ErrorTypeConfig, "init logger"))
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("tool", t.Name))

	p, err := loadPipeline(cmd, t, f, args)
	if err != nil {
		return exit(ExitConfig, err)
	}
	d, err := pipeline.Build(p)
	if err != nil {
		return exit(ExitConfig, err)
	}
	if err := d.Validate(); err != nil {
		return exit(ExitConfig, err)
	}
	if f.DryRun {
		printPlan(cmd, p)
		return nil
	}

	status := NewStatus(t.Name)
	reporters := pipeline.MultiReporter{pipeline.NewLogReporter(log), status}
	if f.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reporters = append(reporters, metrics.NewReporter(reg))
		srv := NewServer(f.MetricsAddr, reg, status, log)
		srv.StartAsync()
		defer func() {
			if err := srv.Stop(); err != nil {
				log.Warn("status server shutdown failed", zap.Error(err))
			}
		}()
	}
	if f.Trace {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    t.Name,
			ServiceVersion: Version,
			Environment:    e.Environment,
			SamplingRate:   e.TraceRate,
		})
		if err != nil {
			return exit(ExitConfig, errors.Wrap(err, errors.ErrorTypeConfig, "init tracing"))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Warn("trace export failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(
		pipeline.WithReporter(reporters),
		pipeline.WithLogger(log),
		pipeline.WithProgress(f.Progress))
	res, runErr := runner.Run(ctx, d)
	if runErr == nil && t.After != nil && res.Status != pipeline.StatusFailed {
		if err := t.After(cmd.Context(), d, res); err != nil {
			log.Error("post-run step failed", zap.Error(err))
			runErr = err
		}
	}
	if f.Report != "" {
		if err := writeReport(cmd, f.Report, res); err != nil {
			log.Error("write run report", zap.String("path", f.Report), zap.Error(err))
		}
	}

	code := ExitCode(res, runErr)
	switch {
	case code == ExitOK:
		return nil
	case runErr != nil:
		return exit(code, runErr)
	default:
		return exit(code, fmt.Errorf("run %s %s: %d records dropped", res.RunID, res.Status, res.TotalDropped()))
	}
}

// loadPipeline returns the descriptor file named by --config, or the one
// the tool builds from its flags, with the policy flags applied.
func loadPipeline(cmd *cobra.Command, t Tool, f *Flags, args []string) (*config.Pipeline, error) {
	var (
		p   *config.Pipeline
		err error
	)
	switch {
	case f.Config != "":
		p, err = config.LoadPipeline(f.Config)
		if err == nil && t.Adjust != nil {
			err = t.Adjust(cmd, args, p)
		}
	case t.Pipeline != nil:
		p, err = t.Pipeline(cmd, args)
	default:
		err = errors.Newf(errors.ErrorTypeConfig, "%s needs a pipeline descriptor (--%s)", t.Name, configFlagName)
	}
	if err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = t.Name
	}
	f.override(cmd, &p.Policy)
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func printPlan(cmd *cobra.Command, p *config.Pipeline) {
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "pipeline %s is valid\n", p.Name)
	fmt.Fprintf(out, "  source  %s (%s)\n", p.Source.Name, p.Source.Type)
	for _, st := range p.Stages {
		fmt.Fprintf(out, "  stage   %s (%s, on_error=%s)\n", st.Name, st.Type, st.OnError)
	}
	for _, s := range p.Sinks {
		fmt.Fprintf(out, "  sink    %s (%s, writers=%d)\n", s.Name, s.Type, s.Writers)
	}
	pol := p.Policy
	fmt.Fprintf(out, "  policy  batch_size=%d buffer_size=%d workers=%d error_policy=%s max_records=%d retries=%d\n",
		pol.BatchSize, pol.BufferSize, pol.Workers, pol.ErrorPolicy, pol.MaxRecords, pol.Retry.MaxAttempts)
}

func writeReport(cmd *cobra.Command, path string, res *pipeline.RunResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return writeFileOrStdout(cmd, path, append(data, '\n'))
}
