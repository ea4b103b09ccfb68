package schema

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

func init() {
	_ = registry.RegisterSink("profile", func(cfg config.Connector) (core.Sink, error) {
		return NewProfileSink(cfg)
	})
	_ = registry.RegisterSink("ddl", func(cfg config.Connector) (core.Sink, error) {
		return NewDDLSink(cfg)
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name: "profile", Type: core.ConnectorTypeSink,
		Description: "Infers field types and writes a mapping file",
		Settings:    []string{"path", "name", "format"},
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name: "ddl", Type: core.ConnectorTypeSink,
		Description: "Collects schema entries {name,type,mode} and writes CREATE TABLE",
		Settings:    []string{"path", "table", "dialect", "primary_key"},
	})
}

// ProfileSink feeds every record into a Profiler and writes the proposed
// mapping on Flush. With format "json" it writes the field profiles instead.
type ProfileSink struct {
	*base.BaseConnector
	profiler *Profiler
	path     string
	name     string
	format   string
}

// NewProfileSink creates a profile sink from its configuration.
func NewProfileSink(cfg config.Connector) (*ProfileSink, error) {
	format := strings.ToLower(cfg.Settings.String("format", "yaml"))
	if format != "yaml" && format != "json" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "profile sink: unknown format %q", format)
	}
	return &ProfileSink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		profiler:      NewProfiler(),
		path:          cfg.Settings.String("path", base.StdioPath),
		name:          cfg.Settings.String("name", cfg.Name),
		format:        format,
	}, nil
}

func (s *ProfileSink) Open(ctx context.Context) error { return nil }

func (s *ProfileSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	s.profiler.Observe(rec)
	return core.Ack{Written: 1}, nil
}

// Flush renders the profile.
func (s *ProfileSink) Flush(ctx context.Context) (core.Ack, error) {
	var (
		data []byte
		err  error
	)
	if s.format == "json" {
		data, err = json.MarshalIndent(s.profiler.Fields(), "", "  ")
		data = append(data, '\n')
	} else {
		m := s.profiler.Mapping(s.name)
		data, err = config.MarshalMapping(&m)
	}
	if err != nil {
		return core.Ack{}, errors.Wrap(err, errors.ErrorTypeInternal, "render profile")
	}
	if err := writeOutput(s.path, data); err != nil {
		return core.Ack{}, err
	}
	s.Logger().Info("profile written",
		zap.String("path", s.path),
		zap.Int64("records", s.profiler.Records()),
		zap.Int("fields", len(s.profiler.Fields())))
	return core.Ack{}, nil
}

func (s *ProfileSink) Close(ctx context.Context) error { return nil }

// Profiler returns the profiler fed by this sink.
func (s *ProfileSink) Profiler() *Profiler { return s.profiler }

// DDLSink collects schema entries and writes a CREATE TABLE statement on
// Flush.
type DDLSink struct {
	*base.BaseConnector
	path       string
	table      string
	dialect    Dialect
	primaryKey []string

	mu        sync.Mutex
	fields    []JSONField
	statement string
}

// NewDDLSink creates a DDL sink from its configuration.
func NewDDLSink(cfg config.Connector) (*DDLSink, error) {
	table, err := cfg.Settings.Require("table")
	if err != nil {
		return nil, err
	}
	d, err := LookupDialect(cfg.Settings.String("dialect", "postgres"))
	if err != nil {
		return nil, err
	}
	return &DDLSink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		path:          cfg.Settings.String("path", base.StdioPath),
		table:         table,
		dialect:       d,
		primaryKey:    cfg.Settings.List("primary_key"),
	}, nil
}

func (s *DDLSink) Open(ctx context.Context) error { return nil }

// Write accepts one schema entry. Entries without name or type are
// rejected.
func (s *DDLSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	f, err := ColumnFromRecord(rec)
	if err != nil {
		return core.Ack{}, errors.Wrap(err, errors.ErrorTypeWrite, errors.Reason(err))
	}
	s.mu.Lock()
	s.fields = append(s.fields, f)
	s.mu.Unlock()
	return core.Ack{Written: 1}, nil
}

// Flush renders and writes the statement.
func (s *DDLSink) Flush(ctx context.Context) (core.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := TableFromJSONSchema(s.table, s.fields, s.primaryKey...)
	if err != nil {
		return core.Ack{}, err
	}
	stmt, err := CreateTable(t, s.dialect)
	if err != nil {
		return core.Ack{}, err
	}
	s.statement = stmt
	if err := writeOutput(s.path, []byte(stmt+"\n")); err != nil {
		return core.Ack{}, err
	}
	return core.Ack{}, nil
}

func (s *DDLSink) Close(ctx context.Context) error { return nil }

// Dialect returns the dialect the statement is rendered for.
func (s *DDLSink) Dialect() Dialect { return s.dialect }

// Statement returns the statement rendered by the last Flush.
func (s *DDLSink) Statement() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statement
}

func writeOutput(path string, data []byte) error {
	w, err := base.OpenOutput(path, compression.None)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, errors.ErrorTypeFile, "write %s", path)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "close %s", path)
	}
	return nil
}
