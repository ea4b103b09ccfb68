package base

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/models"
)

// FileSink writes records in one of the file formats to a path, or to
// standard output for "-". It is an ordered sink: records land in the
// order they are written.
type FileSink struct {
	*BaseConnector

	path string
	algo compression.Algorithm
	wcfg formats.WriterConfig

	mu  sync.Mutex
	out io.WriteCloser
	w   formats.Writer
}

// NewFileSink creates a file sink writing the format of wcfg. The path
// setting defaults to standard output.
func NewFileSink(cfg config.Connector, wcfg formats.WriterConfig) (*FileSink, error) {
	path := cfg.Settings.String("path", StdioPath)
	algo, err := Compression(cfg.Settings, path)
	if err != nil {
		return nil, err
	}
	return &FileSink{
		BaseConnector: NewBaseConnector(cfg, core.ConnectorTypeSink),
		path:          path,
		algo:          algo,
		wcfg:          wcfg,
	}, nil
}

// Path returns the output path.
func (s *FileSink) Path() string { return s.path }

// Open creates the output, truncating an existing file.
func (s *FileSink) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		return nil
	}
	out, err := OpenOutput(s.path, s.algo)
	if err != nil {
		return err
	}
	w, err := formats.NewWriter(out, s.wcfg)
	if err != nil {
		_ = out.Close()
		return err
	}
	s.out, s.w = out, w
	s.Logger().Debug("file sink opened",
		zap.String("path", s.path),
		zap.String("format", string(s.wcfg.Format)),
		zap.String("compression", string(s.algo)))
	return nil
}

// Write encodes rec. A record the format cannot represent is rejected
// with a write error.
func (s *FileSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return core.Ack{}, errors.Newf(errors.ErrorTypeInternal, "file sink %s is not open", s.Name())
	}
	if err := s.w.Write(rec); err != nil {
		return core.Ack{}, err
	}
	return core.Ack{Written: 1}, nil
}

func (s *FileSink) Flush(ctx context.Context) (core.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return core.Ack{}, nil
	}
	return core.Ack{}, s.w.Flush()
}

// Close flushes the format writer and closes the output.
func (s *FileSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	if cerr := s.out.Close(); cerr != nil && err == nil {
		err = errors.Wrapf(cerr, errors.ErrorTypeFile, "close %s", s.path)
	}
	s.Logger().Debug("file sink closed", zap.String("path", s.path), zap.Int64("records", s.w.RecordsWritten()))
	s.w, s.out = nil, nil
	return err
}
