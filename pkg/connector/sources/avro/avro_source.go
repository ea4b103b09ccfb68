// Package avro reads records from an Avro object container file.
package avro

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/models"
)

// AvroSource reads the records of one container file. Union values are
// unwrapped to their branch value.
type AvroSource struct {
	*base.BaseConnector

	path string
	algo compression.Algorithm

	in     io.ReadCloser
	reader *formats.AvroReader
}

func NewAvroSource(cfg config.Connector) (*AvroSource, error) {
	path, err := cfg.Settings.Require("path")
	if err != nil {
		return nil, err
	}
	algo, err := base.Compression(cfg.Settings, path)
	if err != nil {
		return nil, err
	}
	return &AvroSource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		path:          path,
		algo:          algo,
	}, nil
}

func (s *AvroSource) Bounded() bool { return true }

func (s *AvroSource) Open(ctx context.Context) error {
	_ = s.Close(ctx)
	in, err := base.OpenInput(s.path, s.algo)
	if err != nil {
		return err
	}
	r, err := formats.NewAvroReader(in)
	if err != nil {
		_ = in.Close()
		return errors.Wrapf(err, errors.ErrorTypeFile, "read %s", s.path)
	}
	s.in, s.reader = in, r
	s.Logger().Debug("avro source opened", zap.String("path", s.path))
	return nil
}

func (s *AvroSource) Read(ctx context.Context) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.reader == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "avro source is not open")
	}
	rec, err := s.reader.Next()
	if err != nil {
		return nil, err
	}
	meta := rec.Meta()
	meta.Source = s.Name()
	return rec.WithMeta(meta), nil
}

func (s *AvroSource) Close(ctx context.Context) error {
	if s.in == nil {
		return nil
	}
	err := s.in.Close()
	s.in, s.reader = nil, nil
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "close %s", s.path)
	}
	return nil
}
