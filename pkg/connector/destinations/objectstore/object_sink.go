// Package objectstore writes records as a series of objects in a GCS or S3
// bucket, max_records_per_object records per object.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/models"
)

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	Close() error
}

// Connect creates the uploader for a bucket.
type Connect func(ctx context.Context, settings config.Settings) (Uploader, error)

// object is an encoded, not yet uploaded object.
type object struct {
	key     string
	data    []byte
	records int
}

// ObjectSink encodes records into an in-memory object and uploads it once
// it holds max_records_per_object records, or on Flush. Records are
// acknowledged when their object is uploaded. A failed upload is retried
// by the next Write or Flush before any new record is accepted.
type ObjectSink struct {
	*base.BaseConnector

	bucket     string
	prefix     string
	format     formats.Format
	algo       compression.Algorithm
	wcfg       formats.WriterConfig
	maxRecords int
	connect    Connect
	run        string

	mu       sync.Mutex
	uploader Uploader
	seq      int
	buf      *bytes.Buffer
	enc      io.WriteCloser
	w        formats.Writer
	count    int
	pending  *object
}

func newObjectSink(cfg config.Connector, connect Connect) (*ObjectSink, error) {
	bucket, err := cfg.Settings.Require("bucket")
	if err != nil {
		return nil, err
	}
	format, err := formats.Parse(cfg.Settings.String("format", "jsonl"))
	if err != nil {
		return nil, err
	}
	if format == formats.Avro {
		return nil, errors.New(errors.ErrorTypeConfig, "object sinks write csv or jsonl")
	}
	algo, err := compression.Parse(cfg.Settings.String("compression", "gzip"))
	if err != nil {
		return nil, err
	}
	maxRecords, err := cfg.Settings.Int("max_records_per_object", 100000)
	if err != nil {
		return nil, err
	}
	if maxRecords < 1 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "max_records_per_object must be positive, got %d", maxRecords)
	}
	wcfg := formats.DefaultWriterConfig(format)
	wcfg.Columns = cfg.Settings.List("columns")

	return &ObjectSink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		bucket:        bucket,
		prefix:        strings.Trim(cfg.Settings.String("prefix", ""), "/"),
		format:        format,
		algo:          algo,
		wcfg:          wcfg,
		maxRecords:    maxRecords,
		connect:       connect,
		run:           time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
	}, nil
}

// WithUploader makes the sink upload through u instead of connecting.
func (s *ObjectSink) WithUploader(u Uploader) *ObjectSink {
	s.connect = func(context.Context, config.Settings) (Uploader, error) { return u, nil }
	return s
}

func (s *ObjectSink) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploader != nil {
		return nil
	}
	u, err := s.connect(ctx, s.Settings())
	if err != nil {
		return err
	}
	s.uploader = u
	s.Logger().Info("object sink opened",
		zap.String("bucket", s.bucket),
		zap.String("prefix", s.prefix),
		zap.String("format", string(s.format)),
		zap.Int("max_records_per_object", s.maxRecords))
	return nil
}

// key names the n-th object of this run.
func (s *ObjectSink) key(n int) string {
	name := fmt.Sprintf("%s-%05d%s%s", s.run, n, formats.Extension(s.format), compression.Extension(s.algo))
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *ObjectSink) contentType() string {
	if s.format == formats.CSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

func (s *ObjectSink) start() error {
	s.buf = new(bytes.Buffer)
	enc, err := compression.NewWriter(s.buf, s.algo, compression.Default)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "compress object")
	}
	w, err := formats.NewWriter(enc, s.wcfg)
	if err != nil {
		return err
	}
	s.enc, s.w, s.count = enc, w, 0
	return nil
}

// finish closes the current object and makes it the pending upload.
func (s *ObjectSink) finish() error {
	if s.w == nil || s.count == 0 {
		return nil
	}
	if err := s.w.Close(); err != nil {
		return err
	}
	if err := s.enc.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "compress object")
	}
	s.seq++
	s.pending = &object{key: s.key(s.seq), data: s.buf.Bytes(), records: s.count}
	s.buf, s.enc, s.w, s.count = nil, nil, nil, 0
	return nil
}

// upload sends the pending object, if any.
func (s *ObjectSink) upload(ctx context.Context) (core.Ack, error) {
	if s.pending == nil {
		return core.Ack{}, nil
	}
	obj := s.pending
	if err := s.uploader.Upload(ctx, obj.key, s.contentType(), bytes.NewReader(obj.data)); err != nil {
		return core.Ack{}, base.Classify(err, "upload "+obj.key)
	}
	s.pending = nil
	s.Logger().Debug("object uploaded",
		zap.String("key", obj.key),
		zap.Int("records", obj.records),
		zap.Int("bytes", len(obj.data)))
	return core.Ack{Written: obj.records}, nil
}

func (s *ObjectSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploader == nil {
		return core.Ack{}, errors.New(errors.ErrorTypeInternal, "object sink is not open")
	}
	if s.count >= s.maxRecords {
		if err := s.finish(); err != nil {
			return core.Ack{}, err
		}
	}
	ack, err := s.upload(ctx)
	if err != nil {
		return core.Ack{}, err
	}
	if s.w == nil {
		if err := s.start(); err != nil {
			return ack, err
		}
	}
	if err := s.w.Write(rec); err != nil {
		if errors.IsRecordLevel(err) {
			ack.Rejected = append(ack.Rejected, err)
			return ack, nil
		}
		return ack, err
	}
	s.count++
	return ack, nil
}

// Flush uploads the object being filled, however many records it holds.
func (s *ObjectSink) Flush(ctx context.Context) (core.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploader == nil {
		return core.Ack{}, nil
	}
	if err := s.finish(); err != nil {
		return core.Ack{}, err
	}
	return s.upload(ctx)
}

func (s *ObjectSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploader == nil {
		return nil
	}
	if s.pending != nil || s.count > 0 {
		s.Logger().Warn("closing object sink with records not uploaded",
			zap.Int("buffered", s.count))
	}
	err := s.uploader.Close()
	s.uploader = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "close object store client")
	}
	return nil
}
