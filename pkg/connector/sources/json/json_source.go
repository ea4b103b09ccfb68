// Package json reads JSON documents as records: one object per line, or the
// elements of a top-level array.
package json

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	jsonpkg "github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

// Format is the layout of a JSON input.
type Format string

const (
	// Auto looks at the first non-blank byte: '[' means Array.
	Auto Format = "auto"
	// Lines is one object per line (JSONL, NDJSON).
	Lines Format = "lines"
	// Array is a single array of objects.
	Array Format = "array"
)

// JSONSource reads JSON objects from a file or stdin.
type JSONSource struct {
	*base.BaseConnector

	path   string
	format Format
	algo   compression.Algorithm

	in       io.ReadCloser
	lines    *bufio.Reader
	dec      *jsonpkg.Decoder
	position int64
}

// NewJSONSource creates a JSON source from its configuration.
func NewJSONSource(cfg config.Connector) (*JSONSource, error) {
	path, err := cfg.Settings.Require("path")
	if err != nil {
		return nil, err
	}
	format := Format(strings.ToLower(cfg.Settings.String("format", string(Auto))))
	switch format {
	case Auto, Lines, Array:
	case "jsonl", "ndjson":
		format = Lines
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "json source: unknown format %q", format)
	}
	algo, err := base.Compression(cfg.Settings, path)
	if err != nil {
		return nil, err
	}
	return &JSONSource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		path:          path,
		format:        format,
		algo:          algo,
	}, nil
}

func (s *JSONSource) Bounded() bool { return true }

func (s *JSONSource) Open(ctx context.Context) error {
	if s.in != nil {
		_ = s.in.Close()
	}
	in, err := base.OpenInput(s.path, s.algo)
	if err != nil {
		return err
	}
	s.in, s.position, s.dec = in, 0, nil
	s.lines = bufio.NewReaderSize(in, 64*1024)

	format := s.format
	if format == Auto {
		format = Lines
		if first, err := s.peekNonBlank(); err == nil && first == '[' {
			format = Array
		}
	}
	if format == Array {
		s.dec = jsonpkg.NewDecoder(s.lines)
		tok, err := s.dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFile, "read %s", s.path)
		}
		if d, ok := tok.(jsonpkg.Delim); !ok || d != '[' {
			return errors.Newf(errors.ErrorTypeFile, "%s: expected a JSON array", s.path)
		}
	}
	s.Logger().Debug("json source opened", zap.String("path", s.path), zap.Bool("array", s.dec != nil))
	return nil
}

// peekNonBlank returns the first byte that is not white space without
// consuming it.
func (s *JSONSource) peekNonBlank() (byte, error) {
	for {
		b, err := s.lines.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = s.lines.ReadByte()
		default:
			return b[0], nil
		}
	}
}

// Read returns the next object. A line or element that is not a JSON
// object is a decode error; in array mode a syntax error is fatal.
func (s *JSONSource) Read(ctx context.Context) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.lines == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "json source is not open")
	}
	if s.dec != nil {
		return s.readElement()
	}
	return s.readLine()
}

func (s *JSONSource) readLine() (*models.Record, error) {
	for {
		line, err := s.lines.ReadBytes('\n')
		if len(line) == 0 && err == io.EOF {
			return nil, io.EOF
		}
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "read %s", s.path)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		s.position++
		rec, perr := models.ParseJSON(line)
		if perr != nil {
			return nil, decodeError(perr, s.position)
		}
		return rec.WithMeta(models.Metadata{Source: s.Name(), Position: s.position}), nil
	}
}

func (s *JSONSource) readElement() (*models.Record, error) {
	if !s.dec.More() {
		return nil, io.EOF
	}
	var raw jsonpkg.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "%s: element %d", s.path, s.position+1)
	}
	s.position++
	rec, err := models.ParseJSON(raw)
	if err != nil {
		return nil, decodeError(err, s.position)
	}
	return rec.WithMeta(models.Metadata{Source: s.Name(), Position: s.position}), nil
}

func decodeError(err error, position int64) error {
	return errors.Wrap(err, errors.ErrorTypeDecode, "invalid json object").WithDetail("position", position)
}

func (s *JSONSource) Close(ctx context.Context) error {
	if s.in == nil {
		return nil
	}
	err := s.in.Close()
	s.in, s.lines, s.dec = nil, nil, nil
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "close %s", s.path)
	}
	return nil
}
