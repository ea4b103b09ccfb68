// Package csv reads delimited text files as records.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/models"
)

// CSVSource reads one record per row. With a header row the header names
// the fields; otherwise the columns setting does, or column_N.
type CSVSource struct {
	*base.BaseConnector

	path        string
	delimiter   rune
	header      bool
	columns     []string
	strict      bool
	emptyAsNull bool
	normalize   bool
	algo        compression.Algorithm
	charset     encoding.Encoding

	in      io.ReadCloser
	reader  *csv.Reader
	headers []string
	row     int64
}

// NewCSVSource creates a CSV source from its configuration.
func NewCSVSource(cfg config.Connector) (*CSVSource, error) {
	return newSource(cfg, ",")
}

func newSource(cfg config.Connector, defaultDelimiter string) (*CSVSource, error) {
	s := cfg.Settings
	path, err := s.Require("path")
	if err != nil {
		return nil, err
	}
	delim, err := formats.ParseDelimiter(s.String("delimiter", defaultDelimiter))
	if err != nil {
		return nil, err
	}
	header, err := s.Bool("header", true)
	if err != nil {
		return nil, err
	}
	strict, err := s.Bool("strict", false)
	if err != nil {
		return nil, err
	}
	emptyAsNull, err := s.Bool("empty_as_null", true)
	if err != nil {
		return nil, err
	}
	normalize, err := s.Bool("normalize", false)
	if err != nil {
		return nil, err
	}
	algo, err := base.Compression(s, path)
	if err != nil {
		return nil, err
	}
	charset, err := Charset(s.String("encoding", ""))
	if err != nil {
		return nil, err
	}

	return &CSVSource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		path:          path,
		delimiter:     delim,
		header:        header,
		columns:       s.List("columns"),
		strict:        strict,
		emptyAsNull:   emptyAsNull,
		normalize:     normalize,
		algo:          algo,
		charset:       charset,
	}, nil
}

// Charset resolves a character set name such as "latin1" or
// "windows-1252". UTF-8 and the empty name need no decoding and return nil.
func Charset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "unknown encoding %q", name)
	}
	return enc, nil
}

func (s *CSVSource) Bounded() bool { return true }

// Open opens the file and reads the header row.
func (s *CSVSource) Open(ctx context.Context) error {
	if s.in != nil {
		_ = s.in.Close()
		s.in = nil
	}
	in, err := base.OpenInput(s.path, s.algo)
	if err != nil {
		return err
	}
	var r io.Reader = in
	if s.charset != nil {
		r = transform.NewReader(r, s.charset.NewDecoder())
	}
	if s.normalize {
		r = transform.NewReader(r, norm.NFC)
	}

	reader := csv.NewReader(r)
	reader.Comma = s.delimiter
	reader.ReuseRecord = true
	reader.FieldsPerRecord = -1

	s.in, s.reader, s.row = in, reader, 0
	s.headers = append([]string(nil), s.columns...)

	if s.header {
		row, err := reader.Read()
		switch {
		case err == io.EOF:
			s.Logger().Debug("empty csv input", zap.String("path", s.path))
			return nil
		case err != nil:
			return errors.Wrapf(err, errors.ErrorTypeFile, "read csv header of %s", s.path)
		}
		s.row++
		if len(s.headers) == 0 {
			s.headers = make([]string, len(row))
			for i, h := range row {
				s.headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
			}
		}
		if err := checkHeaders(s.headers); err != nil {
			return err
		}
	}
	if s.strict && len(s.headers) > 0 {
		reader.FieldsPerRecord = len(s.headers)
	}

	s.Logger().Debug("csv source opened",
		zap.String("path", s.path),
		zap.Strings("columns", s.headers),
		zap.String("compression", string(s.algo)))
	return nil
}

func checkHeaders(headers []string) error {
	seen := make(map[string]struct{}, len(headers))
	for i, h := range headers {
		if h == "" {
			return errors.Newf(errors.ErrorTypeConfig, "csv header column %d is empty", i+1)
		}
		if _, dup := seen[h]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "csv header column %q appears twice", h)
		}
		seen[h] = struct{}{}
	}
	return nil
}

// Read returns the next row. A row with the wrong number of columns (strict
// mode) or broken quoting is a decode error for that row only.
func (s *CSVSource) Read(ctx context.Context) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.reader == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "csv source is not open")
	}
	row, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	s.row++
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, errors.Wrap(err, errors.ErrorTypeDecode, "malformed csv row").WithDetail("row", s.row)
		}
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "read %s", s.path)
	}

	b := models.NewBuilder(len(row))
	for i, v := range row {
		name := s.column(i)
		if name == "" {
			continue
		}
		if v == "" && s.emptyAsNull {
			b.Set(name, nil)
			continue
		}
		b.Set(name, v)
	}
	b.Meta(models.Metadata{Source: s.Name(), Position: s.row})
	return b.Build(), nil
}

// column names the i-th cell. Cells past a header are dropped; without any
// header they are numbered.
func (s *CSVSource) column(i int) string {
	if i < len(s.headers) {
		return s.headers[i]
	}
	if len(s.headers) > 0 {
		return ""
	}
	return fmt.Sprintf("column_%d", i+1)
}

// Discover reports the header as a schema of string fields.
func (s *CSVSource) Discover(ctx context.Context) (*core.Schema, error) {
	if len(s.headers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "csv source has no header to discover")
	}
	schema := &core.Schema{Name: s.Name()}
	for _, h := range s.headers {
		schema.Fields = append(schema.Fields, core.Field{Name: h, Type: core.FieldTypeString, Nullable: true})
	}
	return schema, nil
}

func (s *CSVSource) Close(ctx context.Context) error {
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
