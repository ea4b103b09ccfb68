// Package excel reads a worksheet of an .xlsx workbook as records.
package excel

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// ExcelSource streams the rows of one sheet. Rows above header_row are
// skipped; the header row names the fields. Cell values are the formatted
// text excel shows.
type ExcelSource struct {
	*base.BaseConnector

	path        string
	sheet       string
	headerRow   int
	emptyAsNull bool

	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	row     int64
}

// NewExcelSource creates an excel source from its configuration.
func NewExcelSource(cfg config.Connector) (*ExcelSource, error) {
	path, err := cfg.Settings.Require("path")
	if err != nil {
		return nil, err
	}
	headerRow, err := cfg.Settings.Int("header_row", 1)
	if err != nil {
		return nil, err
	}
	if headerRow < 1 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "header_row must be 1 or more, got %d", headerRow)
	}
	emptyAsNull, err := cfg.Settings.Bool("empty_as_null", true)
	if err != nil {
		return nil, err
	}
	return &ExcelSource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		path:          path,
		sheet:         cfg.Settings.String("sheet", ""),
		headerRow:     headerRow,
		emptyAsNull:   emptyAsNull,
	}, nil
}

func (s *ExcelSource) Bounded() bool { return true }

// Open loads the workbook and positions the reader after the header row.
// Without a sheet setting the first sheet is read.
func (s *ExcelSource) Open(ctx context.Context) error {
	_ = s.Close(ctx)

	in, err := base.OpenInput(s.path, compression.None)
	if err != nil {
		return err
	}
	f, err := excelize.OpenReader(in)
	_ = in.Close()
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "open workbook %s", s.path)
	}

	sheet := s.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			_ = f.Close()
			return errors.Newf(errors.ErrorTypeFile, "workbook %s has no sheets", s.path)
		}
		sheet = sheets[0]
	} else if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		_ = f.Close()
		return errors.Newf(errors.ErrorTypeConfig, "workbook %s has no sheet %q (have %s)",
			s.path, sheet, strings.Join(f.GetSheetList(), ", "))
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, errors.ErrorTypeFile, "read sheet %s", sheet)
	}
	s.file, s.rows, s.row, s.headers = f, rows, 0, nil

	for s.row < int64(s.headerRow) {
		if !rows.Next() {
			s.Logger().Debug("sheet ends before its header row", zap.String("sheet", sheet))
			return nil
		}
		s.row++
		if s.row < int64(s.headerRow) {
			continue
		}
		cols, err := rows.Columns()
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFile, "read header of sheet %s", sheet)
		}
		s.headers = headerNames(cols)
	}
	s.Logger().Debug("excel source opened",
		zap.String("path", s.path),
		zap.String("sheet", sheet),
		zap.Strings("columns", s.headers))
	return nil
}

// headerNames trims the header cells and names blank ones after their
// column letter.
func headerNames(cols []string) []string {
	out := make([]string, len(cols))
	seen := make(map[string]int, len(cols))
	for i, c := range cols {
		name := strings.TrimSpace(c)
		if name == "" {
			letter, _ := excelize.ColumnNumberToName(i + 1)
			name = "column_" + letter
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

// Read returns the next non-empty row.
func (s *ExcelSource) Read(ctx context.Context) (*models.Record, error) {
	if s.rows == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "excel source is not open")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.rows.Next() {
			if err := s.rows.Error(); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeFile, "read %s", s.path)
			}
			return nil, io.EOF
		}
		s.row++
		cols, err := s.rows.Columns()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDecode, "cannot read row").WithDetail("row", s.row)
		}
		if blank(cols) {
			continue
		}

		b := models.NewBuilder(len(s.headers))
		for i, name := range s.headers {
			var v interface{}
			if i < len(cols) {
				v = cols[i]
			}
			if v == "" && s.emptyAsNull {
				v = nil
			}
			if v == nil && !s.emptyAsNull {
				v = ""
			}
			b.Set(name, v)
		}
		b.Meta(models.Metadata{Source: s.Name(), Position: s.row})
		return b.Build(), nil
	}
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Discover reports the header row as string fields.
func (s *ExcelSource) Discover(ctx context.Context) (*core.Schema, error) {
	if s.headers == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "excel source has no header to discover")
	}
	schema := &core.Schema{Name: s.Name()}
	for _, h := range s.headers {
		schema.Fields = append(schema.Fields, core.Field{Name: h, Type: core.FieldTypeString, Nullable: true})
	}
	return schema, nil
}

func (s *ExcelSource) Close(ctx context.Context) error {
	var err error
	if s.rows != nil {
		err = s.rows.Close()
		s.rows = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.file = nil
	}
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "close %s", s.path)
	}
	return nil
}
