package formats

import (
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

type csvWriter struct {
	w       *csv.Writer
	header  bool
	strict  bool
	columns []string
	known   map[string]struct{}
	row     []string
	written int64
}

func newCSVWriter(w io.Writer, cfg WriterConfig) *csvWriter {
	cw := csv.NewWriter(w)
	if cfg.Delimiter != 0 {
		cw.Comma = cfg.Delimiter
	}
	c := &csvWriter{w: cw, header: cfg.Header, strict: cfg.Strict}
	if len(cfg.Columns) > 0 {
		c.setColumns(cfg.Columns)
	}
	return c
}

func (c *csvWriter) setColumns(cols []string) {
	c.columns = cols
	c.known = make(map[string]struct{}, len(cols))
	for _, col := range cols {
		c.known[col] = struct{}{}
	}
	c.row = make([]string, len(cols))
}

// Write encodes rec in column order. The columns are fixed by the
// configuration or by the first record; a later record carrying a field
// outside them is rejected when strict.
func (c *csvWriter) Write(rec *models.Record) error {
	if c.columns == nil {
		c.setColumns(rec.Names())
	}
	if c.written == 0 && c.header {
		if err := c.w.Write(c.columns); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "write csv header")
		}
		c.header = false
	}

	if c.strict {
		for _, name := range rec.Names() {
			if _, ok := c.known[name]; !ok {
				return errors.Newf(errors.ErrorTypeWrite, "field %s not in csv header", name)
			}
		}
	}
	for i, col := range c.columns {
		v, _ := rec.Get(col)
		s, err := Stringify(v)
		if err != nil {
			return err
		}
		c.row[i] = s
	}
	if err := c.w.Write(c.row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "write csv row")
	}
	c.written++
	return nil
}

func (c *csvWriter) Flush() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "flush csv")
	}
	return nil
}

func (c *csvWriter) Close() error { return c.Flush() }

func (c *csvWriter) Format() Format { return CSV }

func (c *csvWriter) RecordsWritten() int64 { return c.written }

// Columns returns the header the writer settled on, if any.
func (c *csvWriter) Columns() []string { return c.columns }

// ParseDelimiter accepts a single character or one of the names tab,
// pipe, semicolon and comma.
func ParseDelimiter(v string) (rune, error) {
	switch strings.ToLower(v) {
	case "", "comma":
		return ',', nil
	case "\\t", "\t", "tab":
		return '\t', nil
	case "pipe":
		return '|', nil
	case "semicolon":
		return ';', nil
	}
	r, size := utf8.DecodeRuneInString(v)
	if size != len(v) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, errors.Newf(errors.ErrorTypeConfig, "invalid delimiter %q", v)
	}
	return r, nil
}
