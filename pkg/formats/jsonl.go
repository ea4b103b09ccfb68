package formats

import (
	"bufio"
	"io"

	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

type jsonlWriter struct {
	w       *bufio.Writer
	written int64
}

func newJSONLWriter(w io.Writer) *jsonlWriter {
	return &jsonlWriter{w: bufio.NewWriterSize(w, 64*1024)}
}

func (j *jsonlWriter) Write(rec *models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "cannot encode record as json")
	}
	if _, err := j.w.Write(data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "write json line")
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "write json line")
	}
	j.written++
	return nil
}

func (j *jsonlWriter) Flush() error {
	if err := j.w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "flush json lines")
	}
	return nil
}

func (j *jsonlWriter) Close() error { return j.Flush() }

func (j *jsonlWriter) Format() Format { return JSONL }

func (j *jsonlWriter) RecordsWritten() int64 { return j.written }
