// Package formats encodes and decodes record streams for file and object
// connectors.
//
// A Writer owns no file handle: the caller opens the destination (possibly
// wrapped by pkg/compression), hands it to NewWriter and closes it after
// the Writer is closed.
package formats

import (
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

// Format represents a record file format
type Format string

const (
	// CSV is delimited text with an optional header row
	CSV Format = "csv"
	// JSONL is one JSON object per line
	JSONL Format = "jsonl"
	// Avro is an Avro object container file
	Avro Format = "avro"
)

// Writer encodes records onto an io.Writer.
type Writer interface {
	// Write encodes one record. A write-typed error rejects only that
	// record; the writer stays usable.
	Write(rec *models.Record) error
	// Flush pushes buffered records to the underlying writer.
	Flush() error
	// Close flushes and finalizes the stream. It does not close the
	// underlying writer.
	Close() error
	Format() Format
	RecordsWritten() int64
}

// WriterConfig configures NewWriter.
type WriterConfig struct {
	Format Format
	// CSV options
	Delimiter rune
	Header    bool
	Columns   []string
	Strict    bool
	// Avro options
	AvroSchema string
	AvroCodec  string
	BatchSize  int
}

// DefaultWriterConfig returns the configuration for f with its defaults.
func DefaultWriterConfig(f Format) WriterConfig {
	return WriterConfig{
		Format:    f,
		Delimiter: ',',
		Header:    true,
		Strict:    true,
		AvroCodec: "deflate",
		BatchSize: 500,
	}
}

// NewWriter creates a writer for cfg.Format.
func NewWriter(w io.Writer, cfg WriterConfig) (Writer, error) {
	switch cfg.Format {
	case CSV:
		return newCSVWriter(w, cfg), nil
	case JSONL, "json":
		return newJSONLWriter(w), nil
	case Avro:
		return newAvroWriter(w, cfg)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported format %q", cfg.Format)
	}
}

// Parse resolves a format name.
func Parse(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv", "tsv":
		return CSV, nil
	case "jsonl", "json", "ndjson":
		return JSONL, nil
	case "avro":
		return Avro, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported format %q", name)
	}
}

// FromPath derives the format and compression of a file from its name,
// e.g. "events.jsonl.gz" is JSONL with gzip.
func FromPath(path string) (Format, compression.Algorithm, error) {
	algo, base := compression.FromPath(path)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if ext == "" {
		return "", algo, errors.Newf(errors.ErrorTypeConfig, "cannot derive format from %q", path)
	}
	f, err := Parse(ext)
	return f, algo, err
}

// Extension returns the file extension of f.
func Extension(f Format) string {
	return "." + string(f)
}

// Stringify renders a record value as text for formats without types.
// Nested records and sequences are rendered as JSON.
func Stringify(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case []byte:
		return string(val), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeWrite, "cannot encode value")
		}
		return string(data), nil
	}
}

// Native converts a record value into plain Go values, turning nested
// records into maps.
func Native(v interface{}) interface{} {
	switch val := v.(type) {
	case *models.Record:
		return val.ToMap()
	case []*models.Record:
		out := make([]interface{}, len(val))
		for i, r := range val {
			out[i] = r.ToMap()
		}
		return out
	default:
		return v
	}
}
