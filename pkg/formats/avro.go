package formats

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

// avroField is a top-level field of a record schema, reduced to what the
// record conversion needs.
type avroField struct {
	name string
	// kind is the non-null type name, e.g. "long" or "long.timestamp-micros"
	kind string
	// union is set when the field is declared as a union and values must be
	// wrapped with goavro.Union
	union bool
}

type avroSchemaDoc struct {
	Type   interface{} `json:"type"`
	Name   string      `json:"name"`
	Fields []struct {
		Name string      `json:"name"`
		Type interface{} `json:"type"`
	} `json:"fields"`
}

func parseAvroFields(schema string) ([]avroField, error) {
	var doc avroSchemaDoc
	if err := json.Unmarshal([]byte(schema), &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse avro schema")
	}
	if t, _ := doc.Type.(string); t != "record" {
		return nil, errors.New(errors.ErrorTypeConfig, "avro schema must be a record")
	}
	fields := make([]avroField, 0, len(doc.Fields))
	for _, f := range doc.Fields {
		af := avroField{name: f.Name}
		if members, ok := f.Type.([]interface{}); ok {
			af.union = true
			for _, m := range members {
				if name := avroTypeName(m); name != "null" {
					af.kind = name
					break
				}
			}
		} else {
			af.kind = avroTypeName(f.Type)
		}
		fields = append(fields, af)
	}
	return fields, nil
}

func avroTypeName(t interface{}) string {
	switch v := t.(type) {
	case string:
		return v
	case map[string]interface{}:
		typ, _ := v["type"].(string)
		if lt, ok := v["logicalType"].(string); ok {
			return typ + "." + lt
		}
		if name, ok := v["name"].(string); ok && (typ == "record" || typ == "enum" || typ == "fixed") {
			return name
		}
		return typ
	default:
		return ""
	}
}

type avroWriter struct {
	codec   *goavro.Codec
	ocf     *goavro.OCFWriter
	fields  []avroField
	batch   []interface{}
	size    int
	written int64
}

func newAvroWriter(w io.Writer, cfg WriterConfig) (*avroWriter, error) {
	if cfg.AvroSchema == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "avro writer requires a schema")
	}
	fields, err := parseAvroFields(cfg.AvroSchema)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(cfg.AvroSchema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "compile avro schema")
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: avroCompression(cfg.AvroCodec),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "create avro container")
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = 500
	}
	return &avroWriter{codec: codec, ocf: ocf, fields: fields, size: size}, nil
}

func avroCompression(name string) string {
	switch strings.ToLower(name) {
	case "snappy":
		return goavro.CompressionSnappyLabel
	case "deflate", "gzip":
		return goavro.CompressionDeflateLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// Write converts rec to the schema's native form and checks that it
// encodes before it is buffered, so a bad record never poisons a block.
func (a *avroWriter) Write(rec *models.Record) error {
	datum := make(map[string]interface{}, len(a.fields))
	for _, f := range a.fields {
		v, _ := rec.Get(f.name)
		nv, err := avroNative(f.kind, v)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeWrite, "field %s", f.name)
		}
		if f.union && nv != nil {
			nv = goavro.Union(f.kind, nv)
		}
		datum[f.name] = nv
	}
	if _, err := a.codec.BinaryFromNative(nil, datum); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "record does not match avro schema")
	}
	a.batch = append(a.batch, datum)
	if len(a.batch) >= a.size {
		return a.Flush()
	}
	return nil
}

func avroNative(kind string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case "string":
		return Stringify(v)
	case "long", "int":
		switch n := v.(type) {
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case "double", "float":
		switch n := v.(type) {
		case int64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(n, 64)
		}
	case "long.timestamp-millis", "long.timestamp-micros":
		if s, ok := v.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	}
	return Native(v), nil
}

func (a *avroWriter) Flush() error {
	if len(a.batch) == 0 {
		return nil
	}
	if err := a.ocf.Append(a.batch); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "append avro block")
	}
	a.written += int64(len(a.batch))
	a.batch = a.batch[:0]
	return nil
}

func (a *avroWriter) Close() error { return a.Flush() }

func (a *avroWriter) Format() Format { return Avro }

func (a *avroWriter) RecordsWritten() int64 { return a.written + int64(len(a.batch)) }

// AvroReader decodes records from an Avro object container file.
type AvroReader struct {
	ocf    *goavro.OCFReader
	fields []avroField
	pos    int64
}

// NewAvroReader reads the container header from r.
func NewAvroReader(r io.Reader) (*AvroReader, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "open avro container")
	}
	fields, err := parseAvroFields(ocf.Codec().Schema())
	if err != nil {
		return nil, err
	}
	return &AvroReader{ocf: ocf, fields: fields}, nil
}

// Next returns the next record or io.EOF.
func (a *AvroReader) Next() (*models.Record, error) {
	if !a.ocf.Scan() {
		if err := a.ocf.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "scan avro container")
		}
		return nil, io.EOF
	}
	a.pos++
	datum, err := a.ocf.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "cannot decode avro record").WithDetail("position", a.pos)
	}
	m, ok := datum.(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ErrorTypeDecode, "avro datum is not a record").WithDetail("position", a.pos)
	}
	b := models.NewBuilder(len(a.fields))
	for _, f := range a.fields {
		v := m[f.name]
		if f.union {
			if u, ok := v.(map[string]interface{}); ok && len(u) == 1 {
				for _, inner := range u {
					v = inner
				}
			}
		}
		b.Set(f.name, v)
	}
	return b.Meta(models.Metadata{Position: a.pos}).Build(), nil
}
