// Package bigquery holds the client setup, error classification and value
// conversion shared by the BigQuery source and sink.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
	"github.com/binarymachines/mercury/pkg/schema"
)

// Options locate a table and the credentials to reach it.
type Options struct {
	Project         string
	Dataset         string
	Table           string
	Location        string
	CredentialsFile string
}

// Parse reads project, dataset, table, location and credentials_file.
// Table may be given as "dataset.table".
func Parse(settings config.Settings) (Options, error) {
	opts := Options{
		Project:         settings.String("project", ""),
		Dataset:         settings.String("dataset", ""),
		Table:           settings.String("table", ""),
		Location:        settings.String("location", ""),
		CredentialsFile: settings.String("credentials_file", ""),
	}
	if opts.Project == "" {
		return opts, errors.New(errors.ErrorTypeConfig, "setting \"project\" is required")
	}
	if i := strings.LastIndex(opts.Table, "."); i > 0 && opts.Dataset == "" {
		opts.Dataset, opts.Table = opts.Table[:i], opts.Table[i+1:]
	}
	return opts, nil
}

// FullTable returns project.dataset.table for use in SQL.
func (o Options) FullTable() string {
	return fmt.Sprintf("`%s.%s.%s`", o.Project, o.Dataset, o.Table)
}

// NewClient creates a client, using the credentials file when one is set
// and application default credentials otherwise.
func NewClient(ctx context.Context, o Options) (*bigquery.Client, error) {
	var copts []option.ClientOption
	if o.CredentialsFile != "" {
		copts = append(copts, option.WithCredentialsFile(o.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, o.Project, copts...)
	if err != nil {
		return nil, Classify(err, "create bigquery client")
	}
	if o.Location != "" {
		client.Location = o.Location
	}
	return client, nil
}

// Classify maps a Google API error to an error type by its HTTP status.
func Classify(err error, msg string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return errors.Wrap(err, errors.ErrorTypeAuthentication, msg)
		case apiErr.Code == http.StatusTooManyRequests:
			return errors.Wrap(err, errors.ErrorTypeRateLimit, msg)
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusBadRequest:
			return errors.Wrap(err, errors.ErrorTypeQuery, msg)
		case apiErr.Code >= 500:
			return errors.Wrap(err, errors.ErrorTypeConnection, msg)
		}
	}
	return base.Classify(err, msg)
}

// Record converts a row to a record. RECORD columns become nested records
// and REPEATED columns sequences.
func Record(fields bigquery.Schema, row []bigquery.Value) *models.Record {
	b := models.NewBuilder(len(fields))
	for i, f := range fields {
		var v bigquery.Value
		if i < len(row) {
			v = row[i]
		}
		b.Set(f.Name, fieldValue(f, v))
	}
	return b.Build()
}

func fieldValue(f *bigquery.FieldSchema, v bigquery.Value) interface{} {
	if v == nil {
		return nil
	}
	if f.Repeated {
		items, ok := v.([]bigquery.Value)
		if !ok {
			return Value(v)
		}
		elem := *f
		elem.Repeated = false
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = fieldValue(&elem, item)
		}
		return out
	}
	if f.Type == bigquery.RecordFieldType {
		if nested, ok := v.([]bigquery.Value); ok {
			return Record(f.Schema, nested)
		}
	}
	return Value(v)
}

// Value converts a scalar BigQuery value. NUMERIC becomes a float and the
// civil date and time types their canonical strings.
func Value(v bigquery.Value) interface{} {
	switch t := v.(type) {
	case *big.Rat:
		f, _ := t.Float64()
		return f
	case []byte:
		return string(t)
	case time.Time:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return t
	}
}

// FieldType maps a BigQuery column type to a connector field type.
func FieldType(t bigquery.FieldType) core.FieldType {
	switch t {
	case bigquery.IntegerFieldType:
		return core.FieldTypeInt
	case bigquery.FloatFieldType, bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		return core.FieldTypeFloat
	case bigquery.BooleanFieldType:
		return core.FieldTypeBool
	case bigquery.TimestampFieldType, bigquery.DateTimeFieldType:
		return core.FieldTypeTimestamp
	case bigquery.DateFieldType:
		return core.FieldTypeDate
	case bigquery.JSONFieldType, bigquery.RecordFieldType:
		return core.FieldTypeJSON
	case bigquery.BytesFieldType:
		return core.FieldTypeBinary
	default:
		return core.FieldTypeString
	}
}

// ColumnType maps a coercion name to a BigQuery column type.
func ColumnType(kind string) bigquery.FieldType {
	switch kind {
	case schema.CoerceInt:
		return bigquery.IntegerFieldType
	case schema.CoerceFloat:
		return bigquery.FloatFieldType
	case schema.CoerceBool:
		return bigquery.BooleanFieldType
	case schema.CoerceTimestamp:
		return bigquery.TimestampFieldType
	case schema.CoerceDate:
		return bigquery.DateFieldType
	case schema.CoerceJSON:
		return bigquery.JSONFieldType
	default:
		return bigquery.StringFieldType
	}
}

// Row converts a record to the value map of a streaming insert. Nested
// records become maps and sequences slices.
func Row(rec *models.Record) map[string]bigquery.Value {
	out := make(map[string]bigquery.Value, rec.Len())
	for _, name := range rec.Names() {
		v, _ := rec.Get(name)
		out[name] = rowValue(v)
	}
	return out
}

func rowValue(v interface{}) bigquery.Value {
	switch t := v.(type) {
	case *models.Record:
		return Row(t)
	case []interface{}:
		out := make([]bigquery.Value, len(t))
		for i, item := range t {
			out[i] = rowValue(item)
		}
		return out
	case []*models.Record:
		out := make([]bigquery.Value, len(t))
		for i, item := range t {
			out[i] = Row(item)
		}
		return out
	default:
		return v
	}
}

// InferSchema derives a table schema from sample records. A field seen
// with different scalar types becomes STRING; a field never seen
// non-null is STRING as well.
func InferSchema(recs []*models.Record) bigquery.Schema {
	var (
		order  []string
		fields = make(map[string]*bigquery.FieldSchema)
		typed  = make(map[string]bool)
	)
	for _, rec := range recs {
		for _, name := range rec.Names() {
			v, _ := rec.Get(name)
			f, seen := fields[name]
			if !seen {
				f = &bigquery.FieldSchema{Name: name, Type: bigquery.StringFieldType}
				fields[name] = f
				order = append(order, name)
			}
			if v == nil {
				continue
			}
			inferred := inferField(name, v)
			switch {
			case !typed[name]:
				*f = *inferred
				typed[name] = true
			case f.Type != inferred.Type || f.Repeated != inferred.Repeated:
				*f = bigquery.FieldSchema{Name: name, Type: bigquery.StringFieldType}
			}
		}
	}
	out := make(bigquery.Schema, len(order))
	for i, name := range order {
		out[i] = fields[name]
	}
	return out
}

func inferField(name string, v interface{}) *bigquery.FieldSchema {
	f := &bigquery.FieldSchema{Name: name}
	switch t := v.(type) {
	case int64:
		f.Type = bigquery.IntegerFieldType
	case float64:
		f.Type = bigquery.FloatFieldType
	case bool:
		f.Type = bigquery.BooleanFieldType
	case time.Time:
		f.Type = bigquery.TimestampFieldType
	case *models.Record:
		f.Type = bigquery.RecordFieldType
		f.Schema = InferSchema([]*models.Record{t})
	case []interface{}:
		f.Type = bigquery.StringFieldType
		for _, item := range t {
			if item != nil {
				elem := inferField(name, item)
				f.Type, f.Schema = elem.Type, elem.Schema
				break
			}
		}
		f.Repeated = true
	default:
		f.Type = bigquery.StringFieldType
	}
	return f
}
