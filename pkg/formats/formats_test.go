package formats

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

func rec(t *testing.T, kv ...interface{}) *models.Record {
	t.Helper()
	b := models.NewBuilder(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		b.Set(kv[i].(string), kv[i+1])
	}
	return b.Build()
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, DefaultWriterConfig(CSV))
	require.NoError(t, err)

	require.NoError(t, w.Write(rec(t, "id", 1, "name", "ada", "amount", 10.5)))
	require.NoError(t, w.Write(rec(t, "id", 2, "amount", nil)))

	err = w.Write(rec(t, "id", 3, "extra", true))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))

	require.NoError(t, w.Close())
	assert.Equal(t, "id,name,amount\n1,ada,10.5\n2,,\n", buf.String())
	assert.EqualValues(t, 2, w.RecordsWritten())
}

func TestCSVWriterNestedAndDelimiter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultWriterConfig(CSV)
	cfg.Delimiter = '|'
	cfg.Header = false
	cfg.Columns = []string{"ts", "tags"}
	w, err := NewWriter(&buf, cfg)
	require.NoError(t, err)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tags := rec(t, "a", 1)
	require.NoError(t, w.Write(rec(t, "ts", ts, "tags", tags)))
	require.NoError(t, w.Flush())
	assert.Equal(t, "2024-01-02T03:04:05Z|\"{\"\"a\"\":1}\"\n", buf.String())
}

func TestJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, DefaultWriterConfig(JSONL))
	require.NoError(t, err)

	require.NoError(t, w.Write(rec(t, "b", 1, "a", "x")))
	require.NoError(t, w.Write(rec(t, "c", false)))
	require.NoError(t, w.Close())

	assert.Equal(t, "{\"b\":1,\"a\":\"x\"}\n{\"c\":false}\n", buf.String())
}

const ordersSchema = `{
  "type": "record",
  "name": "order",
  "fields": [
    {"name": "id", "type": "long"},
    {"name": "name", "type": ["null", "string"]},
    {"name": "amount", "type": "double"}
  ]
}`

func TestAvroRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultWriterConfig(Avro)
	cfg.AvroSchema = ordersSchema
	cfg.BatchSize = 2
	w, err := NewWriter(&buf, cfg)
	require.NoError(t, err)

	require.NoError(t, w.Write(rec(t, "id", 1, "name", "ada", "amount", 10)))
	require.NoError(t, w.Write(rec(t, "id", 2, "amount", 2.5)))
	require.NoError(t, w.Write(rec(t, "id", 3, "name", "bob", "amount", 1.0)))

	err = w.Write(rec(t, "name", "no id", "amount", 1.0))
	assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))
	require.NoError(t, w.Close())
	assert.EqualValues(t, 3, w.RecordsWritten())

	r, err := NewAvroReader(&buf)
	require.NoError(t, err)

	var got []*models.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Len(t, got, 3)
	assert.Equal(t, []string{"id", "name", "amount"}, got[0].Names())

	name, _ := got[0].Get("name")
	assert.Equal(t, "ada", name)
	name, _ = got[1].Get("name")
	assert.Nil(t, name)
	amount, _ := got[0].Get("amount")
	assert.Equal(t, 10.0, amount)
	assert.EqualValues(t, 3, got[2].Meta().Position)
}

func TestAvroWriterRequiresSchema(t *testing.T) {
	_, err := NewWriter(io.Discard, DefaultWriterConfig(Avro))
	assert.True(t, errors.IsConfig(err))
}

func TestFromPath(t *testing.T) {
	tests := []struct {
		path    string
		format  Format
		algo    compression.Algorithm
		wantErr bool
	}{
		{"out.csv", CSV, compression.None, false},
		{"out.jsonl.gz", JSONL, compression.Gzip, false},
		{"out.ndjson.zst", JSONL, compression.Zstd, false},
		{"events.avro", Avro, compression.None, false},
		{"noext", "", compression.None, true},
		{"out.parquet", "", compression.None, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, algo, err := FromPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, f)
			assert.Equal(t, tt.algo, algo)
		})
	}
}

func TestStringify(t *testing.T) {
	s, err := Stringify([]interface{}{"a", int64(1)})
	require.NoError(t, err)
	assert.Equal(t, `["a",1]`, s)

	s, err = Stringify(1.25)
	require.NoError(t, err)
	assert.Equal(t, "1.25", s)
	assert.True(t, strings.HasPrefix(Extension(JSONL), "."))
}
