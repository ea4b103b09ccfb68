package avro

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/models"
)

const userSchema = `{
  "type": "record",
  "name": "user",
  "fields": [
    {"name": "id", "type": "long"},
    {"name": "email", "type": ["null", "string"]}
  ]
}`

func writeContainer(t *testing.T, path string, algo compression.Algorithm, recs ...*models.Record) {
	t.Helper()
	out, err := base.OpenOutput(path, algo)
	require.NoError(t, err)
	cfg := formats.DefaultWriterConfig(formats.Avro)
	cfg.AvroSchema = userSchema
	w, err := formats.NewWriter(out, cfg)
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())
}

func user(id int64, email interface{}) *models.Record {
	return models.FromMap(map[string]interface{}{"id": id, "email": email})
}

func readAll(t *testing.T, settings config.Settings) []*models.Record {
	t.Helper()
	s, err := NewAvroSource(config.Connector{Name: "users", Type: "avro", Settings: settings})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	var out []*models.Record
	for {
		rec, err := s.Read(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestAvroSourceReadsContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.avro")
	writeContainer(t, path, compression.None, user(1, "ada@example.com"), user(2, nil))

	recs := readAll(t, config.Settings{"path": path})
	require.Len(t, recs, 2)

	v, _ := recs[0].Get("email")
	assert.Equal(t, "ada@example.com", v)
	v, _ = recs[1].Get("email")
	assert.Nil(t, v)
	v, _ = recs[1].Get("id")
	assert.Equal(t, int64(2), v)
	assert.Equal(t, "users", recs[1].Meta().Source)
	assert.EqualValues(t, 2, recs[1].Meta().Position)
}

func TestAvroSourceCompressedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.avro.gz")
	writeContainer(t, path, compression.Gzip, user(7, "x@example.com"))

	recs := readAll(t, config.Settings{"path": path})
	require.Len(t, recs, 1)
}

func TestAvroSourceRejectsNonContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.avro")
	out, err := base.OpenOutput(path, compression.None)
	require.NoError(t, err)
	_, err = out.Write([]byte("not avro"))
	require.NoError(t, err)
	require.NoError(t, out.Close())

	s, err := NewAvroSource(config.Connector{Name: "users", Settings: config.Settings{"path": path}})
	require.NoError(t, err)
	err = s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}
