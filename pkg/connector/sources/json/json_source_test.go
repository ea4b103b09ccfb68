package json

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

func drain(t *testing.T, settings config.Settings) ([]*models.Record, []error) {
	t.Helper()
	s, err := NewJSONSource(config.Connector{Name: "in", Type: "json", Settings: settings})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	var (
		recs []*models.Record
		errs []error
	)
	for {
		rec, err := s.Read(ctx)
		if err == io.EOF {
			return recs, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
}

func fixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestJSONLines(t *testing.T) {
	path := fixture(t, "events.jsonl", "{\"b\":1,\"a\":{\"x\":true}}\n\nnot json\n[1]\n{\"b\":2.5}")
	recs, errs := drain(t, config.Settings{"path": path})

	require.Len(t, recs, 2)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
	}

	assert.Equal(t, []string{"b", "a"}, recs[0].Names())
	v, _ := recs[0].Lookup("a.x")
	assert.Equal(t, true, v)
	v, _ = recs[1].Get("b")
	assert.Equal(t, 2.5, v)
	assert.EqualValues(t, 4, recs[1].Meta().Position)
}

func TestJSONArrayDetected(t *testing.T) {
	path := fixture(t, "rows.json", "  [\n {\"id\": 1},\n 7,\n {\"id\": 2}\n]\n")
	recs, errs := drain(t, config.Settings{"path": path})

	require.Len(t, recs, 2)
	require.Len(t, errs, 1)
	assert.True(t, errors.IsRecordLevel(errs[0]))
	v, _ := recs[1].Get("id")
	assert.Equal(t, int64(2), v)
}

func TestJSONEmptyArray(t *testing.T) {
	recs, errs := drain(t, config.Settings{"path": fixture(t, "empty.json", "[]"), "format": "array"})
	assert.Empty(t, recs)
	assert.Empty(t, errs)
}

func TestJSONCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl.zst")
	w, err := base.OpenOutput(path, compression.Zstd)
	require.NoError(t, err)
	_, err = w.Write([]byte("{\"n\":1}\n{\"n\":2}\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	recs, errs := drain(t, config.Settings{"path": path})
	assert.Empty(t, errs)
	assert.Len(t, recs, 2)
}

func TestJSONArrayRequired(t *testing.T) {
	s, err := NewJSONSource(config.Connector{Name: "in", Settings: config.Settings{
		"path": fixture(t, "obj.json", "{\"a\":1}"), "format": "array",
	}})
	require.NoError(t, err)
	err = s.Open(context.Background())
	require.Error(t, err)
	assert.False(t, errors.IsRecordLevel(err))
}

func TestJSONUnknownFormat(t *testing.T) {
	_, err := NewJSONSource(config.Connector{Name: "in", Settings: config.Settings{"path": "x", "format": "yaml"}})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}
