package bigquery

import (
	"context"
	"io"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
)

type fakeRows struct {
	schema bigquery.Schema
	data   [][]bigquery.Value
	i      int
}

func (r *fakeRows) Schema() bigquery.Schema { return r.schema }

func (r *fakeRows) Next(dst *[]bigquery.Value) error {
	if r.i >= len(r.data) {
		return iterator.Done
	}
	*dst = r.data[r.i]
	r.i++
	return nil
}

func TestBigQuerySourceReadsRows(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := &fakeRows{
		schema: bigquery.Schema{
			{Name: "id", Type: bigquery.IntegerFieldType, Required: true},
			{Name: "at", Type: bigquery.TimestampFieldType},
			{Name: "tags", Type: bigquery.StringFieldType, Repeated: true},
			{Name: "geo", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
				{Name: "lat", Type: bigquery.FloatFieldType},
			}},
		},
		data: [][]bigquery.Value{
			{int64(1), ts, []bigquery.Value{"a", "b"}, []bigquery.Value{51.5}},
			{int64(2), nil, []bigquery.Value{}, nil},
		},
	}
	s, err := NewBigQuerySource(config.Connector{Name: "events", Type: "bigquery", Settings: config.Settings{
		"project": "p", "query": "SELECT * FROM d.t",
	}})
	require.NoError(t, err)
	s.WithOpener(func(context.Context) (Rows, error) { return rows, nil })

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	rec, err := s.Read(ctx)
	require.NoError(t, err)
	v, _ := rec.Get("at")
	assert.Equal(t, ts, v)
	v, _ = rec.Get("tags")
	assert.Equal(t, []interface{}{"a", "b"}, v)
	v, _ = rec.Lookup("geo.lat")
	assert.Equal(t, 51.5, v)

	rec, err = s.Read(ctx)
	require.NoError(t, err)
	v, ok := rec.Get("geo")
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.EqualValues(t, 2, rec.Meta().Position)

	_, err = s.Read(ctx)
	assert.Equal(t, io.EOF, err)

	sch, err := s.Discover(ctx)
	require.NoError(t, err)
	assert.False(t, sch.Fields[0].Nullable)
	assert.Equal(t, core.FieldTypeJSON, sch.Fields[3].Type)
}

func TestBigQuerySourceConfig(t *testing.T) {
	_, err := NewBigQuerySource(config.Connector{Name: "in", Settings: config.Settings{"project": "p"}})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	s, err := NewBigQuerySource(config.Connector{Name: "in", Settings: config.Settings{"project": "p", "table": "sales.orders"}})
	require.NoError(t, err)
	assert.Equal(t, "sales", s.opts.Dataset)
	assert.Equal(t, "orders", s.opts.Table)
}
