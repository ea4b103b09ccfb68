package bigquery

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

type fakeTable struct {
	mu        sync.Mutex
	created   *bigquery.TableMetadata
	createErr error
	rows      []row
	putErr    error

	// refuse rows whose "temp" is not a number
	strict bool
}

func (f *fakeTable) Create(ctx context.Context, md *bigquery.TableMetadata) error {
	f.created = md
	return f.createErr
}

func (f *fakeTable) Put(ctx context.Context, src interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	var multi bigquery.PutMultiError
	for i, r := range src.([]row) {
		if _, ok := r.values["temp"].(float64); f.strict && !ok {
			multi = append(multi, bigquery.RowInsertionError{
				InsertID: r.insertID,
				RowIndex: i,
				Errors:   bigquery.MultiError{fmt.Errorf("invalid temp")},
			})
			continue
		}
		f.rows = append(f.rows, r)
	}
	if len(multi) > 0 {
		return multi
	}
	return nil
}

func newTestSink(t *testing.T, table *fakeTable, settings config.Settings) *BigQuerySink {
	t.Helper()
	all := config.Settings{"project": "p", "table": "weather.readings"}
	for k, v := range settings {
		all[k] = v
	}
	s, err := NewBigQuerySink(config.Connector{Name: "out", Type: "bigquery", Settings: all})
	require.NoError(t, err)
	s.WithOpener(func(ctx context.Context) (Table, error) { return table, nil })
	require.NoError(t, s.Open(context.Background()))
	return s
}

func reading(station string, temp interface{}) *models.Record {
	return models.NewBuilder(2).Set("station", station).Set("temp", temp).Build()
}

func TestBigQuerySinkInsertsWithIDs(t *testing.T) {
	table := &fakeTable{}
	s := newTestSink(t, table, config.Settings{"insert_id_field": "station", "batch_size": "2"})
	ctx := context.Background()

	var written int
	for _, rec := range []*models.Record{reading("a", 1.5), reading("b", 2.5), reading("c", 3.5)} {
		ack, err := s.Write(ctx, rec)
		require.NoError(t, err)
		written += ack.Written
	}
	ack, err := s.Flush(ctx)
	require.NoError(t, err)
	written += ack.Written

	assert.Equal(t, 3, written)
	require.Len(t, table.rows, 3)
	assert.Equal(t, "b", table.rows[1].insertID)
	assert.Equal(t, bigquery.Value(2.5), table.rows[1].values["temp"])
	assert.Nil(t, table.created)
	assert.Equal(t, 4, s.MaxWriters())
}

func TestBigQuerySinkRejectsRefusedRows(t *testing.T) {
	table := &fakeTable{strict: true}
	s := newTestSink(t, table, nil)
	ctx := context.Background()

	for _, rec := range []*models.Record{reading("a", 1.5), reading("b", "warm"), reading("c", 3.5)} {
		_, err := s.Write(ctx, rec)
		require.NoError(t, err)
	}
	ack, err := s.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Written)
	require.Len(t, ack.Rejected, 1)
	assert.True(t, errors.IsRecordLevel(ack.Rejected[0]))
}

func TestBigQuerySinkCreatesTable(t *testing.T) {
	table := &fakeTable{createErr: &googleapi.Error{Code: 409, Message: "Already Exists"}}
	s := newTestSink(t, table, config.Settings{"create_table": "true"})
	ctx := context.Background()

	_, err := s.Write(ctx, reading("a", 1.5))
	require.NoError(t, err)
	_, err = s.Flush(ctx)
	require.NoError(t, err)

	require.NotNil(t, table.created)
	require.Len(t, table.created.Schema, 2)
	assert.Equal(t, bigquery.FloatFieldType, table.created.Schema[1].Type)
	assert.Len(t, table.rows, 1)
}

func TestBigQuerySinkServerErrorKeepsBatch(t *testing.T) {
	table := &fakeTable{putErr: &googleapi.Error{Code: 503}}
	s := newTestSink(t, table, nil)
	ctx := context.Background()

	_, err := s.Write(ctx, reading("a", 1.5))
	require.NoError(t, err)
	_, err = s.Flush(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, 1, s.batch.Len())
}

func TestBigQuerySinkNeedsTable(t *testing.T) {
	_, err := NewBigQuerySink(config.Connector{Name: "out", Settings: config.Settings{"project": "p"}})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}
