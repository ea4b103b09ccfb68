package postgresql

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
)

type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	i      int
	err    error
	closed bool
}

func (r *fakeRows) Close() { r.closed = true }
func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Scan(...any) error { return nil }
func (r *fakeRows) RawValues() [][]byte { return nil }
func (r *fakeRows) Conn() *pgx.Conn { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.i-1], nil }

type fakeQuerier struct {
	rows  *fakeRows
	err   error
	query string
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.query = sql
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestPostgreSQLSourceReadsRows(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := &fakeRows{
		fields: []pgconn.FieldDescription{
			{Name: "id", DataTypeOID: pgtype.Int4OID},
			{Name: "amount", DataTypeOID: pgtype.NumericOID},
			{Name: "created_at", DataTypeOID: pgtype.TimestamptzOID},
			{Name: "note", DataTypeOID: pgtype.TextOID},
		},
		data: [][]any{
			{int32(1), pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true}, created, "first"},
			{int32(2), pgtype.Numeric{Int: big.NewInt(3), Exp: 0, Valid: true}, created, nil},
		},
	}
	q := &fakeQuerier{rows: rows}
	s, err := NewPostgreSQLSource(config.Connector{Name: "orders", Type: "postgresql", Settings: config.Settings{
		"dsn": "postgres://localhost/db", "table": "sales.orders", "columns": "id,amount,created_at,note",
	}})
	require.NoError(t, err)
	s.WithQuerier(q)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	assert.Equal(t, `SELECT "id", "amount", "created_at", "note" FROM "sales"."orders"`, q.query)

	rec, err := s.Read(ctx)
	require.NoError(t, err)
	v, _ := rec.Get("id")
	assert.Equal(t, int64(1), v)
	v, _ = rec.Get("amount")
	assert.InDelta(t, 12.5, v, 1e-9)
	v, _ = rec.Get("created_at")
	assert.Equal(t, created, v)

	rec, err = s.Read(ctx)
	require.NoError(t, err)
	v, _ = rec.Get("amount")
	assert.Equal(t, int64(3), v)
	v, ok := rec.Get("note")
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.EqualValues(t, 2, rec.Meta().Position)

	_, err = s.Read(ctx)
	assert.Equal(t, io.EOF, err)

	sch, err := s.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.FieldTypeInt, sch.Fields[0].Type)
	assert.Equal(t, core.FieldTypeTimestamp, sch.Fields[2].Type)

	require.NoError(t, s.Close(ctx))
	assert.True(t, rows.closed)
}

func TestPostgreSQLSourceQueryErrors(t *testing.T) {
	q := &fakeQuerier{err: &pgconn.PgError{Code: "42P01", Message: "relation \"nope\" does not exist"}}
	s, err := NewPostgreSQLSource(config.Connector{Name: "in", Settings: config.Settings{
		"dsn": "postgres://localhost/db", "query": "SELECT * FROM nope",
	}})
	require.NoError(t, err)
	err = s.WithQuerier(q).Open(context.Background())
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
}

func TestQueryRequiresTableOrQuery(t *testing.T) {
	_, err := Query(config.Settings{})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	q, err := Query(config.Settings{"table": "t"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "t"`, q)
}

func TestValue(t *testing.T) {
	id := [16]byte{0x12, 0x3e, 0x45, 0x67, 0xe8, 0x9b, 0x12, 0xd3, 0xa4, 0x56, 0x42, 0x66, 0x14, 0x17, 0x40, 0x00}
	assert.Equal(t, "123e4567-e89b-12d3-a456-426614174000", Value(id))
	assert.Equal(t, "raw", Value([]byte("raw")))
	assert.Equal(t, int64(7), Value(int16(7)))
	assert.Nil(t, Value(pgtype.Numeric{}))
}
