package postgresql

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// fakePool refuses any row whose name is empty with a not-null violation.
// With dropAt set, the dropAt-th statement run outside a transaction loses
// the connection once.
type fakePool struct {
	execs     []string
	committed [][]any
	copied    [][]any
	rollbacks int
	down      bool
	dropAt    int
	direct    int
}

func (p *fakePool) check(args []any) error {
	if p.down {
		return &pgconn.PgError{Code: "08006", Message: "connection failure"}
	}
	for _, a := range args {
		if a == nil {
			return &pgconn.PgError{Code: "23502", Message: "null value violates not-null constraint"}
		}
	}
	return nil
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) { return &fakeTx{pool: p}, nil }

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, sql)
	p.direct++
	if p.direct == p.dropAt {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "08006", Message: "connection failure"}
	}
	if err := p.check(args); err != nil {
		return pgconn.CommandTag{}, err
	}
	p.committed = append(p.committed, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (p *fakePool) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	var rows [][]any
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		if err := p.check(values); err != nil {
			return 0, err
		}
		rows = append(rows, values)
	}
	p.copied = append(p.copied, rows...)
	return int64(len(rows)), nil
}

type fakeTx struct {
	pgx.Tx
	pool    *fakePool
	pending [][]any
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.pool.execs = append(t.pool.execs, sql)
	if err := t.pool.check(args); err != nil {
		return pgconn.CommandTag{}, err
	}
	t.pending = append(t.pending, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.pool.committed = append(t.pool.committed, t.pending...)
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.pool.rollbacks++
	return nil
}

func newTestSink(t *testing.T, settings config.Settings) (*PostgreSQLSink, *fakePool) {
	t.Helper()
	settings["dsn"] = "postgres://localhost/test"
	s, err := NewPostgreSQLSink(config.Connector{Name: "out", Type: "postgresql", Settings: settings})
	require.NoError(t, err)
	pool := &fakePool{}
	require.NoError(t, s.WithPool(pool).Open(context.Background()))
	return s, pool
}

func event(id int, name interface{}) *models.Record {
	return models.NewBuilder(2).Set("id", id).Set("name", name).Build()
}

func writeAll(t *testing.T, s *PostgreSQLSink, recs ...*models.Record) (int, []error) {
	t.Helper()
	ctx := context.Background()
	var (
		written  int
		rejected []error
	)
	for _, rec := range recs {
		ack, err := s.Write(ctx, rec)
		require.NoError(t, err)
		written += ack.Written
		rejected = append(rejected, ack.Rejected...)
	}
	ack, err := s.Flush(ctx)
	require.NoError(t, err)
	return written + ack.Written, append(rejected, ack.Rejected...)
}

func TestPostgreSQLSinkUpsert(t *testing.T) {
	s, pool := newTestSink(t, config.Settings{"table": "public.events", "keys": "id"})
	written, rejected := writeAll(t, s, event(1, "a"), event(2, "b"))

	assert.Equal(t, 2, written)
	assert.Empty(t, rejected)
	assert.Len(t, pool.committed, 2)
	assert.Equal(t,
		`INSERT INTO "public"."events" ("id", "name") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`,
		pool.execs[0])
}

func TestPostgreSQLSinkReplaysRefusedBatch(t *testing.T) {
	s, pool := newTestSink(t, config.Settings{"table": "events"})
	written, rejected := writeAll(t, s, event(1, "a"), event(2, nil), event(3, "c"))

	assert.Equal(t, 2, written)
	require.Len(t, rejected, 1)
	assert.True(t, errors.IsRecordLevel(rejected[0]))
	assert.Equal(t, 1, pool.rollbacks)
	assert.Equal(t, [][]any{{int64(1), "a"}, {int64(3), "c"}}, pool.committed)
}

func TestPostgreSQLSinkCopy(t *testing.T) {
	s, pool := newTestSink(t, config.Settings{"table": "events", "columns": "id,name"})
	written, rejected := writeAll(t, s, event(1, "a"), event(2, "b"))
	assert.Equal(t, 2, written)
	assert.Empty(t, rejected)
	assert.Len(t, pool.copied, 2)
	assert.Empty(t, pool.execs)

	written, rejected = writeAll(t, s, event(3, nil), event(4, "d"))
	assert.Equal(t, 1, written)
	assert.Len(t, rejected, 1)
	assert.Len(t, pool.copied, 2)
}

func TestPostgreSQLSinkConnectionFailureKeepsBatch(t *testing.T) {
	s, pool := newTestSink(t, config.Settings{"table": "events"})
	pool.down = true

	ctx := context.Background()
	_, err := s.Write(ctx, event(1, "a"))
	require.NoError(t, err)
	_, err = s.Flush(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, 1, s.batch.Len())
}

func TestPostgreSQLSinkReplayFailureKeepsOnlyUnsettledRows(t *testing.T) {
	tests := []struct {
		name     string
		settings config.Settings
	}{
		{"insert", config.Settings{"table": "events"}},
		{"copy", config.Settings{"table": "events", "columns": "id,name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, pool := newTestSink(t, tt.settings)
			pool.dropAt = 3
			ctx := context.Background()
			for _, rec := range []*models.Record{event(1, "a"), event(2, nil), event(3, "c")} {
				_, err := s.Write(ctx, rec)
				require.NoError(t, err)
			}

			ack, err := s.Flush(ctx)
			require.Error(t, err)
			assert.True(t, errors.IsRetryable(err))
			assert.Equal(t, 1, ack.Written)
			assert.Len(t, ack.Rejected, 1)
			assert.Equal(t, 1, s.batch.Len())

			ack, err = s.Flush(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, ack.Written)
			assert.Empty(t, ack.Rejected)

			all := append(append([][]any{}, pool.committed...), pool.copied...)
			assert.ElementsMatch(t, [][]any{{int64(1), "a"}, {int64(3), "c"}}, all)
		})
	}
}
