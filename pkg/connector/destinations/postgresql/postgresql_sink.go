// Package postgresql writes records into a PostgreSQL table.
package postgresql

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/postgres"
	"github.com/binarymachines/mercury/pkg/connector/shared/sqldb"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
	"github.com/binarymachines/mercury/pkg/schema"
)

// Pool is the part of a pgx pool the sink uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// PostgreSQLSink writes batches of records. With a columns setting and no
// keys a batch is loaded with COPY; otherwise each batch is a transaction
// of INSERT statements, upserts when keys are set. A batch refused for the
// data of some row is replayed row by row and only those rows are
// rejected.
type PostgreSQLSink struct {
	*base.BaseConnector

	dsn      string
	table    string
	columns  []string
	keys     []string
	bulk     bool
	maxConns int
	dialect  schema.Dialect

	pool   *pgxpool.Pool
	conn   Pool
	batch  *base.Batcher
	mu     sync.Mutex
	stmts  map[string]string
	opened bool
}

// NewPostgreSQLSink creates a postgresql sink from its configuration.
func NewPostgreSQLSink(cfg config.Connector) (*PostgreSQLSink, error) {
	dsn, err := cfg.Settings.Require("dsn")
	if err != nil {
		return nil, err
	}
	table, err := cfg.Settings.Require("table")
	if err != nil {
		return nil, err
	}
	useCopy, err := cfg.Settings.Bool("copy", true)
	if err != nil {
		return nil, err
	}
	batchSize, err := cfg.Settings.Int("batch_size", 1000)
	if err != nil {
		return nil, err
	}
	maxConns, err := cfg.Settings.Int("max_conns", 4)
	if err != nil {
		return nil, err
	}
	d, _ := schema.LookupDialect("postgres")
	s := &PostgreSQLSink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		dsn:           dsn,
		table:         table,
		columns:       cfg.Settings.List("columns"),
		keys:          cfg.Settings.List("keys"),
		maxConns:      maxConns,
		dialect:       d,
		stmts:         make(map[string]string),
	}
	s.bulk = useCopy && len(s.columns) > 0 && len(s.keys) == 0
	if len(s.columns) > 0 {
		if _, err := s.statement(s.columns); err != nil {
			return nil, err
		}
	}
	s.batch = base.NewBatcher(batchSize, s.commit)
	return s, nil
}

// WithPool makes the sink write through p instead of its own pool.
func (s *PostgreSQLSink) WithPool(p Pool) *PostgreSQLSink {
	s.conn = p
	return s
}

func (s *PostgreSQLSink) Open(ctx context.Context) error {
	if s.opened {
		return nil
	}
	if s.conn == nil {
		pool, err := shared.Connect(ctx, s.dsn, s.maxConns, s.Logger())
		if err != nil {
			return err
		}
		s.pool, s.conn = pool, pool
	}
	s.opened = true
	s.Logger().Info("postgresql sink opened",
		zap.String("table", s.table),
		zap.Bool("copy", s.bulk),
		zap.Strings("keys", s.keys))
	return nil
}

func (s *PostgreSQLSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	if !s.opened {
		return core.Ack{}, errors.New(errors.ErrorTypeInternal, "postgresql sink is not open")
	}
	return s.batch.Write(ctx, rec)
}

func (s *PostgreSQLSink) Flush(ctx context.Context) (core.Ack, error) {
	if !s.opened {
		return core.Ack{}, nil
	}
	return s.batch.Flush(ctx)
}

func (s *PostgreSQLSink) statement(columns []string) (string, error) {
	sig := strings.Join(columns, "\x00")
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.stmts[sig]; ok {
		return q, nil
	}
	q, err := schema.Insert(s.dialect, s.table, columns, s.keys)
	if err != nil {
		return "", err
	}
	s.stmts[sig] = q
	return q, nil
}

func (s *PostgreSQLSink) values(rec *models.Record, columns []string) ([]any, error) {
	for _, k := range s.keys {
		if v, ok := rec.Get(k); !ok || v == nil {
			return nil, errors.Newf(errors.ErrorTypeWrite, "record has no value for key %s", k)
		}
	}
	args := make([]any, len(columns))
	for i, c := range columns {
		v, _ := rec.Get(c)
		arg, err := sqldb.Arg(v)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}
	return args, nil
}

func (s *PostgreSQLSink) row(rec *models.Record) (string, []any, error) {
	columns := s.columns
	if len(columns) == 0 {
		columns = rec.Names()
	}
	q, err := s.statement(columns)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeWrite, "record does not fit the table")
	}
	args, err := s.values(rec, columns)
	if err != nil {
		return "", nil, err
	}
	return q, args, nil
}

func (s *PostgreSQLSink) commit(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	if s.bulk {
		return s.copyBatch(ctx, batch)
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return core.Ack{}, shared.Classify(err, "begin transaction")
	}
	var ack core.Ack
	for _, rec := range batch {
		q, args, err := s.row(rec)
		if err != nil {
			ack.Rejected = append(ack.Rejected, err)
			continue
		}
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			_ = tx.Rollback(ctx)
			if shared.RowError(err) {
				return s.commitEach(ctx, batch)
			}
			return core.Ack{}, shared.Classify(err, "insert into "+s.table)
		}
		ack.Written++
	}
	if err := tx.Commit(ctx); err != nil {
		return core.Ack{}, shared.Classify(err, "commit")
	}
	return ack, nil
}

func (s *PostgreSQLSink) copyBatch(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	var ack core.Ack
	rows := make([][]any, 0, len(batch))
	for _, rec := range batch {
		args, err := s.values(rec, s.columns)
		if err != nil {
			ack.Rejected = append(ack.Rejected, err)
			continue
		}
		rows = append(rows, args)
	}
	if len(rows) == 0 {
		return ack, nil
	}
	n, err := s.conn.CopyFrom(ctx, pgx.Identifier(strings.Split(s.table, ".")), s.columns, pgx.CopyFromRows(rows))
	if err != nil {
		if shared.RowError(err) {
			s.Logger().Debug("copy refused a row, replaying row by row", zap.Error(err))
			return s.commitEach(ctx, batch)
		}
		return core.Ack{}, shared.Classify(err, "copy into "+s.table)
	}
	ack.Written += int(n)
	return ack, nil
}

// commitEach writes the rows of batch one statement at a time. Each row
// commits on its own, so a connection failure returns the rows settled so
// far along with the error.
func (s *PostgreSQLSink) commitEach(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	var ack core.Ack
	for _, rec := range batch {
		q, args, err := s.row(rec)
		if err != nil {
			ack.Rejected = append(ack.Rejected, err)
			continue
		}
		if _, err := s.conn.Exec(ctx, q, args...); err != nil {
			if shared.RowError(err) {
				ack.Rejected = append(ack.Rejected, shared.Classify(err, "insert into "+s.table))
				continue
			}
			return ack, shared.Classify(err, "insert into "+s.table)
		}
		ack.Written++
	}
	return ack, nil
}

func (s *PostgreSQLSink) Close(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
		s.pool, s.conn = nil, nil
	}
	s.opened = false
	return nil
}
