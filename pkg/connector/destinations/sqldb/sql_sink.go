// Package sqldb writes records as rows of a MySQL, SQLite, SQL Server or
// Snowflake table.
package sqldb

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/sqldb"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
	"github.com/binarymachines/mercury/pkg/schema"
)

// SQLSink inserts records in batches, one transaction per batch. When a
// row of a batch is refused for its data, the batch is rolled back and
// replayed row by row so that only the offending rows are rejected.
//
// Columns are the columns setting, or the top-level fields of each record.
// With keys the insert is an upsert.
type SQLSink struct {
	*base.BaseConnector

	driver   shared.Driver
	dsn      string
	table    string
	columns  []string
	keys     []string
	maxConns int

	db    conn
	batch *base.Batcher

	mu    sync.Mutex
	stmts map[string]string
}

// conn is the part of *sql.DB the sink uses.
type conn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Close() error
}

// NewSQLSink creates a sink for any of the database/sql kinds.
func NewSQLSink(cfg config.Connector) (*SQLSink, error) {
	driver, err := shared.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.Settings.Require("dsn")
	if err != nil {
		return nil, err
	}
	table, err := cfg.Settings.Require("table")
	if err != nil {
		return nil, err
	}
	batchSize, err := cfg.Settings.Int("batch_size", 500)
	if err != nil {
		return nil, err
	}
	maxConns, err := cfg.Settings.Int("max_conns", 2)
	if err != nil {
		return nil, err
	}
	s := &SQLSink{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSink),
		driver:        driver,
		dsn:           dsn,
		table:         table,
		columns:       cfg.Settings.List("columns"),
		keys:          cfg.Settings.List("keys"),
		maxConns:      maxConns,
		stmts:         make(map[string]string),
	}
	if len(s.columns) > 0 || len(s.keys) > 0 {
		// validate the statement shape up front
		shape := s.columns
		if len(shape) == 0 {
			shape = s.keys
		}
		if _, err := s.statement(shape); err != nil {
			return nil, err
		}
	}
	s.batch = base.NewBatcher(batchSize, s.commit)
	return s, nil
}

func (s *SQLSink) Open(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	db, err := shared.Open(ctx, s.driver, s.dsn, s.maxConns)
	if err != nil {
		return err
	}
	s.db = db
	s.Logger().Info("sql sink opened",
		zap.String("driver", s.driver.Kind),
		zap.String("table", s.table),
		zap.Strings("keys", s.keys))
	return nil
}

func (s *SQLSink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	if s.db == nil {
		return core.Ack{}, errors.New(errors.ErrorTypeInternal, "sql sink is not open")
	}
	return s.batch.Write(ctx, rec)
}

func (s *SQLSink) Flush(ctx context.Context) (core.Ack, error) {
	if s.db == nil {
		return core.Ack{}, nil
	}
	return s.batch.Flush(ctx)
}

// statement returns the insert for a column list, caching by shape.
func (s *SQLSink) statement(columns []string) (string, error) {
	sig := strings.Join(columns, "\x00")
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.stmts[sig]; ok {
		return q, nil
	}
	q, err := schema.Insert(s.driver.Dialect, s.table, columns, s.keys)
	if err != nil {
		return "", err
	}
	s.stmts[sig] = q
	return q, nil
}

// row builds the statement and arguments for rec. Problems with the
// record itself are write errors.
func (s *SQLSink) row(rec *models.Record) (string, []interface{}, error) {
	columns := s.columns
	if len(columns) == 0 {
		columns = rec.Names()
	}
	for _, k := range s.keys {
		if v, ok := rec.Get(k); !ok || v == nil {
			return "", nil, errors.Newf(errors.ErrorTypeWrite, "record has no value for key %s", k)
		}
	}
	q, err := s.statement(columns)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeWrite, "record does not fit the table")
	}
	args := make([]interface{}, len(columns))
	for i, c := range columns {
		v, _ := rec.Get(c)
		if args[i], err = shared.Arg(v); err != nil {
			return "", nil, err
		}
	}
	return q, args, nil
}

func (s *SQLSink) commit(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Ack{}, base.Classify(err, "begin transaction")
	}
	var ack core.Ack
	for _, rec := range batch {
		q, args, err := s.row(rec)
		if err != nil {
			ack.Rejected = append(ack.Rejected, err)
			continue
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			_ = tx.Rollback()
			if shared.RowError(err) {
				s.Logger().Debug("batch refused a row, replaying row by row", zap.Error(err))
				return s.commitEach(ctx, batch)
			}
			return core.Ack{}, base.Classify(err, "insert into "+s.table)
		}
		ack.Written++
	}
	if err := tx.Commit(); err != nil {
		return core.Ack{}, base.Classify(err, "commit")
	}
	return ack, nil
}

// commitEach inserts the rows of a batch one at a time. A connector
// failure part way through leaves the earlier rows committed; the Ack
// returned with the error reports them.
func (s *SQLSink) commitEach(ctx context.Context, batch []*models.Record) (core.Ack, error) {
	var ack core.Ack
	for _, rec := range batch {
		q, args, err := s.row(rec)
		if err != nil {
			ack.Rejected = append(ack.Rejected, err)
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if shared.RowError(err) {
				ack.Rejected = append(ack.Rejected, errors.Wrap(err, errors.ErrorTypeWrite, "insert into "+s.table))
				continue
			}
			return ack, base.Classify(err, "insert into "+s.table)
		}
		ack.Written++
	}
	return ack, nil
}

func (s *SQLSink) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "close "+s.driver.Kind)
	}
	return nil
}
