// Package postgres holds the pgx connection setup and error mapping shared
// by the postgresql source and sink.
package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
	pkglogger "github.com/binarymachines/mercury/pkg/logger"
)

// Connect creates a pool for dsn and pings it.
func Connect(ctx context.Context, dsn string, maxConns int, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse postgresql dsn")
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, Classify(err, "connect to postgresql")
	}
	pkglogger.WithContext(ctx).Info("connected to postgresql",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns))
	return pool, nil
}

// Classify maps a pgx failure to an error type. Authentication and
// permission failures are not retried.
func Classify(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "28000" || pgErr.Code == "28P01":
			return errors.Wrap(err, errors.ErrorTypeAuthentication, msg)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "40001", pgErr.Code == "40P01":
			return errors.Wrap(err, errors.ErrorTypeConnection, msg)
		case strings.HasPrefix(pgErr.Code, "42"):
			return errors.Wrap(err, errors.ErrorTypeQuery, msg)
		case RowError(err):
			return errors.Wrap(err, errors.ErrorTypeWrite, msg)
		}
	}
	return base.Classify(err, msg)
}

// RowError reports whether err is a data exception (class 22) or an
// integrity constraint violation (class 23), which only concern the row
// being written.
func RowError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}
