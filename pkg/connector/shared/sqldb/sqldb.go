// Package sqldb opens database/sql connections for the relational
// connectors that are not PostgreSQL: MySQL, SQLite, SQL Server and
// Snowflake.
package sqldb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/snowflakedb/gosnowflake"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
	"github.com/binarymachines/mercury/pkg/schema"
)

// Kinds are the connector types served by this package.
var Kinds = []string{"mysql", "sqlite", "sqlserver", "snowflake"}

// Driver pairs a database/sql driver with its SQL dialect.
type Driver struct {
	Kind    string
	Name    string
	Dialect schema.Dialect
}

var driverNames = map[string]string{
	"mysql":     "mysql",
	"sqlite":    "sqlite",
	"sqlserver": "sqlserver",
	"snowflake": "snowflake",
}

// Lookup resolves a connector type, or the driver setting of a generic
// "sqldb" connector, to its driver.
func Lookup(kind string) (Driver, error) {
	d, err := schema.LookupDialect(kind)
	if err != nil {
		return Driver{}, err
	}
	name, ok := driverNames[d.Name]
	if !ok {
		return Driver{}, errors.Newf(errors.ErrorTypeConfig, "no database/sql driver for %q", kind)
	}
	return Driver{Kind: d.Name, Name: name, Dialect: d}, nil
}

// Resolve picks the driver for a connector: its type, or the driver
// setting when the type is "sqldb".
func Resolve(cfg config.Connector) (Driver, error) {
	kind := cfg.Type
	if kind == "" || kind == "sqldb" {
		kind = cfg.Settings.String("driver", "")
		if kind == "" {
			return Driver{}, errors.New(errors.ErrorTypeConfig, "setting \"driver\" is required")
		}
	}
	return Lookup(kind)
}

// Placeholder returns the bind parameter for the i-th argument, 1-based.
func (d Driver) Placeholder(i int) string { return d.Dialect.Placeholder(i) }

// Open opens and pings a connection pool.
func Open(ctx context.Context, d Driver, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(d.Name, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "open %s", d.Kind)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if d.Kind == "sqlite" {
		// one writer at a time; more connections only produce SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, base.Classify(err, "connect to "+d.Kind)
	}
	return db, nil
}

// Value converts a scanned driver value to a record value.
func Value(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return t
	}
}

// QuoteList quotes each identifier and joins them with commas.
func QuoteList(d schema.Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

// SelectQuery returns the query setting, or a SELECT built from the table
// and columns settings.
func SelectQuery(settings config.Settings, d schema.Dialect) (string, error) {
	if q := strings.TrimSpace(settings.String("query", "")); q != "" {
		return q, nil
	}
	table := settings.String("table", "")
	if table == "" {
		return "", errors.New(errors.ErrorTypeConfig, "either \"query\" or \"table\" is required")
	}
	cols := "*"
	if names := settings.List("columns"); len(names) > 0 {
		cols = QuoteList(d, names)
	}
	return "SELECT " + cols + " FROM " + d.Quote(table), nil
}

// Arg converts a record value to a bind argument. Nested records and
// lists are bound as JSON text.
func Arg(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case *models.Record, []interface{}, []*models.Record:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeWrite, "encode nested value")
		}
		return string(data), nil
	default:
		return v, nil
	}
}

// RowError reports whether err was caused by the data of one row, such as
// a constraint violation or a value the column cannot hold, rather than by
// the connection or the statement.
func RowError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1048, 1062, 1264, 1292, 1366, 1406, 1452, 3819:
			return true
		}
		return false
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 245, 515, 547, 2601, 2627, 2628, 8114, 8115, 8152:
			return true
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG, sqlite3.SQLITE_RANGE:
			return true
		}
		return false
	}
	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		return strings.HasPrefix(sfErr.SQLState, "22") || strings.HasPrefix(sfErr.SQLState, "23")
	}
	return false
}
