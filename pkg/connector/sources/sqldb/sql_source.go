// Package sqldb reads query results from MySQL, SQLite, SQL Server and
// Snowflake.
package sqldb

import (
	"context"
	"database/sql"
	"io"

	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/sqldb"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

// SQLSource streams the rows of one query.
type SQLSource struct {
	*base.BaseConnector

	driver   shared.Driver
	dsn      string
	query    string
	maxConns int

	db      *sql.DB
	rows    *sql.Rows
	columns []*sql.ColumnType
	row     int64
}

// NewSQLSource creates a source for any of the database/sql kinds.
func NewSQLSource(cfg config.Connector) (*SQLSource, error) {
	driver, err := shared.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.Settings.Require("dsn")
	if err != nil {
		return nil, err
	}
	query, err := shared.SelectQuery(cfg.Settings, driver.Dialect)
	if err != nil {
		return nil, err
	}
	maxConns, err := cfg.Settings.Int("max_conns", 2)
	if err != nil {
		return nil, err
	}
	return &SQLSource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		driver:        driver,
		dsn:           dsn,
		query:         query,
		maxConns:      maxConns,
	}, nil
}

func (s *SQLSource) Bounded() bool { return true }

func (s *SQLSource) Open(ctx context.Context) error {
	_ = s.Close(ctx)
	db, err := shared.Open(ctx, s.driver, s.dsn, s.maxConns)
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, s.query)
	if err != nil {
		_ = db.Close()
		return base.Classify(err, "run query")
	}
	cols, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		_ = db.Close()
		return base.Classify(err, "read columns")
	}
	s.db, s.rows, s.columns, s.row = db, rows, cols, 0
	s.Logger().Debug("sql query started", zap.String("driver", s.driver.Kind), zap.Int("columns", len(cols)))
	return nil
}

func (s *SQLSource) Read(ctx context.Context) (*models.Record, error) {
	if s.rows == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "sql source is not open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, base.Classify(err, "read rows")
		}
		return nil, io.EOF
	}
	s.row++
	values := make([]interface{}, len(s.columns))
	ptrs := make([]interface{}, len(s.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "cannot scan row").WithDetail("row", s.row)
	}
	b := models.NewBuilder(len(s.columns))
	for i, col := range s.columns {
		b.Set(col.Name(), shared.Value(values[i]))
	}
	return b.Meta(models.Metadata{Source: s.Name(), Position: s.row}).Build(), nil
}

// Discover reports the result columns with their database type names.
func (s *SQLSource) Discover(ctx context.Context) (*core.Schema, error) {
	if s.columns == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "sql source is not open")
	}
	out := &core.Schema{Name: s.Name()}
	for _, col := range s.columns {
		nullable, ok := col.Nullable()
		out.Fields = append(out.Fields, core.Field{
			Name:     col.Name(),
			Type:     fieldType(col.DatabaseTypeName()),
			Nullable: nullable || !ok,
		})
	}
	return out, nil
}

func fieldType(dbType string) core.FieldType {
	switch dbType {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "FIXED":
		return core.FieldTypeInt
	case "REAL", "FLOAT", "DOUBLE", "DECIMAL", "NUMERIC", "REAL_SF":
		return core.FieldTypeFloat
	case "BOOLEAN", "BOOL", "BIT":
		return core.FieldTypeBool
	case "DATE":
		return core.FieldTypeDate
	case "DATETIME", "TIMESTAMP", "DATETIME2", "DATETIMEOFFSET", "TIMESTAMP_TZ", "TIMESTAMP_NTZ", "TIMESTAMP_LTZ":
		return core.FieldTypeTimestamp
	case "JSON", "VARIANT", "OBJECT":
		return core.FieldTypeJSON
	case "BLOB", "BINARY", "VARBINARY":
		return core.FieldTypeBinary
	default:
		return core.FieldTypeString
	}
}

func (s *SQLSource) Close(ctx context.Context) error {
	var err error
	if s.rows != nil {
		err = s.rows.Close()
		s.rows = nil
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.db = nil
	}
	if err != nil {
		return base.Classify(err, "close "+s.driver.Kind)
	}
	return nil
}
