// Package postgresql reads the rows of a query as records.
package postgresql

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	shared "github.com/binarymachines/mercury/pkg/connector/shared/postgres"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
	"github.com/binarymachines/mercury/pkg/schema"
)

// Querier is the part of a pgx pool the source uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgreSQLSource streams the result of one query. With a table setting
// the query is a SELECT of the listed columns, or all of them.
type PostgreSQLSource struct {
	*base.BaseConnector

	dsn      string
	query    string
	maxConns int

	pool    *pgxpool.Pool
	querier Querier
	rows    pgx.Rows
	columns []string
	types   []uint32
	row     int64
}

// NewPostgreSQLSource creates a postgresql source from its configuration.
func NewPostgreSQLSource(cfg config.Connector) (*PostgreSQLSource, error) {
	dsn, err := cfg.Settings.Require("dsn")
	if err != nil {
		return nil, err
	}
	query, err := Query(cfg.Settings)
	if err != nil {
		return nil, err
	}
	maxConns, err := cfg.Settings.Int("max_conns", 4)
	if err != nil {
		return nil, err
	}
	return &PostgreSQLSource{
		BaseConnector: base.NewBaseConnector(cfg, core.ConnectorTypeSource),
		dsn:           dsn,
		query:         query,
		maxConns:      maxConns,
	}, nil
}

// Query returns the query setting, or a SELECT built from table and
// columns.
func Query(settings config.Settings) (string, error) {
	if q := strings.TrimSpace(settings.String("query", "")); q != "" {
		return q, nil
	}
	table := settings.String("table", "")
	if table == "" {
		return "", errors.New(errors.ErrorTypeConfig, "either \"query\" or \"table\" is required")
	}
	d, _ := schema.LookupDialect("postgres")
	cols := "*"
	if names := settings.List("columns"); len(names) > 0 {
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = d.Quote(n)
		}
		cols = strings.Join(quoted, ", ")
	}
	return fmt.Sprintf("SELECT %s FROM %s", cols, d.Quote(table)), nil
}

// WithQuerier makes the source read through q instead of its own pool.
func (s *PostgreSQLSource) WithQuerier(q Querier) *PostgreSQLSource {
	s.querier = q
	return s
}

func (s *PostgreSQLSource) Bounded() bool { return true }

// Open connects and runs the query.
func (s *PostgreSQLSource) Open(ctx context.Context) error {
	s.closeRows()
	if s.querier == nil {
		pool, err := shared.Connect(ctx, s.dsn, s.maxConns, s.Logger())
		if err != nil {
			return err
		}
		s.pool, s.querier = pool, pool
	}

	rows, err := s.querier.Query(ctx, s.query)
	if err != nil {
		return shared.Classify(err, "run query")
	}
	s.rows, s.row = rows, 0
	s.columns = s.columns[:0]
	s.types = s.types[:0]
	for _, fd := range rows.FieldDescriptions() {
		s.columns = append(s.columns, fd.Name)
		s.types = append(s.types, fd.DataTypeOID)
	}
	s.Logger().Debug("postgresql query started", zap.Strings("columns", s.columns))
	return nil
}

// Read returns the next row.
func (s *PostgreSQLSource) Read(ctx context.Context) (*models.Record, error) {
	if s.rows == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "postgresql source is not open")
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, shared.Classify(err, "read rows")
		}
		return nil, io.EOF
	}
	s.row++
	values, err := s.rows.Values()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "cannot decode row").WithDetail("row", s.row)
	}
	b := models.NewBuilder(len(s.columns))
	for i, name := range s.columns {
		var v interface{}
		if i < len(values) {
			v = Value(values[i])
		}
		b.Set(name, v)
	}
	return b.Meta(models.Metadata{Source: s.Name(), Position: s.row}).Build(), nil
}

// Value converts a pgx value to a record value.
func Value(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		if t.Exp >= 0 && t.Int != nil {
			n := new(big.Int).Mul(t.Int, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Exp)), nil))
			if n.IsInt64() {
				return n.Int64()
			}
		}
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Time:
		if !t.Valid {
			return nil
		}
		return time.Duration(t.Microseconds * int64(time.Microsecond)).String()
	case time.Time, string, bool, int64, float64, map[string]interface{}, []interface{}:
		return t
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case fmt.Stringer:
		return t.String()
	default:
		return t
	}
}

// Discover reports the columns of the query result.
func (s *PostgreSQLSource) Discover(ctx context.Context) (*core.Schema, error) {
	if s.rows == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "postgresql source is not open")
	}
	out := &core.Schema{Name: s.Name()}
	for i, name := range s.columns {
		out.Fields = append(out.Fields, core.Field{Name: name, Type: fieldType(s.types[i]), Nullable: true})
	}
	return out, nil
}

func fieldType(oid uint32) core.FieldType {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return core.FieldTypeInt
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return core.FieldTypeFloat
	case pgtype.BoolOID:
		return core.FieldTypeBool
	case pgtype.DateOID:
		return core.FieldTypeDate
	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		return core.FieldTypeTimestamp
	case pgtype.JSONOID, pgtype.JSONBOID:
		return core.FieldTypeJSON
	default:
		return core.FieldTypeString
	}
}

func (s *PostgreSQLSource) closeRows() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
}

func (s *PostgreSQLSource) Close(ctx context.Context) error {
	s.closeRows()
	if s.pool != nil {
		s.pool.Close()
		s.pool, s.querier = nil, nil
	}
	return nil
}
