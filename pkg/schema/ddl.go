package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

// Column is one column of a generated table. Type is a coercion name.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// Table is a database-agnostic table definition. Name may be qualified
// with dots (schema.table).
type Table struct {
	Name    string
	Columns []Column
}

// Dialect renders identifiers and column types of one SQL database.
type Dialect struct {
	Name        string
	quote       func(string) string
	types       map[string]string
	primaryKeys bool
	ifNotExists bool
}

// Quote quotes a possibly qualified identifier.
func (d Dialect) Quote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = d.quote(p)
	}
	return strings.Join(parts, ".")
}

// ColumnType returns the SQL type for a coercion name.
func (d Dialect) ColumnType(kind string) string {
	if t, ok := d.types[kind]; ok {
		return t
	}
	return d.types[CoerceString]
}

func quoteWith(open, close string) func(string) string {
	return func(s string) string {
		return open + strings.ReplaceAll(s, close, close+close) + close
	}
}

var dialects = map[string]Dialect{
	"postgres": {
		Name: "postgres", quote: quoteWith(`"`, `"`), primaryKeys: true, ifNotExists: true,
		types: map[string]string{
			CoerceString: "TEXT", CoerceInt: "BIGINT", CoerceFloat: "DOUBLE PRECISION", CoerceBool: "BOOLEAN",
			CoerceTimestamp: "TIMESTAMPTZ", CoerceDate: "DATE", CoerceJSON: "JSONB",
		},
	},
	"mysql": {
		Name: "mysql", quote: quoteWith("`", "`"), primaryKeys: true, ifNotExists: true,
		types: map[string]string{
			CoerceString: "TEXT", CoerceInt: "BIGINT", CoerceFloat: "DOUBLE", CoerceBool: "BOOLEAN",
			CoerceTimestamp: "DATETIME(6)", CoerceDate: "DATE", CoerceJSON: "JSON",
		},
	},
	"sqlite": {
		Name: "sqlite", quote: quoteWith(`"`, `"`), primaryKeys: true, ifNotExists: true,
		types: map[string]string{
			CoerceString: "TEXT", CoerceInt: "INTEGER", CoerceFloat: "REAL", CoerceBool: "INTEGER",
			CoerceTimestamp: "TEXT", CoerceDate: "TEXT", CoerceJSON: "TEXT",
		},
	},
	"sqlserver": {
		Name: "sqlserver", quote: quoteWith("[", "]"), primaryKeys: true,
		types: map[string]string{
			CoerceString: "NVARCHAR(MAX)", CoerceInt: "BIGINT", CoerceFloat: "FLOAT", CoerceBool: "BIT",
			CoerceTimestamp: "DATETIMEOFFSET", CoerceDate: "DATE", CoerceJSON: "NVARCHAR(MAX)",
		},
	},
	"snowflake": {
		Name: "snowflake", quote: quoteWith(`"`, `"`), primaryKeys: true, ifNotExists: true,
		types: map[string]string{
			CoerceString: "VARCHAR", CoerceInt: "NUMBER(38,0)", CoerceFloat: "FLOAT", CoerceBool: "BOOLEAN",
			CoerceTimestamp: "TIMESTAMP_TZ", CoerceDate: "DATE", CoerceJSON: "VARIANT",
		},
	},
	"bigquery": {
		Name: "bigquery", quote: quoteWith("`", "`"), ifNotExists: true,
		types: map[string]string{
			CoerceString: "STRING", CoerceInt: "INT64", CoerceFloat: "FLOAT64", CoerceBool: "BOOL",
			CoerceTimestamp: "TIMESTAMP", CoerceDate: "DATE", CoerceJSON: "JSON",
		},
	},
}

var dialectAliases = map[string]string{
	"postgresql": "postgres", "pg": "postgres", "mssql": "sqlserver", "sqlite3": "sqlite", "bq": "bigquery",
}

// LookupDialect returns the named dialect. Unknown names are configuration
// errors.
func LookupDialect(name string) (Dialect, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := dialectAliases[n]; ok {
		n = alias
	}
	d, ok := dialects[n]
	if !ok {
		return Dialect{}, errors.Newf(errors.ErrorTypeConfig, "unknown SQL dialect %q (want one of %s)", name, strings.Join(Dialects(), ", "))
	}
	return d, nil
}

// Dialects lists the supported dialect names.
func Dialects() []string {
	out := make([]string, 0, len(dialects))
	for name := range dialects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CreateTable renders a CREATE TABLE statement for t.
func CreateTable(t Table, d Dialect) (string, error) {
	if t.Name == "" {
		return "", errors.New(errors.ErrorTypeConfig, "table name required")
	}
	if len(t.Columns) == 0 {
		return "", errors.Newf(errors.ErrorTypeConfig, "table %s has no columns", t.Name)
	}

	defs := make([]string, 0, len(t.Columns)+1)
	var keys []string
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return "", errors.Newf(errors.ErrorTypeConfig, "table %s: column name required", t.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return "", errors.Newf(errors.ErrorTypeConfig, "table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = struct{}{}

		def := d.quote(c.Name) + " " + d.ColumnType(c.Type)
		if !c.Nullable || c.PrimaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			keys = append(keys, d.quote(c.Name))
		}
	}
	if len(keys) > 0 && d.primaryKeys {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	}

	body := "(\n  " + strings.Join(defs, ",\n  ") + "\n)"
	name := d.Quote(t.Name)
	if d.ifNotExists {
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s;", name, body), nil
	}
	// SQL Server has no IF NOT EXISTS for tables.
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s %s;", strings.ReplaceAll(t.Name, "'", "''"), name, body), nil
}

// TableFromMapping derives a table from the targets of a mapping. Nested
// targets are flattened with underscores; required rules become NOT NULL.
func TableFromMapping(name string, m config.Mapping, primaryKey ...string) (Table, error) {
	if _, err := Compile(m); err != nil {
		return Table{}, err
	}
	pk := make(map[string]struct{}, len(primaryKey))
	for _, k := range primaryKey {
		pk[k] = struct{}{}
	}
	t := Table{Name: name}
	for _, r := range m.Rules {
		kind, _ := CanonicalCoercion(r.Coerce)
		if kind == "" {
			kind = CoerceString
		}
		col := strings.ReplaceAll(strings.TrimSpace(r.Target), ".", "_")
		_, isKey := pk[col]
		t.Columns = append(t.Columns, Column{
			Name:       col,
			Type:       kind,
			Nullable:   !r.Required && r.Default == nil,
			PrimaryKey: isKey,
		})
	}
	return t, nil
}

// JSONField is one entry of a warehouse-style JSON schema document.
type JSONField struct {
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Mode   string      `json:"mode,omitempty"`
	Fields []JSONField `json:"fields,omitempty"`
}

var warehouseTypes = map[string]string{
	"STRING": CoerceString, "BYTES": CoerceString, "GEOGRAPHY": CoerceString, "TIME": CoerceString,
	"INTEGER": CoerceInt, "INT64": CoerceInt, "INT": CoerceInt, "BIGINT": CoerceInt,
	"FLOAT": CoerceFloat, "FLOAT64": CoerceFloat, "NUMERIC": CoerceFloat, "BIGNUMERIC": CoerceFloat, "DECIMAL": CoerceFloat,
	"BOOLEAN": CoerceBool, "BOOL": CoerceBool,
	"TIMESTAMP": CoerceTimestamp, "DATETIME": CoerceTimestamp,
	"DATE": CoerceDate, "RECORD": CoerceJSON, "STRUCT": CoerceJSON, "JSON": CoerceJSON,
}

// ParseJSONSchema reads a document of the form [{"name","type","mode"}],
// or an object holding that list under "fields" or "schema".
func ParseJSONSchema(data []byte) ([]JSONField, error) {
	var fields []JSONField
	if err := json.Unmarshal(data, &fields); err == nil {
		return fields, nil
	}
	var wrapped struct {
		Fields []JSONField `json:"fields"`
		Schema []JSONField `json:"schema"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse JSON schema")
	}
	if len(wrapped.Fields) > 0 {
		return wrapped.Fields, nil
	}
	return wrapped.Schema, nil
}

// ColumnFromRecord reads one schema entry that arrived as a record.
func ColumnFromRecord(rec *models.Record) (JSONField, error) {
	get := func(name string) string {
		v, _ := rec.Get(name)
		s, _ := v.(string)
		return s
	}
	f := JSONField{Name: get("name"), Type: get("type"), Mode: get("mode")}
	if f.Name == "" {
		return f, errors.New(errors.ErrorTypeDecode, "schema entry has no name")
	}
	if f.Type == "" {
		return f, errors.Newf(errors.ErrorTypeDecode, "schema entry %s has no type", f.Name)
	}
	return f, nil
}

// TableFromJSONSchema converts warehouse schema entries into a table.
// REQUIRED fields become NOT NULL; REPEATED and nested fields become JSON
// columns.
func TableFromJSONSchema(name string, fields []JSONField, primaryKey ...string) (Table, error) {
	pk := make(map[string]struct{}, len(primaryKey))
	for _, k := range primaryKey {
		pk[k] = struct{}{}
	}
	t := Table{Name: name}
	for _, f := range fields {
		kind, ok := warehouseTypes[strings.ToUpper(strings.TrimSpace(f.Type))]
		if !ok {
			canon, known := CanonicalCoercion(f.Type)
			if !known || canon == "" {
				return Table{}, errors.Newf(errors.ErrorTypeConfig, "field %s has unsupported type %q", f.Name, f.Type)
			}
			kind = canon
		}
		mode := strings.ToUpper(f.Mode)
		if mode == "REPEATED" || len(f.Fields) > 0 {
			kind = CoerceJSON
		}
		_, isKey := pk[f.Name]
		t.Columns = append(t.Columns, Column{
			Name:       f.Name,
			Type:       kind,
			Nullable:   mode != "REQUIRED",
			PrimaryKey: isKey,
		})
	}
	return t, nil
}
