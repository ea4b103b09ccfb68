package schema

import (
	"strconv"
	"strings"

	"github.com/binarymachines/mercury/pkg/errors"
)

// Placeholder returns the bind parameter for the i-th argument, 1-based.
func (d Dialect) Placeholder(i int) string {
	switch d.Name {
	case "postgres":
		return "$" + strconv.Itoa(i)
	case "sqlserver", "bigquery":
		return "@p" + strconv.Itoa(i)
	default:
		return "?"
	}
}

// Insert renders a one-row INSERT of columns into table. With keys the
// statement is an upsert: rows whose keys already exist are updated. The
// arguments bind in column order.
func Insert(d Dialect, table string, columns, keys []string) (string, error) {
	if len(columns) == 0 {
		return "", errors.New(errors.ErrorTypeConfig, "insert needs at least one column")
	}
	for _, k := range keys {
		if !contains(columns, k) {
			return "", errors.Newf(errors.ErrorTypeConfig, "key %s is not a column", k)
		}
	}

	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.Quote(c)
		params[i] = d.Placeholder(i + 1)
	}
	var updates []string
	for _, c := range columns {
		if !contains(keys, c) {
			updates = append(updates, c)
		}
	}

	if len(keys) > 0 && (d.Name == "sqlserver" || d.Name == "snowflake") {
		return merge(d, table, cols, params, keys, updates), nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.Quote(table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(strings.Join(params, ", "))
	sb.WriteString(")")
	if len(keys) == 0 {
		return sb.String(), nil
	}

	switch d.Name {
	case "postgres", "sqlite":
		quotedKeys := make([]string, len(keys))
		for i, k := range keys {
			quotedKeys[i] = d.Quote(k)
		}
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(strings.Join(quotedKeys, ", "))
		if len(updates) == 0 {
			sb.WriteString(") DO NOTHING")
			break
		}
		sb.WriteString(") DO UPDATE SET ")
		for i, c := range updates {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.Quote(c) + " = EXCLUDED." + d.Quote(c))
		}
	case "mysql":
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
		if len(updates) == 0 {
			// a no-op assignment keeps the statement valid
			sb.WriteString(d.Quote(keys[0]) + " = " + d.Quote(keys[0]))
			break
		}
		for i, c := range updates {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.Quote(c) + " = VALUES(" + d.Quote(c) + ")")
		}
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "%s does not support upserts", d.Name)
	}
	return sb.String(), nil
}

func merge(d Dialect, table string, cols, params, keys, updates []string) string {
	var sb strings.Builder
	sb.WriteString("MERGE INTO ")
	sb.WriteString(d.Quote(table))
	sb.WriteString(" AS target USING (SELECT ")
	for i := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(params[i] + " AS " + cols[i])
	}
	sb.WriteString(") AS source ON ")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString("target." + d.Quote(k) + " = source." + d.Quote(k))
	}
	if len(updates) > 0 {
		sb.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range updates {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("target." + d.Quote(c) + " = source." + d.Quote(c))
		}
	}
	source := make([]string, len(cols))
	for i, c := range cols {
		source[i] = "source." + c
	}
	sb.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(strings.Join(source, ", "))
	sb.WriteString(");")
	return sb.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
