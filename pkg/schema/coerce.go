package schema

import (
	"strconv"
	"strings"
	"time"

	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

// Coercion names accepted by mapping rules.
const (
	CoerceString    = "string"
	CoerceInt       = "int"
	CoerceFloat     = "float"
	CoerceBool      = "bool"
	CoerceTimestamp = "timestamp"
	CoerceDate      = "date"
	CoerceJSON      = "json"
)

// Coercer converts a normalized value. A nil input is never passed in.
type Coercer func(v interface{}, format string) (interface{}, error)

var coercers = map[string]Coercer{
	CoerceString:    toString,
	CoerceInt:       toInt,
	CoerceFloat:     toFloat,
	CoerceBool:      toBool,
	CoerceTimestamp: toTimestamp,
	CoerceDate:      toDate,
	CoerceJSON:      toJSON,
}

// aliases accepted in mapping files for the canonical coercion names.
var coerceAliases = map[string]string{
	"integer": CoerceInt, "bigint": CoerceInt, "long": CoerceInt,
	"number": CoerceFloat, "double": CoerceFloat, "numeric": CoerceFloat, "decimal": CoerceFloat,
	"boolean": CoerceBool, "datetime": CoerceTimestamp, "text": CoerceString,
}

// CanonicalCoercion resolves aliases and reports whether name is known. The
// empty name means "keep the value as is".
func CanonicalCoercion(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", true
	}
	if alias, ok := coerceAliases[n]; ok {
		n = alias
	}
	_, ok := coercers[n]
	return n, ok
}

// Coerce converts v with the named coercion. Failures are transform errors.
func Coerce(name string, v interface{}, format string) (interface{}, error) {
	v = models.Normalize(v)
	if v == nil || name == "" {
		return v, nil
	}
	c, ok := coercers[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown coercion %q", name)
	}
	out, err := c(v, format)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeTransform, "cannot coerce %s to %s", models.Kind(v), name)
	}
	return out, nil
}

func toString(v interface{}, format string) (interface{}, error) {
	if t, ok := v.(time.Time); ok && format != "" {
		return t.Format(format), nil
	}
	return formats.Stringify(v)
}

func toInt(v interface{}, _ string) (interface{}, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case float64:
		if t != float64(int64(t)) {
			return nil, errors.Newf(errors.ErrorTypeTransform, "%v is not integral", t)
		}
		return int64(t), nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != float64(int64(f)) {
			return nil, errors.Newf(errors.ErrorTypeTransform, "%q is not an integer", t)
		}
		return int64(f), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeTransform, "unsupported %s value", models.Kind(v))
	}
}

func toFloat(v interface{}, _ string) (interface{}, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeTransform, "%q is not a number", t)
		}
		return f, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeTransform, "unsupported %s value", models.Kind(v))
	}
}

func toBool(v interface{}, _ string) (interface{}, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return nil, errors.Newf(errors.ErrorTypeTransform, "%q is not a boolean", t)
	default:
		return nil, errors.Newf(errors.ErrorTypeTransform, "unsupported %s value", models.Kind(v))
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

func toTimestamp(v interface{}, format string) (interface{}, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case int64:
		return unixTime(t), nil
	case float64:
		return unixTime(int64(t)), nil
	case string:
		s := strings.TrimSpace(t)
		if format != "" {
			ts, err := time.Parse(format, s)
			if err != nil {
				return nil, errors.Newf(errors.ErrorTypeTransform, "%q does not match layout %q", t, format)
			}
			return ts, nil
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixTime(n), nil
		}
		return nil, errors.Newf(errors.ErrorTypeTransform, "%q is not a timestamp", t)
	default:
		return nil, errors.Newf(errors.ErrorTypeTransform, "unsupported %s value", models.Kind(v))
	}
}

// unixTime reads seconds, switching to milliseconds for 13-digit values.
func unixTime(n int64) time.Time {
	if n > 1e12 || n < -1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func toDate(v interface{}, format string) (interface{}, error) {
	ts, err := toTimestamp(v, format)
	if err != nil {
		return nil, err
	}
	t := ts.(time.Time)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func toJSON(v interface{}, _ string) (interface{}, error) {
	switch t := v.(type) {
	case string:
		if !json.Valid([]byte(t)) {
			return nil, errors.New(errors.ErrorTypeTransform, "value is not valid JSON")
		}
		return t, nil
	case *models.Record:
		b, err := t.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		b, err := json.Marshal(formats.Native(v))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}
