package models

import (
	"strconv"
	"time"

	"github.com/binarymachines/mercury/pkg/json"
)

// Normalize converts v into the value set a Record holds: integers become
// int64, floats float64, maps nested Records and slices of maps []*Record.
// Types it does not know are kept as they are.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, int64, float64, bool, time.Time, *Record, []*Record:
		return v
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case json.Number:
		return numberValue(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	case map[string]interface{}:
		return FromMap(t)
	case []map[string]interface{}:
		out := make([]*Record, len(t))
		for i, m := range t {
			out[i] = FromMap(m)
		}
		return out
	case []interface{}:
		return normalizeSlice(t)
	default:
		return v
	}
}

func normalizeSlice(items []interface{}) interface{} {
	out := make([]interface{}, len(items))
	allRecords := len(items) > 0
	for i, item := range items {
		out[i] = Normalize(item)
		if _, ok := out[i].(*Record); !ok {
			allRecords = false
		}
	}
	if !allRecords {
		return out
	}
	recs := make([]*Record, len(out))
	for i, item := range out {
		recs[i] = item.(*Record)
	}
	return recs
}

// numberValue turns a JSON number into int64 when it is integral and fits,
// float64 otherwise.
func numberValue(n json.Number) interface{} {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(string(n), 64); err == nil {
		return f
	}
	return string(n)
}

// Kind names the type of a normalized value.
func Kind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int64:
		return "int"
	case float64:
		return "float"
	case bool:
		return "bool"
	case time.Time:
		return "timestamp"
	case *Record:
		return "record"
	case []*Record, []interface{}:
		return "array"
	default:
		return "unknown"
	}
}
