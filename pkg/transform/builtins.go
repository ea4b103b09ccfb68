package transform

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
	"github.com/binarymachines/mercury/pkg/models"
)

func init() {
	RegisterStage("filter", NewFilter)
	RegisterStage("select", NewSelect)
	RegisterStage("drop", NewDrop)
	RegisterStage("constant", NewConstant)
	RegisterStage("flatten", NewFlatten)
	RegisterStage("dedup", NewDedup)
}

func one(rec *models.Record) []*models.Record { return []*models.Record{rec} }

// Filter keeps records whose field satisfies a comparison.
type Filter struct {
	name   string
	field  string
	op     string
	value  string
	values []string
	negate bool
}

var filterOps = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true,
	"exists": true, "missing": true, "contains": true, "in": true,
}

// NewFilter creates a filter stage. Settings: field, op, value, negate.
func NewFilter(cfg *config.Stage) (Stage, error) {
	field, err := cfg.Settings.Require("field")
	if err != nil {
		return nil, err
	}
	op := strings.ToLower(cfg.Settings.String("op", "eq"))
	if !filterOps[op] {
		return nil, errors.Newf(errors.ErrorTypeConfig, "filter %s: unknown op %q", cfg.Name, op)
	}
	negate, err := cfg.Settings.Bool("negate", false)
	if err != nil {
		return nil, err
	}
	f := &Filter{name: cfg.Name, field: field, op: op, value: cfg.Settings.String("value", ""), negate: negate}
	if op == "in" {
		f.values = cfg.Settings.List("value")
	}
	return f, nil
}

func (f *Filter) Name() string { return f.name }

func (f *Filter) Apply(_ context.Context, rec *models.Record, _ State) ([]*models.Record, error) {
	keep, err := f.match(rec)
	if err != nil {
		return nil, err
	}
	if keep != f.negate {
		return one(rec), nil
	}
	return nil, nil
}

func (f *Filter) match(rec *models.Record) (bool, error) {
	v, ok := rec.Lookup(f.field)
	present := ok && v != nil
	switch f.op {
	case "exists":
		return present, nil
	case "missing":
		return !present, nil
	}
	if !present {
		return f.op == "ne", nil
	}

	switch f.op {
	case "contains":
		s, err := formats.Stringify(v)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeTransform, "filter value")
		}
		return strings.Contains(s, f.value), nil
	case "in":
		for _, candidate := range f.values {
			if c, err := compare(v, candidate); err == nil && c == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	c, err := compare(v, f.value)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrorTypeTransform, "cannot compare field %s", f.field)
	}
	switch f.op {
	case "eq":
		return c == 0, nil
	case "ne":
		return c != 0, nil
	case "gt":
		return c > 0, nil
	case "lt":
		return c < 0, nil
	case "gte":
		return c >= 0, nil
	default:
		return c <= 0, nil
	}
}

// compare orders a record value against a literal parsed to the value's kind.
func compare(v interface{}, literal string) (int, error) {
	switch val := v.(type) {
	case int64:
		lit, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return 0, err
		}
		return cmpFloat(float64(val), lit), nil
	case float64:
		lit, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return 0, err
		}
		return cmpFloat(val, lit), nil
	case bool:
		lit, err := strconv.ParseBool(literal)
		if err != nil {
			return 0, err
		}
		switch {
		case val == lit:
			return 0, nil
		case !val:
			return -1, nil
		default:
			return 1, nil
		}
	case time.Time:
		lit, err := time.Parse(time.RFC3339, literal)
		if err != nil {
			lit, err = time.Parse("2006-01-02", literal)
			if err != nil {
				return 0, err
			}
		}
		return val.Compare(lit), nil
	default:
		s, err := formats.Stringify(v)
		if err != nil {
			return 0, err
		}
		// text read from files: numeric on both sides compares as numbers
		if a, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			if b, err := strconv.ParseFloat(literal, 64); err == nil {
				return cmpFloat(a, b), nil
			}
		}
		return strings.Compare(s, literal), nil
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Select keeps only the listed fields, in the listed order.
type Select struct {
	name   string
	fields []string
}

// NewSelect creates a select stage. Settings: fields.
func NewSelect(cfg *config.Stage) (Stage, error) {
	fields := cfg.Settings.List("fields")
	if len(fields) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "select %s: fields is required", cfg.Name)
	}
	return &Select{name: cfg.Name, fields: fields}, nil
}

func (s *Select) Name() string { return s.name }

func (s *Select) Apply(_ context.Context, rec *models.Record, _ State) ([]*models.Record, error) {
	return one(rec.Select(s.fields...)), nil
}

// Drop removes the listed fields.
type Drop struct {
	name   string
	fields []string
}

// NewDrop creates a drop stage. Settings: fields.
func NewDrop(cfg *config.Stage) (Stage, error) {
	fields := cfg.Settings.List("fields")
	if len(fields) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "drop %s: fields is required", cfg.Name)
	}
	return &Drop{name: cfg.Name, fields: fields}, nil
}

func (d *Drop) Name() string { return d.name }

func (d *Drop) Apply(_ context.Context, rec *models.Record, _ State) ([]*models.Record, error) {
	return one(rec.Without(d.fields...)), nil
}

// Constant sets fixed string values.
type Constant struct {
	name      string
	names     []string
	values    []string
	overwrite bool
}

// NewConstant creates a constant stage. Settings: fields as
// "name=value,name2=value2", overwrite.
func NewConstant(cfg *config.Stage) (Stage, error) {
	pairs := cfg.Settings.List("fields")
	if len(pairs) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "constant %s: fields is required", cfg.Name)
	}
	overwrite, err := cfg.Settings.Bool("overwrite", true)
	if err != nil {
		return nil, err
	}
	c := &Constant{name: cfg.Name, overwrite: overwrite}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "constant %s: %q is not name=value", cfg.Name, pair)
		}
		c.names = append(c.names, strings.TrimSpace(k))
		c.values = append(c.values, strings.TrimSpace(v))
	}
	return c, nil
}

func (c *Constant) Name() string { return c.name }

func (c *Constant) Apply(_ context.Context, rec *models.Record, _ State) ([]*models.Record, error) {
	out := rec
	for i, name := range c.names {
		if !c.overwrite {
			if _, exists := out.Get(name); exists {
				continue
			}
		}
		out = out.With(name, c.values[i])
	}
	return one(out), nil
}

// Flatten fans a record out into one record per element of an array field.
type Flatten struct {
	name  string
	field string
	as    string
	merge bool
}

// NewFlatten creates a flatten stage. Settings: field, as, merge.
func NewFlatten(cfg *config.Stage) (Stage, error) {
	field, err := cfg.Settings.Require("field")
	if err != nil {
		return nil, err
	}
	merge, err := cfg.Settings.Bool("merge", false)
	if err != nil {
		return nil, err
	}
	return &Flatten{name: cfg.Name, field: field, as: cfg.Settings.String("as", field), merge: merge}, nil
}

func (f *Flatten) Name() string { return f.name }

// Apply emits one record per element. Missing, null and empty arrays yield
// no records; scalars pass through unchanged.
func (f *Flatten) Apply(_ context.Context, rec *models.Record, _ State) ([]*models.Record, error) {
	v, ok := rec.Get(f.field)
	if !ok || v == nil {
		return nil, nil
	}

	var elems []interface{}
	switch arr := v.(type) {
	case []*models.Record:
		elems = make([]interface{}, len(arr))
		for i, r := range arr {
			elems[i] = r
		}
	case []interface{}:
		elems = arr
	default:
		return one(rec), nil
	}

	parent := rec
	if f.as != f.field || f.merge {
		parent = rec.Without(f.field)
	}
	out := make([]*models.Record, 0, len(elems))
	for _, el := range elems {
		if nested, isRecord := el.(*models.Record); isRecord && f.merge {
			merged := parent
			for _, field := range nested.Fields() {
				merged = merged.With(field.Name, field.Value)
			}
			out = append(out, merged)
			continue
		}
		out = append(out, parent.With(f.as, el))
	}
	return out, nil
}

// Dedup drops records whose key was already seen in this run. It keeps
// the first occurrence. Keys are bucketed by their xxh3 sum and compared
// in full, so two distinct keys sharing a sum are both kept.
type Dedup struct {
	name string
	keys []string
	sum  func(string) uint64
}

type dedupState struct {
	seen map[uint64][]string
}

// NewDedup creates a dedup stage. Settings: keys (default: all fields).
func NewDedup(cfg *config.Stage) (Stage, error) {
	return &Dedup{name: cfg.Name, keys: cfg.Settings.List("keys"), sum: xxh3.HashString}, nil
}

func (d *Dedup) Name() string { return d.name }

func (d *Dedup) NewState() State {
	return &dedupState{seen: make(map[uint64][]string)}
}

func (d *Dedup) Apply(_ context.Context, rec *models.Record, state State) ([]*models.Record, error) {
	st, ok := state.(*dedupState)
	if !ok {
		return nil, errors.New(errors.ErrorTypeInternal, "dedup stage run without its state")
	}
	key, err := d.key(rec)
	if err != nil {
		return nil, err
	}
	sum := d.sum(key)
	for _, k := range st.seen[sum] {
		if k == key {
			return nil, nil
		}
	}
	st.seen[sum] = append(st.seen[sum], key)
	return one(rec), nil
}

// key renders the dedup fields as name, kind and value, separated so that
// no two distinct field lists render alike.
func (d *Dedup) key(rec *models.Record) (string, error) {
	var b strings.Builder
	write := func(name string, v interface{}) error {
		s, err := formats.Stringify(v)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransform, "dedup key")
		}
		b.WriteString(strconv.Quote(name))
		b.WriteByte(0)
		b.WriteString(models.Kind(v))
		b.WriteByte(0)
		b.WriteString(strconv.Quote(s))
		b.WriteByte(0x1f)
		return nil
	}

	if len(d.keys) == 0 {
		for _, f := range rec.Fields() {
			if err := write(f.Name, f.Value); err != nil {
				return "", err
			}
		}
		return b.String(), nil
	}
	for _, k := range d.keys {
		v, _ := rec.Lookup(k)
		if err := write(k, v); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
