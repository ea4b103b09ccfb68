package schema

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/json"
	"github.com/binarymachines/mercury/pkg/models"
)

// FieldProfile is what the profiler learned about one field path.
type FieldProfile struct {
	Path     string        `json:"path" yaml:"path"`
	Type     string        `json:"type" yaml:"type"`
	Format   string        `json:"format,omitempty" yaml:"format,omitempty"`
	Nullable bool          `json:"nullable" yaml:"nullable"`
	Count    int64         `json:"count" yaml:"count"`
	Nulls    int64         `json:"nulls" yaml:"nulls"`
	Examples []interface{} `json:"examples,omitempty" yaml:"examples,omitempty"`
}

type fieldStats struct {
	path     string
	kind     string
	format   string
	count    int64
	nulls    int64
	examples []interface{}
}

// Profiler infers a field type and nullability from observed records. It
// is safe for concurrent use.
type Profiler struct {
	mu      sync.Mutex
	order   []string
	fields  map[string]*fieldStats
	records int64

	datePatterns      []*regexp.Regexp
	timestampPatterns []*regexp.Regexp
}

const maxExamples = 3

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{
		fields: make(map[string]*fieldStats),
		datePatterns: []*regexp.Regexp{
			regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
			regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`),
			regexp.MustCompile(`^\d{4}/\d{2}/\d{2}$`),
		},
		timestampPatterns: []*regexp.Regexp{
			regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?`),
			regexp.MustCompile(`^\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}$`),
		},
	}
}

// Observe folds one record into the profile. Nested records are profiled
// under dotted paths.
func (p *Profiler) Observe(rec *models.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records++
	seen := make(map[string]struct{}, rec.Len())
	p.observeRecord("", rec, seen)

	// fields absent from this record count as nulls
	for _, path := range p.order {
		if _, ok := seen[path]; !ok {
			p.fields[path].nulls++
		}
	}
}

func (p *Profiler) observeRecord(prefix string, rec *models.Record, seen map[string]struct{}) {
	for _, f := range rec.Fields() {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		if nested, ok := f.Value.(*models.Record); ok {
			p.observeRecord(path, nested, seen)
			continue
		}
		seen[path] = struct{}{}
		st, ok := p.fields[path]
		if !ok {
			// a field that shows up late was null in every earlier record
			st = &fieldStats{path: path, nulls: p.records - 1}
			p.fields[path] = st
			p.order = append(p.order, path)
		}
		st.observe(p.detect(f.Value))
		if f.Value != nil && len(st.examples) < maxExamples {
			st.examples = append(st.examples, f.Value)
		}
	}
}

func (st *fieldStats) observe(kind, format string) {
	st.count++
	if kind == "" {
		st.nulls++
		return
	}
	if st.kind == "" {
		st.kind, st.format = kind, format
		return
	}
	st.kind = widen(st.kind, kind)
	if st.format != format {
		st.format = ""
	}
}

// widen returns the narrowest type holding values of both a and b.
func widen(a, b string) string {
	switch {
	case a == b:
		return a
	case (a == CoerceInt && b == CoerceFloat) || (a == CoerceFloat && b == CoerceInt):
		return CoerceFloat
	case (a == CoerceDate && b == CoerceTimestamp) || (a == CoerceTimestamp && b == CoerceDate):
		return CoerceTimestamp
	default:
		return CoerceString
	}
}

// detect returns the coercion kind of v and the date layout of temporal
// strings. Null values have the empty kind.
func (p *Profiler) detect(v interface{}) (string, string) {
	switch t := v.(type) {
	case nil:
		return "", ""
	case bool:
		return CoerceBool, ""
	case int64:
		return CoerceInt, ""
	case float64:
		return CoerceFloat, ""
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return CoerceDate, ""
		}
		return CoerceTimestamp, ""
	case []*models.Record, []interface{}:
		return CoerceJSON, ""
	case string:
		return p.detectString(t)
	default:
		return CoerceString, ""
	}
}

func (p *Profiler) detectString(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		if hasLeadingZero(s) {
			return CoerceString, ""
		}
		return CoerceInt, ""
	}
	if _, err := toFloat(s, ""); err == nil {
		return CoerceFloat, ""
	}
	switch strings.ToLower(s) {
	case "true", "false":
		return CoerceBool, ""
	}
	for _, re := range p.datePatterns {
		if re.MatchString(s) {
			return CoerceDate, layoutOf(s)
		}
	}
	for _, re := range p.timestampPatterns {
		if re.MatchString(s) {
			return CoerceTimestamp, ""
		}
	}
	if (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) && json.Valid([]byte(s)) {
		return CoerceJSON, ""
	}
	return CoerceString, ""
}

// hasLeadingZero keeps identifiers such as zip codes as strings.
func hasLeadingZero(s string) bool {
	s = strings.TrimPrefix(s, "-")
	return len(s) > 1 && s[0] == '0' && s[1] >= '0' && s[1] <= '9'
}

func layoutOf(s string) string {
	switch {
	case strings.Contains(s, "/") && len(s) == 10 && s[4] == '/':
		return "2006/01/02"
	case strings.Contains(s, "/"):
		return "01/02/2006"
	default:
		return ""
	}
}

// Records returns how many records were observed.
func (p *Profiler) Records() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records
}

// Fields returns the profile of every field path in first-seen order.
func (p *Profiler) Fields() []FieldProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FieldProfile, 0, len(p.order))
	for _, path := range p.order {
		st := p.fields[path]
		kind := st.kind
		if kind == "" {
			kind = CoerceString
		}
		out = append(out, FieldProfile{
			Path:     path,
			Type:     kind,
			Format:   st.format,
			Nullable: st.nulls > 0,
			Count:    st.count,
			Nulls:    st.nulls,
			Examples: append([]interface{}(nil), st.examples...),
		})
	}
	return out
}

// Mapping proposes a mapping from the profile: one rule per field path with
// a snake_case target, the inferred coercion and required set for fields
// never seen null.
func (p *Profiler) Mapping(name string) config.Mapping {
	m := config.Mapping{Name: name}
	used := make(map[string]int)
	for _, f := range p.Fields() {
		target := SnakeCase(f.Path)
		if n := used[target]; n > 0 {
			used[target] = n + 1
			target = target + "_" + strconv.Itoa(n+1)
		} else {
			used[target] = 1
		}
		rule := config.MappingRule{
			Source:   f.Path,
			Target:   target,
			Coerce:   f.Type,
			Format:   f.Format,
			Required: !f.Nullable,
		}
		if rule.Coerce == CoerceString {
			rule.Coerce = ""
		}
		m.Rules = append(m.Rules, rule)
	}
	return m
}

// SnakeCase turns a field name or dotted path into a lower snake_case
// identifier: "Order ID" and "orderId" become "order_id", "customer.name"
// becomes "customer_name".
func SnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(s))
	lastUnderscore := true
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && !lastUnderscore && i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "field"
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "f_" + out
	}
	return out
}
