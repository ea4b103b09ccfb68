// Package models provides the Record, the normalized unit of data flowing
// through a mercury pipeline.
//
// A Record is an ordered mapping from field name to value. Values are
// scalars (string, int64, float64, bool, time.Time, nil), nested Records,
// or sequences. Records are immutable once built: operations that "modify"
// a Record return a new one and leave the receiver untouched, which lets
// a single Record be dispatched to several sinks at once.
package models

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/binarymachines/mercury/pkg/errors"
)

// indexThreshold is the field count above which a Record keeps a name index.
const indexThreshold = 8

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value interface{}
}

// Metadata describes where a Record came from. It travels with the Record
// but is not part of its fields.
type Metadata struct {
	Source    string    `json:"source,omitempty"`
	Position  int64     `json:"position,omitempty"` // line or row number, 1-based
	Partition int32     `json:"partition,omitempty"`
	Offset    int64     `json:"offset,omitempty"`
	Key       string    `json:"key,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Record is an ordered, immutable set of uniquely named fields.
type Record struct {
	fields []Field
	index  map[string]int
	meta   Metadata
}

// New creates a Record from fields, rejecting duplicate names.
func New(fields ...Field) (*Record, error) {
	r := &Record{fields: make([]Field, 0, len(fields))}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeValidation, "duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		r.fields = append(r.fields, Field{Name: f.Name, Value: Normalize(f.Value)})
	}
	r.reindex()
	return r, nil
}

// FromMap creates a Record from a map. Map iteration order is undefined, so
// fields are sorted by name.
func FromMap(m map[string]interface{}) *Record {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	r := &Record{fields: make([]Field, 0, len(m))}
	for _, name := range names {
		r.fields = append(r.fields, Field{Name: name, Value: Normalize(m[name])})
	}
	r.reindex()
	return r
}

func (r *Record) reindex() {
	if len(r.fields) <= indexThreshold {
		r.index = nil
		return
	}
	r.index = make(map[string]int, len(r.fields))
	for i, f := range r.fields {
		r.index[f.Name] = i
	}
}

func (r *Record) find(name string) int {
	if r.index != nil {
		if i, ok := r.index[name]; ok {
			return i
		}
		return -1
	}
	for i := range r.fields {
		if r.fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of fields
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// Get returns the value of a top-level field.
func (r *Record) Get(name string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	if i := r.find(name); i >= 0 {
		return r.fields[i].Value, true
	}
	return nil, false
}

// Lookup resolves a dotted path through nested Records. A top-level field
// whose name contains dots wins over a nested path.
func (r *Record) Lookup(path string) (interface{}, bool) {
	if v, ok := r.Get(path); ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	cur := r
	parts := strings.Split(path, ".")
	for i, part := range parts {
		v, ok := cur.Get(part)
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.(*Record)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// Fields returns a copy of the fields in order.
func (r *Record) Fields() []Field {
	if r == nil {
		return nil
	}
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Names returns the field names in order.
func (r *Record) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// Meta returns the record metadata
func (r *Record) Meta() Metadata {
	if r == nil {
		return Metadata{}
	}
	return r.meta
}

// WithMeta returns a copy of r carrying meta.
func (r *Record) WithMeta(meta Metadata) *Record {
	out := r.clone(0)
	out.meta = meta
	return out
}

// With returns a copy of r with name set to value. An existing field keeps
// its position; a new field is appended.
func (r *Record) With(name string, value interface{}) *Record {
	out := r.clone(1)
	value = Normalize(value)
	if i := out.find(name); i >= 0 {
		out.fields[i].Value = value
		return out
	}
	out.fields = append(out.fields, Field{Name: name, Value: value})
	out.reindex()
	return out
}

// WithPath sets a dotted path, creating intermediate Records as needed.
func (r *Record) WithPath(path string, value interface{}) (*Record, error) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return r.With(path, value), nil
	}
	child := &Record{}
	if existing, ok := r.Get(head); ok && existing != nil {
		c, isRecord := existing.(*Record)
		if !isRecord {
			return nil, errors.Newf(errors.ErrorTypeValidation, "field %q is not a record", head)
		}
		child = c
	}
	updated, err := child.WithPath(rest, value)
	if err != nil {
		return nil, err
	}
	return r.With(head, updated), nil
}

// Without returns a copy of r without the named fields.
func (r *Record) Without(names ...string) *Record {
	if r == nil {
		return &Record{}
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := &Record{fields: make([]Field, 0, r.Len()), meta: r.Meta()}
	for _, f := range r.fields {
		if _, ok := drop[f.Name]; ok {
			continue
		}
		out.fields = append(out.fields, f)
	}
	out.reindex()
	return out
}

// Select returns a copy of r holding only the named fields, in the given order.
func (r *Record) Select(names ...string) *Record {
	out := &Record{fields: make([]Field, 0, len(names)), meta: r.Meta()}
	for _, n := range names {
		if v, ok := r.Get(n); ok {
			out.fields = append(out.fields, Field{Name: n, Value: v})
		}
	}
	out.reindex()
	return out
}

// ToMap converts r into plain maps and slices, recursively.
func (r *Record) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, r.Len())
	if r == nil {
		return m
	}
	for _, f := range r.fields {
		m[f.Name] = plain(f.Value)
	}
	return m
}

func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case *Record:
		return t.ToMap()
	case []*Record:
		out := make([]interface{}, len(t))
		for i, rec := range t {
			out[i] = rec.ToMap()
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether both records hold the same fields in the same order.
// Metadata is ignored.
func (r *Record) Equal(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	if r.Len() == 0 {
		return true
	}
	for i := range r.fields {
		if r.fields[i].Name != o.fields[i].Name {
			return false
		}
		if !reflect.DeepEqual(plain(r.fields[i].Value), plain(o.fields[i].Value)) {
			return false
		}
	}
	return true
}

// String renders the record as JSON for logs and debugging.
func (r *Record) String() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<record: %v>", err)
	}
	return string(b)
}

func (r *Record) clone(extra int) *Record {
	out := &Record{fields: make([]Field, r.Len(), r.Len()+extra)}
	if r == nil {
		return out
	}
	copy(out.fields, r.fields)
	out.meta = r.meta
	if r.index != nil {
		out.index = make(map[string]int, len(r.index)+extra)
		for k, v := range r.index {
			out.index[k] = v
		}
	}
	return out
}

// Builder assembles a Record field by field. A Builder must not be used
// after Build.
type Builder struct {
	rec *Record
}

// NewBuilder returns a Builder sized for capacity fields.
func NewBuilder(capacity int) *Builder {
	return &Builder{rec: &Record{fields: make([]Field, 0, capacity)}}
}

// Set sets a top-level field. Setting an existing name replaces its value.
func (b *Builder) Set(name string, value interface{}) *Builder {
	value = Normalize(value)
	if i := b.rec.find(name); i >= 0 {
		b.rec.fields[i].Value = value
		return b
	}
	b.rec.fields = append(b.rec.fields, Field{Name: name, Value: value})
	if b.rec.index != nil {
		b.rec.index[name] = len(b.rec.fields) - 1
	} else if len(b.rec.fields) > indexThreshold {
		b.rec.reindex()
	}
	return b
}

// SetPath sets a dotted path, creating nested Records as needed.
func (b *Builder) SetPath(path string, value interface{}) error {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		b.Set(path, value)
		return nil
	}
	child := &Record{}
	if existing, ok := b.rec.Get(head); ok && existing != nil {
		c, isRecord := existing.(*Record)
		if !isRecord {
			return errors.Newf(errors.ErrorTypeValidation, "field %q is not a record", head)
		}
		child = c
	}
	updated, err := child.WithPath(rest, value)
	if err != nil {
		return err
	}
	b.Set(head, updated)
	return nil
}

// Has reports whether the builder already holds name.
func (b *Builder) Has(name string) bool {
	return b.rec.find(name) >= 0
}

// Meta sets the metadata of the record being built.
func (b *Builder) Meta(meta Metadata) *Builder {
	b.rec.meta = meta
	return b
}

// Build returns the assembled Record.
func (b *Builder) Build() *Record {
	rec := b.rec
	b.rec = nil
	return rec
}
