// Package schema holds the Schema Mapper and the tools built around
// mapping rules: type coercions, the profiler that proposes a mapping from
// sample records and the SQL DDL generator.
//
// A mapping compiles into a stateless transform stage:
//
//	m, err := schema.Compile(config.Mapping{Rules: []config.MappingRule{
//		{Source: "amount", Target: "total_amount", Coerce: "float", Required: true},
//	}})
package schema

import (
	"context"
	"sort"
	"strings"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
	"github.com/binarymachines/mercury/pkg/transform"
)

func init() {
	transform.RegisterStage("map", NewMapStage)
}

type compiledRule struct {
	source   string
	target   string
	coerce   string
	format   string
	def      interface{}
	required bool
}

// Mapper is a compiled mapping. It holds no per-run state and is safe for
// concurrent use.
type Mapper struct {
	name         string
	rules        []compiledRule
	keepUnmapped bool
	consumed     map[string]struct{}
}

// Compile validates a mapping and prepares it for evaluation. Duplicate
// targets, a target nested under another target, unknown coercions and
// defaults that do not survive their coercion are configuration errors.
func Compile(m config.Mapping) (*Mapper, error) {
	if len(m.Rules) == 0 && !m.KeepUnmapped {
		return nil, errors.Newf(errors.ErrorTypeConfig, "mapping %s has no rules", m.Name)
	}

	mp := &Mapper{
		name:         m.Name,
		keepUnmapped: m.KeepUnmapped,
		consumed:     make(map[string]struct{}, len(m.Rules)),
	}
	targets := make([]string, 0, len(m.Rules))
	seen := make(map[string]int, len(m.Rules))

	for i, r := range m.Rules {
		target := strings.TrimSpace(r.Target)
		if target == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "mapping %s: rule %d has no target", m.Name, i+1)
		}
		if prev, dup := seen[target]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "mapping %s: target %q is produced by rules %d and %d", m.Name, target, prev+1, i+1)
		}
		seen[target] = i

		source := strings.TrimSpace(r.Source)
		if source == "" {
			source = target
		}
		coerce, ok := CanonicalCoercion(r.Coerce)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "mapping %s: target %q has unknown coercion %q", m.Name, target, r.Coerce)
		}

		var def interface{}
		if r.Default != nil {
			v, err := Coerce(coerce, r.Default, r.Format)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "mapping %s: default of %q", m.Name, target)
			}
			def = v
		}

		mp.rules = append(mp.rules, compiledRule{
			source:   source,
			target:   target,
			coerce:   coerce,
			format:   r.Format,
			def:      def,
			required: r.Required,
		})
		head, _, _ := strings.Cut(source, ".")
		mp.consumed[head] = struct{}{}
		targets = append(targets, target)
	}

	// Sorted, every target starting with targets[i] follows it directly.
	sort.Strings(targets)
	for i := range targets {
		for j := i + 1; j < len(targets) && strings.HasPrefix(targets[j], targets[i]); j++ {
			if strings.HasPrefix(targets[j], targets[i]+".") {
				return nil, errors.Newf(errors.ErrorTypeConfig, "mapping %s: target %q is nested under target %q", m.Name, targets[j], targets[i])
			}
		}
	}
	return mp, nil
}

// NewMapStage builds the "map" stage from an inline mapping or a mapping
// file (mapping_file, or the "file" setting).
func NewMapStage(cfg *config.Stage) (transform.Stage, error) {
	var m config.Mapping
	switch {
	case cfg.Mapping != nil:
		m = *cfg.Mapping
	case cfg.MappingFile != "" || cfg.Settings.String("file", "") != "":
		path := cfg.MappingFile
		if path == "" {
			path = cfg.Settings.String("file", "")
		}
		loaded, err := config.LoadMapping(path)
		if err != nil {
			return nil, err
		}
		m = *loaded
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "map stage %s needs mapping or mapping_file", cfg.Name)
	}
	if m.Name == "" {
		m.Name = cfg.Name
	}
	mp, err := Compile(m)
	if err != nil {
		return nil, err
	}
	mp.name = cfg.Name
	return mp, nil
}

// Name returns the stage name.
func (m *Mapper) Name() string { return m.name }

// Targets lists the target paths in rule order.
func (m *Mapper) Targets() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.target
	}
	return out
}

// Apply evaluates every rule against rec. A missing or null source takes
// the rule default; without one a required rule fails the record and an
// optional rule leaves its target unset.
func (m *Mapper) Apply(_ context.Context, rec *models.Record, _ transform.State) ([]*models.Record, error) {
	out, err := m.build(rec, false)
	if err != nil {
		return nil, err
	}
	return []*models.Record{out}, nil
}

// Substitute maps rec again with failing rules replaced by their default,
// or null when they have none.
func (m *Mapper) Substitute(_ context.Context, rec *models.Record, _ transform.State, _ error) ([]*models.Record, error) {
	out, err := m.build(rec, true)
	if err != nil {
		return nil, err
	}
	return []*models.Record{out}, nil
}

func (m *Mapper) build(rec *models.Record, lenient bool) (*models.Record, error) {
	b := models.NewBuilder(len(m.rules)).Meta(rec.Meta())
	for _, r := range m.rules {
		v, err := r.evaluate(rec)
		if err != nil {
			if !lenient {
				return nil, err
			}
			v = r.def
		} else if v == nil {
			continue
		}
		if err := b.SetPath(r.target, v); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeTransform, "field %s", r.target)
		}
	}

	if m.keepUnmapped {
		for _, f := range rec.Fields() {
			if _, used := m.consumed[f.Name]; used || b.Has(f.Name) {
				continue
			}
			b.Set(f.Name, f.Value)
		}
	}
	return b.Build(), nil
}

// evaluate returns the target value of one rule.
func (r compiledRule) evaluate(rec *models.Record) (interface{}, error) {
	v, ok := rec.Lookup(r.source)
	if !ok || v == nil {
		if r.def != nil {
			return r.def, nil
		}
		if r.required {
			return nil, errors.Newf(errors.ErrorTypeTransform, "required field %s is missing", r.source)
		}
		return nil, nil
	}
	out, err := Coerce(r.coerce, v, r.format)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeTransform, "field %s", r.source)
	}
	return out, nil
}
