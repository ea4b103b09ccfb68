// Package config provides the configuration model for mercury pipelines.
//
// A Pipeline is the declarative form of a run: one source connector, an
// ordered list of stages, one or more sink connectors and an execution
// policy. Connector-specific settings live in a flat key/value Settings map
// so that every backend shares the same configuration shape.
//
// # Loading
//
//	cfg, err := config.LoadPipeline("orders.yaml")
//	if err != nil {
//		return err
//	}
//
// Files may reference the environment with ${VAR_NAME}; values under the
// MERCURY_ prefix override file values (MERCURY_POLICY_WORKERS=4).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/binarymachines/mercury/pkg/errors"
)

// Error policies for per-record failures.
const (
	ErrorPolicyContinue = "continue"
	ErrorPolicyFailFast = "fail-fast"
)

// Stage failure policies.
const (
	OnErrorDrop    = "drop"
	OnErrorDefault = "default"
	OnErrorAbort   = "abort"
)

// Pipeline describes one run.
type Pipeline struct {
	Name   string      `yaml:"name" json:"name" mapstructure:"name"`
	Source Connector   `yaml:"source" json:"source" mapstructure:"source"`
	Stages []Stage     `yaml:"stages,omitempty" json:"stages,omitempty" mapstructure:"stages"`
	Sinks  []Connector `yaml:"sinks" json:"sinks" mapstructure:"sinks"`
	Policy Policy      `yaml:"policy" json:"policy" mapstructure:"policy"`
}

// Connector configures a source or sink.
type Connector struct {
	Name     string   `yaml:"name,omitempty" json:"name,omitempty" mapstructure:"name"`
	Type     string   `yaml:"type" json:"type" mapstructure:"type"`
	Settings Settings `yaml:"settings,omitempty" json:"settings,omitempty" mapstructure:"settings"`
	// Writers is the number of concurrent writer tasks for a sink. Only
	// sinks that tolerate reordering accept more than one.
	Writers int `yaml:"writers,omitempty" json:"writers,omitempty" mapstructure:"writers"`
}

// Stage configures a transform stage.
type Stage struct {
	Name        string   `yaml:"name,omitempty" json:"name,omitempty" mapstructure:"name"`
	Type        string   `yaml:"type" json:"type" mapstructure:"type"`
	OnError     string   `yaml:"on_error,omitempty" json:"on_error,omitempty" mapstructure:"on_error"`
	Settings    Settings `yaml:"settings,omitempty" json:"settings,omitempty" mapstructure:"settings"`
	Mapping     *Mapping `yaml:"mapping,omitempty" json:"mapping,omitempty" mapstructure:"mapping"`
	MappingFile string   `yaml:"mapping_file,omitempty" json:"mapping_file,omitempty" mapstructure:"mapping_file"`
}

// Mapping is a named set of schema mapping rules.
type Mapping struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty" mapstructure:"name"`
	// KeepUnmapped copies source fields that no rule reads.
	KeepUnmapped bool          `yaml:"keep_unmapped,omitempty" json:"keep_unmapped,omitempty" mapstructure:"keep_unmapped"`
	Rules        []MappingRule `yaml:"rules" json:"rules" mapstructure:"rules"`
}

// MappingRule maps one source path onto one target path.
type MappingRule struct {
	Source   string      `yaml:"source,omitempty" json:"source,omitempty" mapstructure:"source"`
	Target   string      `yaml:"target" json:"target" mapstructure:"target"`
	Coerce   string      `yaml:"coerce,omitempty" json:"coerce,omitempty" mapstructure:"coerce"`
	Format   string      `yaml:"format,omitempty" json:"format,omitempty" mapstructure:"format"`
	Default  interface{} `yaml:"default,omitempty" json:"default,omitempty" mapstructure:"default"`
	Required bool        `yaml:"required,omitempty" json:"required,omitempty" mapstructure:"required"`
}

// Policy is the execution policy of a run.
type Policy struct {
	BatchSize   int    `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size" mapstructure:"buffer_size"`
	Workers     int    `yaml:"workers" json:"workers" mapstructure:"workers"`
	ErrorPolicy string `yaml:"error_policy" json:"error_policy" mapstructure:"error_policy"`
	// MaxRecords stops the reader after this many records; 0 means no limit.
	MaxRecords int64 `yaml:"max_records,omitempty" json:"max_records,omitempty" mapstructure:"max_records"`
	Retry      Retry `yaml:"retry" json:"retry" mapstructure:"retry"`
}

// Retry configures retries of connector-level failures.
type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier" mapstructure:"multiplier"`
}

// DefaultPolicy returns the execution policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		BatchSize:   500,
		BufferSize:  1000,
		Workers:     1,
		ErrorPolicy: ErrorPolicyContinue,
		Retry: Retry{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// ApplyDefaults fills unset names and policy values in place.
func (p *Pipeline) ApplyDefaults() {
	def := DefaultPolicy()
	if p.Name == "" {
		p.Name = "pipeline"
	}
	if p.Source.Name == "" {
		p.Source.Name = p.Source.Type
	}
	for i := range p.Stages {
		if p.Stages[i].Name == "" {
			p.Stages[i].Name = fmt.Sprintf("%s_%d", p.Stages[i].Type, i+1)
		}
		if p.Stages[i].OnError == "" {
			p.Stages[i].OnError = OnErrorDrop
		}
	}
	typeCount := make(map[string]int)
	for _, s := range p.Sinks {
		typeCount[s.Type]++
	}
	for i := range p.Sinks {
		if p.Sinks[i].Name == "" {
			p.Sinks[i].Name = p.Sinks[i].Type
			if typeCount[p.Sinks[i].Type] > 1 {
				p.Sinks[i].Name = fmt.Sprintf("%s_%d", p.Sinks[i].Type, i+1)
			}
		}
		if p.Sinks[i].Writers == 0 {
			p.Sinks[i].Writers = 1
		}
	}

	pol := &p.Policy
	if pol.BatchSize == 0 {
		pol.BatchSize = def.BatchSize
	}
	if pol.BufferSize == 0 {
		pol.BufferSize = def.BufferSize
	}
	if pol.Workers == 0 {
		pol.Workers = def.Workers
	}
	if pol.ErrorPolicy == "" {
		pol.ErrorPolicy = def.ErrorPolicy
	}
	if pol.Retry.MaxAttempts == 0 {
		pol.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if pol.Retry.InitialDelay == 0 {
		pol.Retry.InitialDelay = def.Retry.InitialDelay
	}
	if pol.Retry.MaxDelay == 0 {
		pol.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if pol.Retry.Multiplier == 0 {
		pol.Retry.Multiplier = def.Retry.Multiplier
	}
}

// Validate checks the pipeline for configuration errors. It does not
// resolve connector or stage types; that happens when the pipeline is built.
func (p *Pipeline) Validate() error {
	if p.Source.Type == "" {
		return errors.New(errors.ErrorTypeConfig, "source type is required")
	}
	if len(p.Sinks) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one sink is required")
	}

	names := map[string]string{p.Source.Name: "source"}
	for _, st := range p.Stages {
		if st.Type == "" {
			return errors.Newf(errors.ErrorTypeConfig, "stage %q: type is required", st.Name)
		}
		switch st.OnError {
		case OnErrorDrop, OnErrorDefault, OnErrorAbort:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "stage %q: unknown on_error %q", st.Name, st.OnError)
		}
		if other, dup := names[st.Name]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "stage name %q already used by %s", st.Name, other)
		}
		names[st.Name] = "stage"
	}
	for _, s := range p.Sinks {
		if s.Type == "" {
			return errors.Newf(errors.ErrorTypeConfig, "sink %q: type is required", s.Name)
		}
		if s.Writers < 0 {
			return errors.Newf(errors.ErrorTypeConfig, "sink %q: writers cannot be negative", s.Name)
		}
		if other, dup := names[s.Name]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "sink name %q already used by %s", s.Name, other)
		}
		names[s.Name] = "sink"
	}

	return p.Policy.Validate()
}

// Validate checks the execution policy.
func (pol *Policy) Validate() error {
	if pol.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "batch_size must be positive")
	}
	if pol.BufferSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "buffer_size must be positive")
	}
	if pol.Workers <= 0 {
		return errors.New(errors.ErrorTypeConfig, "workers must be positive")
	}
	if pol.MaxRecords < 0 {
		return errors.New(errors.ErrorTypeConfig, "max_records cannot be negative")
	}
	switch pol.ErrorPolicy {
	case ErrorPolicyContinue, ErrorPolicyFailFast:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown error_policy %q", pol.ErrorPolicy)
	}
	if pol.Retry.MaxAttempts <= 0 {
		return errors.New(errors.ErrorTypeConfig, "retry.max_attempts must be positive")
	}
	if pol.Retry.Multiplier < 1 {
		return errors.New(errors.ErrorTypeConfig, "retry.multiplier must be at least 1")
	}
	return nil
}

// FailFast reports whether per-record failures abort the run.
func (pol *Policy) FailFast() bool {
	return strings.EqualFold(pol.ErrorPolicy, ErrorPolicyFailFast)
}
