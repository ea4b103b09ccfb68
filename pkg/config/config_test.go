package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/errors"
)

const pipelineYAML = `
name: orders
source:
  type: csv
  settings:
    path: ${ORDERS_DIR}/orders.csv
    delimiter: ";"
stages:
  - type: map
    mapping:
      rules:
        - source: amount
          target: total_amount
          coerce: float
          required: true
sinks:
  - type: json
    settings:
      path: out.jsonl
  - type: postgresql
    writers: 2
    settings:
      dsn: postgres://localhost/db
      table: orders
policy:
  workers: 4
  retry:
    initial_delay: 250ms
`

func TestParsePipeline(t *testing.T) {
	t.Setenv("ORDERS_DIR", "/data")

	p, err := ParsePipeline([]byte(pipelineYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "orders", p.Name)
	assert.Equal(t, "csv", p.Source.Name)
	assert.Equal(t, "/data/orders.csv", p.Source.Settings.String("path", ""))
	assert.Equal(t, ";", p.Source.Settings.String("delimiter", ","))

	require.Len(t, p.Stages, 1)
	assert.Equal(t, "map_1", p.Stages[0].Name)
	assert.Equal(t, OnErrorDrop, p.Stages[0].OnError)
	require.NotNil(t, p.Stages[0].Mapping)
	assert.Equal(t, "total_amount", p.Stages[0].Mapping.Rules[0].Target)
	assert.True(t, p.Stages[0].Mapping.Rules[0].Required)

	require.Len(t, p.Sinks, 2)
	assert.Equal(t, 1, p.Sinks[0].Writers)
	assert.Equal(t, 2, p.Sinks[1].Writers)

	assert.Equal(t, 4, p.Policy.Workers)
	assert.Equal(t, 500, p.Policy.BatchSize)
	assert.Equal(t, 250*time.Millisecond, p.Policy.Retry.InitialDelay)
	assert.Equal(t, 3, p.Policy.Retry.MaxAttempts)
	assert.False(t, p.Policy.FailFast())
}

func TestParsePipelineEnvOverride(t *testing.T) {
	t.Setenv("ORDERS_DIR", "/data")
	t.Setenv("MERCURY_POLICY_ERROR_POLICY", "fail-fast")

	p, err := ParsePipeline([]byte(pipelineYAML), "yaml")
	require.NoError(t, err)
	assert.True(t, p.Policy.FailFast())
}

func TestValidate(t *testing.T) {
	base := func() *Pipeline {
		p := &Pipeline{
			Source: Connector{Type: "csv"},
			Sinks:  []Connector{{Type: "json"}},
		}
		p.ApplyDefaults()
		return p
	}

	tests := []struct {
		name    string
		mutate  func(p *Pipeline)
		wantErr string
	}{
		{"valid", func(p *Pipeline) {}, ""},
		{"no sinks", func(p *Pipeline) { p.Sinks = nil }, "at least one sink"},
		{"no source type", func(p *Pipeline) { p.Source.Type = "" }, "source type"},
		{"bad on_error", func(p *Pipeline) {
			p.Stages = []Stage{{Name: "s", Type: "filter", OnError: "explode"}}
		}, "unknown on_error"},
		{"duplicate names", func(p *Pipeline) {
			p.Sinks = append(p.Sinks, Connector{Name: "json", Type: "csv", Writers: 1})
		}, "already used"},
		{"bad policy", func(p *Pipeline) { p.Policy.ErrorPolicy = "sometimes" }, "error_policy"},
		{"zero workers", func(p *Pipeline) { p.Policy.Workers = -1 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSettings(t *testing.T) {
	s := Settings{"Header": "true", "batch": "10", "cols": "a, b,,c", "wait": "2s"}

	b, err := s.Bool("header", false)
	require.NoError(t, err)
	assert.True(t, b)

	n, err := s.Int("batch", 1)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = Settings{"batch": "ten"}.Int("batch", 1)
	assert.True(t, errors.IsConfig(err))

	d, err := s.Duration("wait", 0)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	assert.Equal(t, []string{"a", "b", "c"}, s.List("cols"))
	assert.Equal(t, "x", s.String("missing", "x"))

	_, err = s.Require("path")
	assert.True(t, errors.IsConfig(err))
}

func TestMappingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.yaml")

	m := &Mapping{Rules: []MappingRule{
		{Source: "amount", Target: "total_amount", Coerce: "float", Default: 0.0},
		{Source: "id", Target: "order_id", Coerce: "int", Required: true},
	}}
	require.NoError(t, SaveMapping(path, m))

	loaded, err := LoadMapping(path)
	require.NoError(t, err)
	assert.Equal(t, "orders", loaded.Name)
	require.Len(t, loaded.Rules, 2)
	assert.Equal(t, "order_id", loaded.Rules[1].Target)
	assert.True(t, loaded.Rules[1].Required)

	_, err = LoadMapping(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.IsConfig(err))
}

func TestLoadPipelineFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.json")
	content := `{"source":{"type":"kafka","settings":{"topic":"events"}},"sinks":[{"type":"bigquery"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	p, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.Equal(t, "events", p.Source.Settings.String("topic", ""))
	assert.Equal(t, "bigquery", p.Sinks[0].Name)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "one")
	assert.Equal(t, "x one y  z", substituteEnvVars("x ${A_VAR} y ${UNSET_VAR_XYZ} z"))
	assert.Equal(t, "open ${", substituteEnvVars("open ${"))
}
