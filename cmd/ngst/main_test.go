package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

func descriptor(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: ingest
source:
  type: csv
  settings:
    path: `+filepath.Join(dir, "missing.csv")+`
sinks:
  - name: everything
    type: json
    settings:
      path: `+filepath.Join(dir, "all.jsonl")+`
  - name: ids
    type: csv
    settings:
      path: `+filepath.Join(dir, "ids.csv")+`
`), 0o644))
	return path
}

func TestIngestDataFileToTarget(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "day1.csv")
	require.NoError(t, os.WriteFile(data, []byte("id\n1\n2\n"), 0o644))

	cmd := cli.Command(newTool())
	cmd.SetArgs([]string{"-c", descriptor(t, dir), data, "--target", "ids", "--log-level", "error"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	out, err := os.ReadFile(filepath.Join(dir, "ids.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n2\n", string(out))
	assert.NoFileExists(t, filepath.Join(dir, "all.jsonl"))
}

func TestAdjustErrors(t *testing.T) {
	p := &config.Pipeline{
		Source: config.Connector{Name: "events", Type: "kafka", Settings: config.Settings{"topics": "e"}},
		Sinks:  []config.Connector{{Name: "a", Type: "json"}, {Name: "b", Type: "csv"}},
	}

	o := &options{}
	err := o.adjust(nil, []string{"data.csv"}, p)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	o.targets = []string{"c"}
	err = o.adjust(nil, nil, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "have a, b")

	o.targets = []string{"b"}
	require.NoError(t, o.adjust(nil, nil, p))
	require.Len(t, p.Sinks, 1)
	assert.Equal(t, "b", p.Sinks[0].Name)
}

func TestNeedsDescriptor(t *testing.T) {
	cmd := cli.Command(newTool())
	cmd.SetArgs([]string{"--log-level", "error"})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	var ee *cli.ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, cli.ExitConfig, ee.Code)
}

func TestTemplateIsValid(t *testing.T) {
	t.Setenv("MERCURY_WAREHOUSE_DSN", "postgres://localhost/dw")
	cmd := cli.Command(newTool())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"template"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, heredoc.Doc(template), out.String())

	p, err := config.ParsePipeline(out.Bytes(), "yaml")
	require.NoError(t, err)
	assert.Equal(t, "ingest", p.Name)
	require.Len(t, p.Sinks, 2)
	assert.Equal(t, "postgres://localhost/dw", p.Sinks[1].Settings["dsn"])
	assert.Equal(t, "extract.yaml", p.Stages[0].MappingFile)
}
