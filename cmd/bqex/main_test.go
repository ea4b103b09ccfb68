package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/errors"
)

func TestPipeline(t *testing.T) {
	tests := []struct {
		name     string
		flags    []string
		sinkType string
		settings map[string]string
	}{
		{
			name:     "table to stdout",
			flags:    []string{"-p", "acme", "-t", "sales.orders"},
			sinkType: "json",
			settings: map[string]string{"project": "acme", "table": "sales.orders"},
		},
		{
			name:     "query to gcs",
			flags:    []string{"-p", "acme", "-q", "SELECT 1", "--location", "EU", "-o", "gs://exports/daily", "--to", "csv"},
			sinkType: "gcs",
			settings: map[string]string{"project": "acme", "query": "SELECT 1", "location": "EU"},
		},
		{
			name:     "table to local avro",
			flags:    []string{"-p", "acme", "--dataset", "sales", "-t", "orders", "--credentials", "key.json", "-o", "orders.avro"},
			sinkType: "avro",
			settings: map[string]string{"project": "acme", "dataset": "sales", "table": "orders", "credentials_file": "key.json"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := newTool()
			cmd := cli.Command(tool)
			require.NoError(t, cmd.ParseFlags(tt.flags))
			p, err := tool.Pipeline(cmd, nil)
			require.NoError(t, err)
			assert.Equal(t, "bigquery", p.Source.Type)
			assert.Equal(t, tt.settings, map[string]string(p.Source.Settings))
			assert.Equal(t, tt.sinkType, p.Sinks[0].Type)
		})
	}
}

func TestQueryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 2"), 0o644))

	tool := newTool()
	cmd := cli.Command(tool)
	require.NoError(t, cmd.ParseFlags([]string{"-p", "acme", "--query-file", path}))
	p, err := tool.Pipeline(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", p.Source.Settings["query"])
}

func TestPipelineErrors(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	tests := []struct {
		name  string
		flags []string
	}{
		{"no project", []string{"-t", "sales.orders"}},
		{"neither table nor query", []string{"-p", "acme"}},
		{"table and query", []string{"-p", "acme", "-t", "x", "-q", "SELECT 1"}},
		{"query and query file", []string{"-p", "acme", "-q", "SELECT 1", "--query-file", "q.sql"}},
		{"spreadsheet output", []string{"-p", "acme", "-t", "x", "-o", "out.xlsx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := newTool()
			cmd := cli.Command(tool)
			require.NoError(t, cmd.ParseFlags(tt.flags))
			_, err := tool.Pipeline(cmd, nil)
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}
}

func TestDryRun(t *testing.T) {
	cmd := cli.Command(newTool())
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"-p", "acme", "-t", "sales.orders", "-o", "s3://exports/orders", "--dry-run"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, stderr.String(), "source  bigquery (bigquery)")
	assert.Contains(t, stderr.String(), "sink    output (s3, writers=1)")
}
