package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/json"
)

func run(t *testing.T, args ...string) {
	t.Helper()
	cmd := cli.Command(newTool())
	cmd.SetArgs(append(args, "--log-level", "error"))
	require.NoError(t, cmd.ExecuteContext(context.Background()))
}

func TestMappingFromCSV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(in, []byte("Order ID,amount,placedOn,note\n1,2.50,2024-01-31,\n2,3,2024-02-01,gift\n"), 0o644))

	out := filepath.Join(dir, "orders.yaml")
	run(t, in, "-o", out)

	m, err := config.LoadMapping(out)
	require.NoError(t, err)
	assert.Equal(t, "orders", m.Name)
	require.Len(t, m.Rules, 4)

	assert.Equal(t, config.MappingRule{Source: "Order ID", Target: "order_id", Coerce: "int", Required: true}, m.Rules[0])
	assert.Equal(t, "float", m.Rules[1].Coerce)
	assert.Equal(t, "placed_on", m.Rules[2].Target)
	assert.Equal(t, "date", m.Rules[2].Coerce)
	assert.Equal(t, "note", m.Rules[3].Target)
	assert.False(t, m.Rules[3].Required)
}

func TestProfileSample(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(in, []byte("{\"n\":1}\n{\"n\":2}\n{\"n\":\"x\"}\n"), 0o644))

	out := filepath.Join(dir, "profile.json")
	run(t, in, "--profile", "--sample", "2", "-o", out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var fields []struct {
		Path  string `json:"path"`
		Type  string `json:"type"`
		Count int64  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(data, &fields))
	require.Len(t, fields, 1)
	assert.Equal(t, "n", fields[0].Path)
	assert.Equal(t, "int", fields[0].Type)
	assert.EqualValues(t, 2, fields[0].Count)
}

func TestMappingName(t *testing.T) {
	assert.Equal(t, "orders", mappingName("/data/orders.csv.gz"))
	assert.Equal(t, "events", mappingName("events.jsonl"))
	assert.Equal(t, "stdin", mappingName("-"))
}
