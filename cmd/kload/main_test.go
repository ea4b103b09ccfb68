package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/errors"
)

func TestPipeline(t *testing.T) {
	tool := newTool()
	cmd := cli.Command(tool)
	require.NoError(t, cmd.ParseFlags([]string{
		"-b", "k1:9092,k2:9092", "-t", "orders", "--key-field", "id", "-m", "orders.yaml", "--producers", "3",
	}))

	p, err := tool.Pipeline(cmd, []string{"orders.csv.gz"})
	require.NoError(t, err)
	assert.Equal(t, "csv", p.Source.Type)
	require.Len(t, p.Stages, 1)
	assert.Equal(t, "orders.yaml", p.Stages[0].MappingFile)
	require.Len(t, p.Sinks, 1)
	sink := p.Sinks[0]
	assert.Equal(t, "kafka", sink.Type)
	assert.Equal(t, 3, sink.Writers)
	assert.Equal(t, "k1:9092,k2:9092", sink.Settings["brokers"])
	assert.Equal(t, "id", sink.Settings["key_field"])
}

func TestPipelineNeedsTopic(t *testing.T) {
	tool := newTool()
	cmd := cli.Command(tool)
	_, err := tool.Pipeline(cmd, []string{"orders.csv"})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestDryRun(t *testing.T) {
	cmd := cli.Command(newTool())
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"events.jsonl", "-t", "events", "--dry-run"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, stderr.String(), "sink    kafka (kafka, writers=1)")
}
