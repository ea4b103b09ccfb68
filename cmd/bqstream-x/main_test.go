package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/errors"
)

func TestFilePipeline(t *testing.T) {
	tool := newTool()
	cmd := cli.Command(tool)
	require.NoError(t, cmd.ParseFlags([]string{
		"-m", "orders.yaml", "-p", "acme", "-t", "sales.orders", "--insert-id", "order_id", "--writers", "4", "--create-table",
	}))

	p, err := tool.Pipeline(cmd, []string{"orders.jsonl"})
	require.NoError(t, err)
	assert.Equal(t, "json", p.Source.Type)
	require.Len(t, p.Stages, 1)
	assert.Equal(t, "orders.yaml", p.Stages[0].MappingFile)

	sink := p.Sinks[0]
	assert.Equal(t, "bigquery", sink.Type)
	assert.Equal(t, 4, sink.Writers)
	assert.Equal(t, "order_id", sink.Settings["insert_id_field"])
	assert.Equal(t, "true", sink.Settings["create_table"])
	assert.Equal(t, "500", sink.Settings["batch_size"])
	assert.NotContains(t, sink.Settings, "location")
}

func TestKafkaPipeline(t *testing.T) {
	tool := newTool()
	cmd := cli.Command(tool)
	require.NoError(t, cmd.ParseFlags([]string{
		"--topic", "a,b", "-b", "k1:9092", "-m", "e.yaml", "-p", "acme", "-t", "raw.events",
	}))

	p, err := tool.Pipeline(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "kafka", p.Source.Type)
	assert.Equal(t, "a,b", p.Source.Settings["topics"])
	assert.Equal(t, "bqstream-x", p.Source.Settings["group"])
	assert.Equal(t, "k1:9092", p.Source.Settings["brokers"])
}

func TestPipelineErrors(t *testing.T) {
	base := []string{"-m", "e.yaml", "-p", "acme", "-t", "raw.events"}
	tests := []struct {
		name  string
		flags []string
		args  []string
	}{
		{"no input", base, nil},
		{"file and topic", append([]string{"--topic", "e"}, base...), []string{"e.jsonl"}},
		{"no mapping", []string{"-p", "acme", "-t", "raw.events"}, []string{"e.jsonl"}},
		{"no table", []string{"-m", "e.yaml", "-p", "acme"}, []string{"e.jsonl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := newTool()
			cmd := cli.Command(tool)
			require.NoError(t, cmd.ParseFlags(tt.flags))
			_, err := tool.Pipeline(cmd, tt.args)
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}
}
