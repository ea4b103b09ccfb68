package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/errors"
)

func TestPipeline(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"postgresql", "postgresql"},
		{"pg", "postgresql"},
		{"sqlite3", "sqlite"},
		{"mssql", "sqlserver"},
		{"snowflake", "snowflake"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			tool := newTool()
			cmd := cli.Command(tool)
			require.NoError(t, cmd.ParseFlags([]string{
				"-t", "views,clicks", "-m", "views.yaml", "--driver", tt.driver,
				"--dsn", "x", "--table", "facts", "--keys", "id,day",
			}))
			p, err := tool.Pipeline(cmd, nil)
			require.NoError(t, err)
			assert.Equal(t, "kafka", p.Source.Type)
			assert.Equal(t, "views,clicks", p.Source.Settings["topics"])
			assert.Equal(t, "k2olap", p.Source.Settings["group"])
			require.Len(t, p.Stages, 1)
			assert.Equal(t, "map", p.Stages[0].Type)
			assert.Equal(t, tt.want, p.Sinks[0].Type)
			assert.Equal(t, "id,day", p.Sinks[0].Settings["keys"])
			assert.Equal(t, "500", p.Sinks[0].Settings["batch_size"])
		})
	}
}

func TestPipelineErrors(t *testing.T) {
	tests := map[string][]string{
		"missing mapping": {"-t", "x", "--dsn", "d", "--table", "t"},
		"missing topic":   {"-m", "m.yaml", "--dsn", "d", "--table", "t"},
		"unknown driver":  {"-t", "x", "-m", "m.yaml", "--dsn", "d", "--table", "t", "--driver", "oracle"},
		"no sql driver":   {"-t", "x", "-m", "m.yaml", "--dsn", "d", "--table", "t", "--driver", "bigquery"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			tool := newTool()
			cmd := cli.Command(tool)
			require.NoError(t, cmd.ParseFlags(args))
			_, err := tool.Pipeline(cmd, nil)
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}
}
