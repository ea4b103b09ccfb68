package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/binarymachines/mercury/internal/cli"
	"github.com/binarymachines/mercury/pkg/errors"
)

func workbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Sales"))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"region", "units"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"north", 12}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A5", &[]interface{}{"south"}))
	_, err := f.NewSheet("Notes")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sales.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := cli.Command(newTool())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs(append(args, "--log-level", "error"))
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return stdout.String()
}

func TestSheetToCSV(t *testing.T) {
	path := workbook(t)
	out := filepath.Join(t.TempDir(), "sales.csv")

	execute(t, path, "--header-row", "2", "-o", out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "region,units\nnorth,12\nsouth,\n", string(data))

	execute(t, path, "--header-row", "2", "--where", "units?", "-o", out)
	data, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "region,units\nnorth,12\n", string(data))
}

func TestSheets(t *testing.T) {
	out := execute(t, "sheets", workbook(t))
	assert.Contains(t, out, "Sheet1")
	assert.Contains(t, out, "Notes")
}

func TestPipeline(t *testing.T) {
	tool := newTool()
	cmd := cli.Command(tool)
	require.NoError(t, cmd.ParseFlags([]string{"--sheet", "Q3", "--keep-empty", "--to", "jsonl", "-o", "gs://lake/q3"}))

	p, err := tool.Pipeline(cmd, []string{"report.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, "excel", p.Source.Type)
	assert.Equal(t, "Q3", p.Source.Settings["sheet"])
	assert.Equal(t, "false", p.Source.Settings["empty_as_null"])
	assert.Equal(t, "gcs", p.Sinks[0].Type)
	assert.Equal(t, "lake", p.Sinks[0].Settings["bucket"])

	_, err = tool.Pipeline(cmd, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}
