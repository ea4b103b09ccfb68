package excel

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

func workbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]interface{}{
		{"Quarterly report"},
		{"Region", "", "Revenue"},
		{"north", "x", 1200},
		{},
		{"south", "y"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		if len(row) > 0 {
			require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
		}
	}
	_, err := f.NewSheet("Other")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Other", "A1", "k"))
	require.NoError(t, f.SetCellValue("Other", "A2", "v"))

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func readSheet(t *testing.T, settings config.Settings) []*models.Record {
	t.Helper()
	s, err := NewExcelSource(config.Connector{Name: "sheet", Type: "excel", Settings: settings})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	var out []*models.Record
	for {
		rec, err := s.Read(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestExcelSourceHeaderRow(t *testing.T) {
	path := workbook(t)
	recs := readSheet(t, config.Settings{"path": path, "header_row": "2"})

	require.Len(t, recs, 2)
	assert.Equal(t, []string{"Region", "column_B", "Revenue"}, recs[0].Names())
	v, _ := recs[0].Get("Revenue")
	assert.Equal(t, "1200", v)
	v, _ = recs[1].Get("Revenue")
	assert.Nil(t, v)
	assert.EqualValues(t, 5, recs[1].Meta().Position)
}

func TestExcelSourceNamedSheet(t *testing.T) {
	recs := readSheet(t, config.Settings{"path": workbook(t), "sheet": "Other"})
	require.Len(t, recs, 1)
	v, _ := recs[0].Get("k")
	assert.Equal(t, "v", v)
}

func TestExcelSourceUnknownSheet(t *testing.T) {
	s, err := NewExcelSource(config.Connector{Name: "sheet", Settings: config.Settings{"path": workbook(t), "sheet": "Missing"}})
	require.NoError(t, err)
	err = s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestHeaderNames(t *testing.T) {
	assert.Equal(t, []string{"a", "column_B", "a_2"}, headerNames([]string{" a ", "", "a"}))
}
