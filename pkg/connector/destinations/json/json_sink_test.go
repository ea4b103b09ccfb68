package json

import (
	"bufio"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/models"
)

func TestJSONSinkWritesCompressedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl.gz")
	s, err := NewJSONSink(config.Connector{Name: "out", Type: "jsonl", Settings: config.Settings{"path": path}})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	for i := 1; i <= 3; i++ {
		b := models.NewBuilder(2).Set("z", i).Set("a", "x")
		_, err := s.Write(ctx, b.Build())
		require.NoError(t, err)
	}
	require.NoError(t, s.Close(ctx))

	in, err := base.OpenInput(path, compression.Gzip)
	require.NoError(t, err)
	defer in.Close()

	var lines []string
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{`{"z":1,"a":"x"}`, `{"z":2,"a":"x"}`, `{"z":3,"a":"x"}`}, lines)
}
