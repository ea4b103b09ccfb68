package base

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

// StdioPath selects standard input or output instead of a file.
const StdioPath = "-"

// Compression resolves the compression of a file connector: the explicit
// "compression" setting wins over the path extension.
func Compression(settings config.Settings, path string) (compression.Algorithm, error) {
	if name := settings.String("compression", ""); name != "" {
		return compression.Parse(name)
	}
	algo, _ := compression.FromPath(path)
	return algo, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenInput opens path for reading, decompressing with algo.
func OpenInput(path string, algo compression.Algorithm) (io.ReadCloser, error) {
	var raw io.ReadCloser = io.NopCloser(os.Stdin)
	if path != StdioPath {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "open %s", path)
		}
		raw = f
	}
	dec, err := compression.NewReader(bufio.NewReaderSize(raw, 64*1024), algo)
	if err != nil {
		_ = raw.Close()
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "decompress %s", path)
	}
	return &readCloser{Reader: dec, closers: []io.Closer{dec, raw}}, nil
}

type writeCloser struct {
	io.Writer
	closers []io.Closer
}

// Close closes the compressor before the file so trailers are written.
func (w *writeCloser) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// OpenOutput creates path for writing, compressing with algo. Parent
// directories are created.
func OpenOutput(path string, algo compression.Algorithm) (io.WriteCloser, error) {
	var raw io.WriteCloser = nopCloser{os.Stdout}
	if path != StdioPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeFile, "create directory %s", dir)
			}
		}
		f, err := os.Create(filepath.Clean(path))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "create %s", path)
		}
		raw = f
	}
	enc, err := compression.NewWriter(raw, algo, compression.Default)
	if err != nil {
		_ = raw.Close()
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "compress %s", path)
	}
	return &writeCloser{Writer: enc, closers: []io.Closer{enc, raw}}, nil
}
