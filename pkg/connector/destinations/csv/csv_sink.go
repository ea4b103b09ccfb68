// Package csv writes records as delimited text.
package csv

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/formats"
)

// CSVSink writes one row per record. Without a columns setting the header
// is taken from the first record; with strict set, a later record carrying
// other fields is rejected.
type CSVSink struct {
	*base.FileSink
}

// NewCSVSink creates a csv sink from its configuration.
func NewCSVSink(cfg config.Connector) (*CSVSink, error) {
	return newSink(cfg, cfg.Settings.String("delimiter", "comma"))
}

func newSink(cfg config.Connector, delimiter string) (*CSVSink, error) {
	delim, err := formats.ParseDelimiter(delimiter)
	if err != nil {
		return nil, err
	}
	header, err := cfg.Settings.Bool("header", true)
	if err != nil {
		return nil, err
	}
	strict, err := cfg.Settings.Bool("strict", true)
	if err != nil {
		return nil, err
	}
	wcfg := formats.DefaultWriterConfig(formats.CSV)
	wcfg.Delimiter = delim
	wcfg.Header = header
	wcfg.Strict = strict
	wcfg.Columns = cfg.Settings.List("columns")

	fs, err := base.NewFileSink(cfg, wcfg)
	if err != nil {
		return nil, err
	}
	return &CSVSink{FileSink: fs}, nil
}
