// Package json writes records as JSON lines.
package json

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/formats"
)

// JSONSink writes one JSON object per line, fields in record order.
type JSONSink struct {
	*base.FileSink
}

func NewJSONSink(cfg config.Connector) (*JSONSink, error) {
	fs, err := base.NewFileSink(cfg, formats.DefaultWriterConfig(formats.JSONL))
	if err != nil {
		return nil, err
	}
	return &JSONSink{FileSink: fs}, nil
}
