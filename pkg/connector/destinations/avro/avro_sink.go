// Package avro writes records to an Avro object container file.
package avro

import (
	"io"
	"os"
	"path/filepath"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/formats"
)

// AvroSink encodes records against a record schema given inline or as a
// file. Records that do not fit the schema are rejected one by one.
type AvroSink struct {
	*base.FileSink
}

func NewAvroSink(cfg config.Connector) (*AvroSink, error) {
	schema := cfg.Settings.String("schema", "")
	if file := cfg.Settings.String("schema_file", ""); schema == "" && file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "read avro schema %s", file)
		}
		schema = string(data)
	}
	if schema == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "avro sink needs a schema or schema_file")
	}
	blockSize, err := cfg.Settings.Int("block_size", 500)
	if err != nil {
		return nil, err
	}

	wcfg := formats.DefaultWriterConfig(formats.Avro)
	wcfg.AvroSchema = schema
	wcfg.AvroCodec = cfg.Settings.String("codec", wcfg.AvroCodec)
	wcfg.BatchSize = blockSize

	// compile the schema now so a bad one fails at build time
	if _, err := formats.NewWriter(io.Discard, wcfg); err != nil {
		return nil, err
	}
	fs, err := base.NewFileSink(cfg, wcfg)
	if err != nil {
		return nil, err
	}
	return &AvroSink{FileSink: fs}, nil
}
