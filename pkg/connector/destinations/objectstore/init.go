package objectstore

import (
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
)

func init() {
	stores := []struct {
		name    string
		desc    string
		connect Connect
		extra   []string
	}{
		{"gcs", "Google Cloud Storage objects of csv or jsonl records", ConnectGCS, []string{"credentials_file"}},
		{"s3", "Amazon S3 objects of csv or jsonl records", ConnectS3, []string{"region", "endpoint"}},
	}
	for _, st := range stores {
		connect := st.connect
		_ = registry.RegisterSink(st.name, func(cfg config.Connector) (core.Sink, error) {
			return newObjectSink(cfg, connect)
		})
		_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
			Name:         st.name,
			Type:         core.ConnectorTypeSink,
			Description:  st.desc,
			Bounded:      true,
			Capabilities: []string{core.CapabilityCompression},
			Settings:     append([]string{"bucket", "prefix", "format", "compression", "columns", "max_records_per_object"}, st.extra...),
		})
	}
}

// NewGCSSink creates a sink writing objects to a GCS bucket.
func NewGCSSink(cfg config.Connector) (*ObjectSink, error) { return newObjectSink(cfg, ConnectGCS) }

// NewS3Sink creates a sink writing objects to an S3 bucket.
func NewS3Sink(cfg config.Connector) (*ObjectSink, error) { return newObjectSink(cfg, ConnectS3) }
