package core

import (
	"context"
	"time"

	"github.com/binarymachines/mercury/pkg/models"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource ConnectorType = "source"
	ConnectorTypeSink   ConnectorType = "sink"
)

// Schema represents the data schema
type Schema struct {
	Name        string
	Description string
	Fields      []Field
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Field represents a field in the schema
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Nullable    bool
	Primary     bool
	Default     interface{}
}

// FieldType represents the data type of a field
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeDate      FieldType = "date"
	FieldTypeJSON      FieldType = "json"
	FieldTypeBinary    FieldType = "binary"
)

// Source produces a lazy sequence of records.
//
// Read returns io.EOF once a bounded source is exhausted. A malformed unit
// is reported with a decode-typed error and the next Read continues after
// it; any other error is fatal for the connector. After a fatal error the
// runner may call Read again, and the source reconnects if it can.
type Source interface {
	Name() string
	// Bounded reports whether the sequence is finite (files, queries) or
	// unbounded (topics). Unbounded sources end only on a stop signal.
	Bounded() bool
	Open(ctx context.Context) error
	Read(ctx context.Context) (*models.Record, error)
	Close(ctx context.Context) error
}

// Sink consumes records one at a time.
//
// Write may buffer. A write-typed error rejects only the given record; any
// other error is fatal and leaves the record uncommitted, so a retried
// Write with the same record must not duplicate data. Flush must be called
// before Close; Close releases handles and never flushes.
type Sink interface {
	Name() string
	Open(ctx context.Context) error
	Write(ctx context.Context, rec *models.Record) (Ack, error)
	Flush(ctx context.Context) (Ack, error)
	Close(ctx context.Context) error
}

// ConcurrentSink is a Sink that tolerates reordering and may be written by
// several goroutines at once.
type ConcurrentSink interface {
	Sink
	MaxWriters() int
}

// SchemaProvider is implemented by sources that know their schema before
// reading, such as tables and files with a header.
type SchemaProvider interface {
	Discover(ctx context.Context) (*Schema, error)
}

// Ack reports what a sink committed or rejected since its previous Ack.
// Buffered records are acknowledged by the Write or Flush that sends them.
type Ack struct {
	Written  int
	Rejected []error
}

// Add merges o into a.
func (a *Ack) Add(o Ack) {
	a.Written += o.Written
	a.Rejected = append(a.Rejected, o.Rejected...)
}

// ConnectorInfo describes a registered connector type.
type ConnectorInfo struct {
	Name         string        `json:"name"`
	Type         ConnectorType `json:"type"`
	Description  string        `json:"description"`
	Bounded      bool          `json:"bounded,omitempty"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Settings     []string      `json:"settings,omitempty"`
}

// Capability names used in ConnectorInfo.
const (
	CapabilityUpsert      = "upsert"
	CapabilityConcurrent  = "concurrent"
	CapabilityCompression = "compression"
	CapabilityResumable   = "resumable"
	CapabilitySchema      = "schema"
)
