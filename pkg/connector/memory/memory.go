// Package memory provides in-process sources and sinks. They back tests and
// programs that embed mercury and already hold their records.
//
// Configured pipelines reach them through named datasets:
//
//	memory.Put("orders", records)
//	// source: {type: memory, settings: {dataset: orders}}
//	// sink:   {type: memory, settings: {dataset: orders_out, key_field: id}}
//	out := memory.Get("orders_out")
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/connector/registry"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/models"
)

var (
	datasetsMu sync.Mutex
	datasets   = map[string]*Sink{}
	inputs     = map[string][]*models.Record{}
)

// Put stores records as the input dataset name.
func Put(name string, records []*models.Record) {
	datasetsMu.Lock()
	defer datasetsMu.Unlock()
	inputs[name] = records
}

// Get returns what the sink bound to dataset name holds.
func Get(name string) []*models.Record {
	datasetsMu.Lock()
	s := datasets[name]
	datasetsMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Records()
}

func init() {
	_ = registry.RegisterSource("memory", func(cfg config.Connector) (core.Source, error) {
		name, err := cfg.Settings.Require("dataset")
		if err != nil {
			return nil, err
		}
		datasetsMu.Lock()
		recs, ok := inputs[name]
		datasetsMu.Unlock()
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "memory dataset %q not found", name)
		}
		return NewSource(cfg.Name, recs), nil
	})
	_ = registry.RegisterSink("memory", func(cfg config.Connector) (core.Sink, error) {
		name, err := cfg.Settings.Require("dataset")
		if err != nil {
			return nil, err
		}
		s := NewSink(cfg.Name, cfg.Settings.String("key_field", ""))
		datasetsMu.Lock()
		datasets[name] = s
		datasetsMu.Unlock()
		return s, nil
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name: "memory", Type: core.ConnectorTypeSource, Bounded: true,
		Description: "In-process dataset registered with memory.Put",
		Settings:    []string{"dataset"},
	})
	_ = registry.RegisterConnectorInfo(core.ConnectorInfo{
		Name: "memory", Type: core.ConnectorTypeSink,
		Description:  "In-process dataset read back with memory.Get",
		Capabilities: []string{core.CapabilityUpsert, core.CapabilityConcurrent},
		Settings:     []string{"dataset", "key_field"},
	})
}

// Source replays a fixed slice of records.
type Source struct {
	name    string
	records []*models.Record
	pos     int
}

// NewSource creates a bounded source over records.
func NewSource(name string, records []*models.Record) *Source {
	return &Source{name: name, records: records}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Bounded() bool { return true }

func (s *Source) Open(ctx context.Context) error {
	s.pos = 0
	return nil
}

func (s *Source) Read(ctx context.Context) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *Source) Close(ctx context.Context) error { return nil }

// ChannelSource is an unbounded source fed by a channel. A closed channel
// is reported as a lost stream.
type ChannelSource struct {
	name string
	ch   <-chan *models.Record
}

// NewChannelSource creates an unbounded source reading from ch.
func NewChannelSource(name string, ch <-chan *models.Record) *ChannelSource {
	return &ChannelSource{name: name, ch: ch}
}

func (s *ChannelSource) Name() string { return s.name }

func (s *ChannelSource) Bounded() bool { return false }

func (s *ChannelSource) Open(ctx context.Context) error { return nil }

func (s *ChannelSource) Read(ctx context.Context) (*models.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rec, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return rec, nil
	}
}

func (s *ChannelSource) Close(ctx context.Context) error { return nil }

// Sink collects records. With a key field it overwrites by key, which makes
// reruns idempotent.
type Sink struct {
	*base.BaseConnector
	keyField string

	mu      sync.Mutex
	records []*models.Record
	byKey   map[string]int
	flushes int
	closed  bool
}

// NewSink creates a collecting sink. keyField may be empty.
func NewSink(name, keyField string) *Sink {
	return &Sink{
		BaseConnector: base.NewBaseConnector(config.Connector{Name: name, Type: "memory"}, core.ConnectorTypeSink),
		keyField:      keyField,
		byKey:         make(map[string]int),
	}
}

func (s *Sink) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	return nil
}

// Write stores rec immediately.
func (s *Sink) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.Ack{}, errors.New(errors.ErrorTypeConnection, "memory sink is closed")
	}
	if s.keyField == "" {
		s.records = append(s.records, rec)
		return core.Ack{Written: 1}, nil
	}
	v, ok := rec.Lookup(s.keyField)
	if !ok || v == nil {
		return core.Ack{}, errors.Newf(errors.ErrorTypeWrite, "record has no key field %s", s.keyField)
	}
	key := fmt.Sprint(v)
	if i, exists := s.byKey[key]; exists {
		s.records[i] = rec
	} else {
		s.byKey[key] = len(s.records)
		s.records = append(s.records, rec)
	}
	return core.Ack{Written: 1}, nil
}

func (s *Sink) Flush(ctx context.Context) (core.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return core.Ack{}, nil
}

func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MaxWriters allows concurrent writers.
func (s *Sink) MaxWriters() int { return 16 }

// Records returns a copy of the stored records.
func (s *Sink) Records() []*models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Record(nil), s.records...)
}

// Flushes returns how often Flush was called.
func (s *Sink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}
