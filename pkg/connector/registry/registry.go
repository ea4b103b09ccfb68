// Package registry maps connector type names to factories.
//
// Connector packages register themselves from init; importing
// pkg/connector/sources and pkg/connector/destinations pulls in every
// built-in connector.
package registry

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/logger"
)

// SourceFactory creates a source connector instance from its configuration.
type SourceFactory func(cfg config.Connector) (core.Source, error)

// SinkFactory creates a sink connector instance from its configuration.
type SinkFactory func(cfg config.Connector) (core.Sink, error)

// Registry manages connector registration and instantiation
type Registry struct {
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
	catalog map[string]*core.ConnectorInfo
	mu      sync.RWMutex
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
		catalog: make(map[string]*core.ConnectorInfo),
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterSource registers a source connector factory
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = normalize(name)
	if _, exists := r.sources[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "source connector %s already registered", name)
	}
	r.sources[name] = factory
	logger.Get().Debug("source connector registered", zap.String("name", name))
	return nil
}

// RegisterSink registers a sink connector factory
func (r *Registry) RegisterSink(name string, factory SinkFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = normalize(name)
	if _, exists := r.sinks[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "sink connector %s already registered", name)
	}
	r.sinks[name] = factory
	logger.Get().Debug("sink connector registered", zap.String("name", name))
	return nil
}

// CreateSource creates a source connector instance
func (r *Registry) CreateSource(cfg config.Connector) (core.Source, error) {
	r.mu.RLock()
	factory, exists := r.sources[normalize(cfg.Type)]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "source connector %s not found", cfg.Type)
	}
	source, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to create source connector %s", cfg.Type)
	}
	return source, nil
}

// CreateSink creates a sink connector instance
func (r *Registry) CreateSink(cfg config.Connector) (core.Sink, error) {
	r.mu.RLock()
	factory, exists := r.sinks[normalize(cfg.Type)]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "sink connector %s not found", cfg.Type)
	}
	sink, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to create sink connector %s", cfg.Type)
	}
	return sink, nil
}

// ListSources returns the sorted names of registered source connectors
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.sources))
	for name := range r.sources {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return sources
}

// ListSinks returns the sorted names of registered sink connectors
func (r *Registry) ListSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		sinks = append(sinks, name)
	}
	sort.Strings(sinks)
	return sinks
}

// HasSource checks if a source connector is registered
func (r *Registry) HasSource(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[normalize(name)]
	return exists
}

// HasSink checks if a sink connector is registered
func (r *Registry) HasSink(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sinks[normalize(name)]
	return exists
}

// RegisterInfo adds a connector description to the catalog.
func (r *Registry) RegisterInfo(info core.ConnectorInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := string(info.Type) + "/" + normalize(info.Name)
	if _, exists := r.catalog[key]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "connector %s already in catalog", key)
	}
	r.catalog[key] = &info
	return nil
}

// Catalog returns every connector description, sources first, sorted by name.
func (r *Registry) Catalog() []core.ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]core.ConnectorInfo, 0, len(r.catalog))
	for _, info := range r.catalog {
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Type != infos[j].Type {
			return infos[i].Type == core.ConnectorTypeSource
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Global registry functions

// RegisterSource registers a source connector in the global registry
func RegisterSource(name string, factory SourceFactory) error {
	return globalRegistry.RegisterSource(name, factory)
}

// RegisterSink registers a sink connector in the global registry
func RegisterSink(name string, factory SinkFactory) error {
	return globalRegistry.RegisterSink(name, factory)
}

// RegisterConnectorInfo registers connector information in the global catalog
func RegisterConnectorInfo(info core.ConnectorInfo) error {
	return globalRegistry.RegisterInfo(info)
}

// CreateSource creates a source connector from the global registry
func CreateSource(cfg config.Connector) (core.Source, error) {
	return globalRegistry.CreateSource(cfg)
}

// CreateSink creates a sink connector from the global registry
func CreateSink(cfg config.Connector) (core.Sink, error) {
	return globalRegistry.CreateSink(cfg)
}

// ListSources returns registered sources from the global registry
func ListSources() []string {
	return globalRegistry.ListSources()
}

// ListSinks returns registered sinks from the global registry
func ListSinks() []string {
	return globalRegistry.ListSinks()
}

// Catalog lists the global connector catalog.
func Catalog() []core.ConnectorInfo {
	return globalRegistry.Catalog()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
