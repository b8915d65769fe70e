// Package registry maps connector type names from configuration to factories.
// Connectors self-register from their package init.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/errors"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
)

// Registry manages connector registration and instantiation
type Registry struct {
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
	info         map[string]*ConnectorInfo
	mu           sync.RWMutex
	logger       *zap.Logger
}

// SourceFactory creates a source connector from the full configuration
type SourceFactory func(cfg *config.Config) (core.Source, error)

// DestinationFactory creates a destination connector from the full configuration
type DestinationFactory func(cfg *config.Config) (core.Destination, error)

// ConnectorInfo provides information about a connector
type ConnectorInfo struct {
	Name        string             `json:"name"`
	Type        core.ConnectorType `json:"type"`
	Description string             `json:"description"`
	Version     string             `json:"version"`
	ConfigKeys  []string           `json:"config_keys"`
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
		info:         make(map[string]*ConnectorInfo),
		logger:       logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source connector factory
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", name))
	}

	r.sources[name] = factory
	r.logger.Debug("source connector registered", zap.String("name", name))
	return nil
}

// RegisterDestination registers a destination connector factory
func (r *Registry) RegisterDestination(name string, factory DestinationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.destinations[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s already registered", name))
	}

	r.destinations[name] = factory
	r.logger.Debug("destination connector registered", zap.String("name", name))
	return nil
}

// RegisterInfo records descriptive metadata shown by the list command
func (r *Registry) RegisterInfo(info *ConnectorInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info[string(info.Type)+"/"+info.Name] = info
}

// CreateSource creates the source named by cfg.Source.Type
func (r *Registry) CreateSource(cfg *config.Config) (core.Source, error) {
	name := cfg.Source.Type

	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s not found", name))
	}

	source, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source connector %s", name))
	}

	return source, nil
}

// CreateDestination creates the destination named by cfg.Destination.Type
func (r *Registry) CreateDestination(cfg *config.Config) (core.Destination, error) {
	name := cfg.Destination.Type

	r.mu.RLock()
	factory, exists := r.destinations[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s not found", name))
	}

	destination, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create destination connector %s", name))
	}

	return destination, nil
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

// ListDestinations returns the sorted names of registered destination connectors
func (r *Registry) ListDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	destinations := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		destinations = append(destinations, name)
	}
	sort.Strings(destinations)
	return destinations
}

// Info returns metadata for a connector, if registered
func (r *Registry) Info(kind core.ConnectorType, name string) (*ConnectorInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.info[string(kind)+"/"+name]
	return info, ok
}

// HasSource checks if a source connector is registered
func (r *Registry) HasSource(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[name]
	return exists
}

// HasDestination checks if a destination connector is registered
func (r *Registry) HasDestination(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.destinations[name]
	return exists
}

// Global registry functions

// RegisterSource registers a source connector in the global registry
func RegisterSource(name string, factory SourceFactory) error {
	return globalRegistry.RegisterSource(name, factory)
}

// RegisterDestination registers a destination connector in the global registry
func RegisterDestination(name string, factory DestinationFactory) error {
	return globalRegistry.RegisterDestination(name, factory)
}

// RegisterInfo records connector metadata in the global registry
func RegisterInfo(info *ConnectorInfo) {
	globalRegistry.RegisterInfo(info)
}

// CreateSource creates a source connector from the global registry
func CreateSource(cfg *config.Config) (core.Source, error) {
	return globalRegistry.CreateSource(cfg)
}

// CreateDestination creates a destination connector from the global registry
func CreateDestination(cfg *config.Config) (core.Destination, error) {
	return globalRegistry.CreateDestination(cfg)
}

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}
