package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/adroast/pkg/frame"
	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	vision  map[string]func(ProviderEntry) (vision.Analyzer, error)
	sources map[CaptureSource]func(CaptureConfig) (frame.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vision:  make(map[string]func(ProviderEntry) (vision.Analyzer, error)),
		sources: make(map[CaptureSource]func(CaptureConfig) (frame.Source, error)),
	}
}

// RegisterVision registers a vision analyzer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVision(name string, factory func(ProviderEntry) (vision.Analyzer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vision[name] = factory
}

// RegisterSource registers a frame source factory for kind.
func (r *Registry) RegisterSource(kind CaptureSource, factory func(CaptureConfig) (frame.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = factory
}

// CreateVision instantiates a vision analyzer using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVision(entry ProviderEntry) (vision.Analyzer, error) {
	r.mu.RLock()
	factory, ok := r.vision[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vision/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSource instantiates the frame source selected by cfg.Source.
func (r *Registry) CreateSource(cfg CaptureConfig) (frame.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrProviderNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// VisionNames returns the registered vision provider names, sorted.
func (r *Registry) VisionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.vision))
	for n := range r.vision {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
