package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/recognizer"
)

// ErrNotRegistered is returned by the Create methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// RecognizerFactory builds a recognizer from its config section.
type RecognizerFactory func(RecognizerConfig) (recognizer.Recognizer, error)

// SourceFactory builds an audio source from its config section.
type SourceFactory func(AudioConfig) (audio.Source, error)

// Registry maps config names (recognizer.engine, audio.source) to
// constructors. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]RecognizerFactory
	sources     map[string]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[string]RecognizerFactory),
		sources:     make(map[string]SourceFactory),
	}
}

// RegisterRecognizer registers factory under name. A later call with the
// same name replaces it.
func (r *Registry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// RegisterSource registers factory under name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// CreateRecognizer builds the recognizer named by cfg.Engine. Returns
// [ErrNotRegistered] if nothing is registered under that name.
func (r *Registry) CreateRecognizer(cfg RecognizerConfig) (recognizer.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[cfg.Engine]
	known := registered(r.recognizers)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q (registered: %v)", ErrNotRegistered, cfg.Engine, known)
	}
	rec, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create recognizer %q: %w", cfg.Engine, err)
	}
	return rec, nil
}

// CreateSource builds the audio source named by cfg.Source.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	known := registered(r.sources)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q (registered: %v)", ErrNotRegistered, cfg.Source, known)
	}
	src, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create source %q: %w", cfg.Source, err)
	}
	return src, nil
}

func registered[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
