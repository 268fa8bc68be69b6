package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/meetcaption/pkg/audio"
	"github.com/MrWong99/meetcaption/pkg/provider/stt"
	"github.com/MrWong99/meetcaption/pkg/provider/translate"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stt       map[string]func(ProviderEntry) (stt.Provider, error)
	translate map[string]func(ProviderEntry) (translate.Provider, error)
	capture   map[string]func(CaptureConfig) (audio.Capturer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]func(ProviderEntry) (stt.Provider, error)),
		translate: make(map[string]func(ProviderEntry) (translate.Provider, error)),
		capture:   make(map[string]func(CaptureConfig) (audio.Capturer, error)),
	}
}

// RegisterSTT registers a recognition provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTranslate registers a translation provider factory under name.
func (r *Registry) RegisterTranslate(name string, factory func(ProviderEntry) (translate.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translate[name] = factory
}

// RegisterCapture registers a capture backend factory under name.
func (r *Registry) RegisterCapture(name string, factory func(CaptureConfig) (audio.Capturer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// CreateSTT instantiates a recognition provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslate instantiates a translation provider using the factory
// registered under entry.Name.
func (r *Registry) CreateTranslate(entry ProviderEntry) (translate.Provider, error) {
	r.mu.RLock()
	factory, ok := r.translate[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates the capture backend named by cfg.Backend.
func (r *Registry) CreateCapture(cfg CaptureConfig) (audio.Capturer, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Names returns the sorted registered names for kind ("stt", "translate" or
// "capture"). Unknown kinds return nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		for n := range r.stt {
			names = append(names, n)
		}
	case "translate":
		for n := range r.translate {
			names = append(names, n)
		}
	case "capture":
		for n := range r.capture {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
