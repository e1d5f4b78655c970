package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/aetheria/pkg/live"
)

// ErrBackendNotRegistered is returned by [Registry.CreateLive] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: live backend not registered")

// ConnectorFactory builds a live connector from its configuration block.
type ConnectorFactory func(LiveConfig) (live.Connector, error)

// Registry maps live backend names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	live map[string]ConnectorFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]ConnectorFactory)}
}

// RegisterLive registers a connector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory ConnectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// CreateLive instantiates the connector registered under entry.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateLive(entry LiveConfig) (live.Connector, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, entry.Backend)
	}
	c, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create live backend %q: %w", entry.Backend, err)
	}
	return c, nil
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.live))
	for name := range r.live {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SessionConfig returns the per-session settings passed to a connector.
func (c *Config) SessionConfig() live.Config {
	return live.Config{
		Model:               c.Live.Model,
		Voice:               c.Live.Voice,
		Instructions:        c.Live.Instructions,
		InputTranscription:  c.Live.InputTranscription,
		OutputTranscription: c.Live.OutputTranscription,
		InputSampleRate:     c.Audio.InputSampleRate,
	}
}
