// Package handlers contains the worker-side task handlers. The manager never
// imports this package; payloads are opaque until a worker interprets them.
package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

// Handler executes one kind of task payload and returns its result.
type Handler interface {
	Handle(ctx context.Context, data json.RawMessage) (json.RawMessage, error)
	Name() string
}

// Registry maps handler names to their implementations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Get returns the handler for the given name, or a ConfigurationError if
// none is registered.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, &domain.ConfigurationError{Field: "handler", Reason: "no handler registered for " + name}
	}
	return h, nil
}
