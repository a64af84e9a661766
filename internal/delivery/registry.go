// Package delivery routes sealed replies to the adapter that owns a session.
package delivery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/user/imagereader/internal/types"
)

// Handler delivers a reply to a session identified by sessionKey.
type Handler func(sessionKey string, reply *types.Post) error

// Registry routes replies to the appropriate delivery handler based on
// session key prefix (e.g. "telegram:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for session keys starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the handler with the longest prefix matching the session
// key and calls it. Returns an error if no handler is registered.
func (r *Registry) Deliver(sessionKey string, reply *types.Post) error {
	r.mu.RLock()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(sessionKey, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no delivery handler for session key: %s", sessionKey)
	}
	return handler(sessionKey, reply)
}
