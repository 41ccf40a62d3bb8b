package worker

import (
	"fmt"
	"sync"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

// Registry maps job types to their handlers. Registration happens during
// bootstrap, before the service starts; re-registering a type is a
// configuration error.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]Handler)}
}

// Register adds h. It fails when the type already has a handler.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[h.Type()]; dup {
		return fmt.Errorf("handler for job type %q already registered", h.Type())
	}
	r.handlers[h.Type()] = h
	return nil
}

// Get returns the handler for t, or domain.ErrNoHandler.
func (r *Registry) Get(t domain.JobType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoHandler, t)
	}
	return h, nil
}
