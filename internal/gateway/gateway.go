// Package gateway abstracts LLM inference endpoints behind a single
// send-a-conversation capability. Providers are selected by configuration
// through a registry, never by control-flow branching in business logic.
package gateway

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/civiclab/stance-cli/internal/model"
)

// Gateway sends one conversation to an inference endpoint and returns the
// raw text output. Implementations wrap transport-level failures in a
// *TransportError so callers can distinguish them from caller bugs.
type Gateway interface {
	Send(ctx context.Context, msgs []model.Message, opts model.GenOptions) (*model.RawResponse, error)
}

// Registry maps provider names to gateways.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register adds a gateway under a provider name, replacing any previous
// registration for that name.
func (r *Registry) Register(provider string, gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[provider] = gw
}

// Get returns the gateway for a provider name.
func (r *Registry) Get(provider string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, eris.Errorf("gateway: unknown provider %q", provider)
	}
	return gw, nil
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}
