package routing

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/khanhng/llm-router/internal/provider"
)

var (
	// ErrProviderNotFound is returned when a named provider is not registered.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNoProviderAvailable is returned when no registered provider has a
	// credential configured.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrProviderAlreadyRegistered is returned on duplicate registration.
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Registry holds the process-lifetime set of provider adapters, keyed by
// name, preserving registration order for deterministic iteration.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
	order     []string
	byModel   map[string]string // model id -> provider name
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]provider.Provider),
		byModel:   make(map[string]string),
	}
}

func (r *Registry) Register(p provider.Provider) error {
	if p == nil {
		return errors.New("provider cannot be nil")
	}
	name := p.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}

	r.providers[name] = p
	r.order = append(r.order, name)
	for _, model := range p.SupportedModels() {
		if _, taken := r.byModel[model]; !taken {
			r.byModel[model] = name
		}
	}
	return nil
}

func (r *Registry) Get(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered providers in registration order.
func (r *Registry) List() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]provider.Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ResolveModel maps a model reference to its serving provider. The
// reference is either a bare model id matched against supported models,
// or "vendor/model" naming the provider directly.
func (r *Registry) ResolveModel(ref string) (provider.Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if vendor, model, ok := strings.Cut(ref, "/"); ok {
		p, exists := r.providers[vendor]
		if !exists {
			return nil, "", fmt.Errorf("%w: %s", ErrProviderNotFound, vendor)
		}
		return p, model, nil
	}

	name, exists := r.byModel[ref]
	if !exists {
		return nil, "", fmt.Errorf("%w: no provider serves model %s", ErrProviderNotFound, ref)
	}
	return r.providers[name], ref, nil
}

// Supports reports whether the provider lists the model.
func Supports(p provider.Provider, model string) bool {
	for _, m := range p.SupportedModels() {
		if m == model {
			return true
		}
	}
	return false
}
