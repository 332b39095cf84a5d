package enrich

import (
	"context"
	"fmt"
	"sync"

	"github.com/modoterra/logrelay/pkg/core"
)

// Registry is an ordered list of information providers applied to every
// entry. Providers run in registration order; on a name collision the
// provider registered last wins.
type Registry struct {
	mu        sync.RWMutex
	providers []core.InfoProvider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...core.InfoProvider) *Registry {
	r := &Registry{}
	for _, p := range providers {
		r.Add(p)
	}
	return r
}

// Add appends a provider. A nil provider is ignored.
func (r *Registry) Add(p core.InfoProvider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Providers returns a snapshot of the registered providers.
func (r *Registry) Providers() []core.InfoProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.InfoProvider(nil), r.providers...)
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Populate runs every provider against dict. A provider that panics in
// spite of its contract is recorded under "<name>.Error" and the remaining
// providers still run.
func (r *Registry) Populate(ctx context.Context, dict map[string]any) {
	if r == nil {
		return
	}
	for _, p := range r.Providers() {
		populateOne(ctx, p, dict)
	}
}

// EnrichEntry populates the entry's extended properties.
func (r *Registry) EnrichEntry(ctx context.Context, entry *core.LogEntry) {
	if r == nil || entry == nil {
		return
	}
	if entry.Properties == nil {
		entry.Properties = make(map[string]any)
	}
	r.Populate(ctx, entry.Properties)
}

func populateOne(ctx context.Context, p core.InfoProvider, dict map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			dict[providerName(p)+".Error"] = FormatError(DefaultErrorTemplate, fmt.Sprint(rec))
		}
	}()
	p.PopulateDictionary(ctx, dict)
}

// providerName returns p's name, or "provider" when Name itself fails.
func providerName(p core.InfoProvider) (name string) {
	defer func() {
		if recover() != nil {
			name = "provider"
		}
	}()
	return p.Name()
}
