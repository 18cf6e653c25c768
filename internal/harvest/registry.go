package harvest

import (
	"fmt"
	"strings"
	"sync"

	"mediaharvest/internal/models"
)

// Factory produces a fresh Harvester for one run. Harvesters carry no state
// between runs, so a new instance per run keeps adapters trivially
// concurrency-safe.
type Factory func() Harvester

// Descriptor names an adapter and the source metadata the core needs to
// route it: which pipeline it belongs to, where it lives, and whether it
// consumes a pooled credential.
type Descriptor struct {
	Name        string             `json:"name"`
	Kind        models.ContentKind `json:"kind"`
	Platform    string             `json:"platform"`
	BaseURL     string             `json:"baseUrl,omitempty"`
	Credibility string             `json:"credibility,omitempty"`
	RequiresKey bool               `json:"requiresKey"`
	New         Factory            `json:"-"`
}

// Registry maps source names to adapter descriptors. Registration happens at
// startup; lookups afterwards are read-mostly, so an RWMutex is enough.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
	order   []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Descriptor)}
}

// Register adds a descriptor. Names are trimmed and must be unique; the
// factory must be non-nil.
func (r *Registry) Register(desc Descriptor) error {
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return fmt.Errorf("source name is required")
	}
	if desc.New == nil {
		return fmt.Errorf("source %q: factory is required", name)
	}
	if desc.Kind != models.KindArticle && desc.Kind != models.KindVideo {
		return fmt.Errorf("source %q: unsupported content kind %q", name, desc.Kind)
	}
	desc.Name = name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.entries[name] = desc
	r.order = append(r.order, name)
	return nil
}

// Lookup resolves a descriptor by name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.entries[strings.TrimSpace(name)]
	if !ok {
		return Descriptor{}, &Error{Kind: KindUnknownSource, Source: name, Err: ErrUnknownSource}
	}
	return desc, nil
}

// Names returns every registered source name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ByKind returns the descriptors for one pipeline in registration order.
func (r *Registry) ByKind(kind models.ContentKind) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		if desc := r.entries[name]; desc.Kind == kind {
			out = append(out, desc)
		}
	}
	return out
}

// Descriptors returns every registered descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Len reports how many adapters are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
