package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"

	"github.com/jacentio/kvmodel/internal/keys"
)

// Registry holds the models sharing one store namespace.
// Prefixes are unique within a registry.
type Registry struct {
	mu       sync.RWMutex
	models   []*Model
	byPrefix map[string]*Model
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		models:   []*Model{},
		byPrefix: make(map[string]*Model),
	}
}

// Register adds m to the registry.
func (r *Registry) Register(m *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if other, ok := r.byPrefix[m.Prefix()]; ok {
		return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicatePrefix, m.Prefix(), other.Name(), m.Name())
	}
	r.models = append(r.models, m)
	r.byPrefix[m.Prefix()] = m
	return nil
}

// MustRegister is like Register but panics on a duplicate prefix.
func (r *Registry) MustRegister(models ...*Model) {
	for _, m := range models {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Model returns the model registered under name. Both the type name
// ("BlogPost") and its snake case form ("blog_post") are accepted.
func (r *Registry) Model(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.byPrefix[strcase.ToSnake(name)+keys.Separator]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

// ModelForKey returns the model whose record key is key, and the record id.
func (r *Registry) ModelForKey(key string) (*Model, string, bool) {
	prefix, _, found := strings.Cut(key, keys.Separator)
	if !found {
		return nil, "", false
	}

	r.mu.RLock()
	m, ok := r.byPrefix[prefix+keys.Separator]
	r.mu.RUnlock()
	if !ok {
		return nil, "", false
	}

	id, ok := keys.IDFromKey(m.Prefix(), key)
	if !ok {
		return nil, "", false
	}
	return m, id, true
}

// Models returns every registered model in registration order.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Model(nil), r.models...)
}
