package schema

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrInvalid       = errors.New("schema_invalid")
	ErrUnknownSchema = errors.New("schema_unknown")
)

//go:embed requests/*.json
var requestFS embed.FS

// Registry holds compiled schemas keyed by id.
type Registry struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{compiled: make(map[string]*jsonschema.Schema)}
}

// Requests returns a registry preloaded with the plugin request schemas,
// one per method name.
func Requests() (*Registry, error) {
	reg := NewRegistry()
	entries, err := requestFS.ReadDir("requests")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := requestFS.ReadFile(path.Join("requests", entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := reg.Register(strings.TrimSuffix(entry.Name(), ".json"), raw); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
	}
	return reg, nil
}

// Register compiles and stores a schema by id, replacing any previous one.
func (r *Registry) Register(id string, schema []byte) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("schema id required")
	}
	compiled, err := Compile(id, schema)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.compiled[id] = compiled
	r.mu.Unlock()
	return nil
}

// Has reports whether a schema is registered under id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.compiled[id]
	return ok
}

// IDs lists registered schema ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.compiled))
	for id := range r.compiled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate checks value against the schema registered under id.
func (r *Registry) Validate(id string, value any) error {
	if r == nil {
		return ErrUnknownSchema
	}
	r.mu.RLock()
	compiled, ok := r.compiled[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, id)
	}
	return validateCompiled(compiled, value)
}
