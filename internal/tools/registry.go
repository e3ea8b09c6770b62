// Package tools executes catalog tools for the turn loop: argument
// validation, idempotency, retry, and result sanitization. Tool failures
// never leave this package as Go errors; everything maps onto the
// ToolResult contract.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/convoflow/convoflow/pkg/models"
)

// CallMeta identifies the turn a tool call belongs to.
type CallMeta struct {
	BusinessID string
	Channel    models.Channel
	SessionID  string
	MessageID  string
	Language   models.Language
	Slots      map[string]string
}

// Handler executes one tool. Implementations map their own failures onto
// outcomes; a returned error is treated as transient infrastructure failure
// and retried once.
type Handler func(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error)

type registered struct {
	entry   models.CatalogEntry
	handler Handler
	schema  *jsonschema.Schema
}

// Registry holds the tool catalog and handlers. Registration happens at
// startup; turn-time access is read-only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registered)}
}

// Register adds a tool. The parameter schema, when present, is compiled for
// argument validation.
func (r *Registry) Register(entry models.CatalogEntry, handler Handler) error {
	if entry.Name == "" {
		return fmt.Errorf("tools: entry without a name")
	}
	if handler == nil {
		return fmt.Errorf("tools: %s registered without a handler", entry.Name)
	}

	var schema *jsonschema.Schema
	if len(entry.ParameterSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(entry.Name+".json", bytesReader(entry.ParameterSchema)); err != nil {
			return fmt.Errorf("tools: bad schema for %s: %w", entry.Name, err)
		}
		compiled, err := compiler.Compile(entry.Name + ".json")
		if err != nil {
			return fmt.Errorf("tools: bad schema for %s: %w", entry.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Name]; exists {
		return fmt.Errorf("tools: %s already registered", entry.Name)
	}
	r.entries[entry.Name] = registered{entry: entry, handler: handler, schema: schema}
	return nil
}

// Catalog returns all registered entries, sorted by name.
func (r *Registry) Catalog() []models.CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.CatalogEntry, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the entry for a tool name.
func (r *Registry) Lookup(name string) (models.CatalogEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg.entry, ok
}

func (r *Registry) get(name string) (registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}
