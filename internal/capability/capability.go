// Package capability defines the assistant's callable capabilities and
// the registry that owns them. A capability is a named unit of work with
// a parameter schema the model can read and a handler the dispatcher
// invokes. Capabilities are grouped into domains so a conversation can
// be scoped to infrastructure, personal, or general tooling.
package capability

import (
	"context"
	"log/slog"
	"sync"
)

// Capability domains.
const (
	// DomainInfra groups homelab and infrastructure capabilities.
	DomainInfra = "infra"
	// DomainPersonal groups calendar, contacts, and email capabilities.
	DomainPersonal = "personal"
	// DomainGeneral groups always-available capabilities (time, weather,
	// web research). General is unioned into every conversation.
	DomainGeneral = "general"
)

// Param describes one parameter of a capability. Params are ordered;
// schema generation preserves declaration order.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
	Default     any
}

// Handler executes a capability with already-decoded arguments. The
// returned value is the structured result payload; an error marks the
// invocation failed without terminating the conversation turn.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Capability is a single named unit of work. Constructed once at startup
// and immutable thereafter.
type Capability struct {
	Name        string
	Description string
	Domain      string
	Params      []Param
	// Confirm marks capabilities with real-world side effects that
	// conceptually warrant human confirmation. Advisory only.
	Confirm bool
	Handler Handler `json:"-"`
}

// InputSchema builds the JSON-schema object describing this
// capability's parameters, in declaration order.
func (c *Capability) InputSchema() map[string]any {
	props := make(map[string]any, len(c.Params))
	var required []string
	for _, p := range c.Params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Registry owns the set of capabilities, indexed by name and by domain.
// Construct with NewRegistry and inject it; there is no package-level
// instance.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	byName  map[string]*Capability
	domains map[string][]string // registration order per domain
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "capability"),
		byName:  make(map[string]*Capability),
		domains: make(map[string][]string),
	}
}

// Register inserts a capability, overwriting any previous registration
// with the same name. Overwrites log a warning; registration never
// fails.
func (r *Registry) Register(c *Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byName[c.Name]; ok {
		r.logger.Warn("capability overwritten",
			"name", c.Name,
			"old_domain", prev.Domain,
			"new_domain", c.Domain,
		)
		r.removeFromDomain(prev.Domain, c.Name)
	}
	r.byName[c.Name] = c
	r.domains[c.Domain] = append(r.domains[c.Domain], c.Name)
	r.logger.Debug("capability registered", "name", c.Name, "domain", c.Domain)
}

// removeFromDomain drops name from a domain's order index. Caller holds
// the lock.
func (r *Registry) removeFromDomain(domain, name string) {
	list := r.domains[domain]
	for i, n := range list {
		if n == name {
			r.domains[domain] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Get retrieves a capability by name.
func (r *Registry) Get(name string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// ListByDomain returns the capabilities registered under domain, in
// registration order. Unknown domains yield an empty list.
func (r *Registry) ListByDomain(domain string) []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.domains[domain]
	out := make([]*Capability, 0, len(names))
	for _, n := range names {
		out = append(out, r.byName[n])
	}
	return out
}

// All returns every registered capability grouped by domain, each group
// in registration order.
func (r *Registry) All() map[string][]*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]*Capability, len(r.domains))
	for domain, names := range r.domains {
		list := make([]*Capability, 0, len(names))
		for _, n := range names {
			list = append(list, r.byName[n])
		}
		out[domain] = list
	}
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Schema is the model-facing descriptor for one capability.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// SchemasFor builds model-facing schema descriptors for the given
// domains, deduplicated, preserving registration order within each
// domain. A domain with no capabilities contributes nothing.
func (r *Registry) SchemasFor(domains ...string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Schema
	for _, domain := range domains {
		for _, name := range r.domains[domain] {
			if seen[name] {
				continue
			}
			seen[name] = true
			c := r.byName[name]
			out = append(out, Schema{
				Name:        c.Name,
				Description: c.Description,
				InputSchema: c.InputSchema(),
			})
		}
	}
	return out
}
