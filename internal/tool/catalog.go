package tool

import (
	"context"
	"sort"
	"strings"
	"sync"

	gwerrors "vita/internal/errors"
	"vita/internal/logging"
)

// entry ties a registered tool to its optional handler.
type entry struct {
	tool    *Tool
	handler Handler
}

// Catalog is the mutex-protected registry of tools, their handlers, and the
// category index. Mutations keep all three views consistent: a tool is never
// present in one and missing from another.
type Catalog struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	byCategory map[Category]map[string]struct{}
	logger     logging.Logger
}

// NewCatalog builds an empty catalog.
func NewCatalog(logger logging.Logger) *Catalog {
	return &Catalog{
		entries:    make(map[string]*entry),
		byCategory: make(map[Category]map[string]struct{}),
		logger:     logging.WithComponent(logger, "catalog"),
	}
}

// Register validates and stores a tool, optionally binding its handler.
// A nil handler is allowed: the default handler answers such calls.
// Registering an existing name overwrites the previous registration and
// logs a warning rather than failing.
func (c *Catalog) Register(t *Tool, handler Handler) error {
	if t == nil {
		return gwerrors.NewConfigurationError("tool", errNilTool)
	}
	if err := t.Validate(); err != nil {
		return gwerrors.NewConfigurationError("tool."+t.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if previous, exists := c.entries[t.Name]; exists {
		c.logger.Warn("tool %s already registered, overwriting", t.Name)
		c.dropCategoryLocked(previous.tool)
	}
	c.entries[t.Name] = &entry{tool: t, handler: handler}
	members, ok := c.byCategory[t.Category]
	if !ok {
		members = make(map[string]struct{})
		c.byCategory[t.Category] = members
	}
	members[t.Name] = struct{}{}
	return nil
}

// BindHandler attaches a handler to an already-registered tool.
func (c *Catalog) BindHandler(name string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[name]
	if !ok {
		return gwerrors.NewToolNotFound(name)
	}
	ent.handler = handler
	return nil
}

// Unregister removes the tool from the catalog, the handler map, and the
// category index in one critical section.
func (c *Catalog) Unregister(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[name]
	if !ok {
		return gwerrors.NewToolNotFound(name)
	}
	delete(c.entries, name)
	c.dropCategoryLocked(ent.tool)
	return nil
}

func (c *Catalog) dropCategoryLocked(t *Tool) {
	members, ok := c.byCategory[t.Category]
	if !ok {
		return
	}
	delete(members, t.Name)
	if len(members) == 0 {
		delete(c.byCategory, t.Category)
	}
}

// Get returns the registered tool by name.
func (c *Catalog) Get(name string) (*Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.entries[name]
	if !ok {
		return nil, gwerrors.NewToolNotFound(name)
	}
	return ent.tool, nil
}

// Resolve returns the tool together with an executable handler. Tools
// registered without a handler resolve to the default handler, so every
// catalog entry is callable.
func (c *Catalog) Resolve(name string) (*Tool, Handler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.entries[name]
	if !ok {
		return nil, nil, gwerrors.NewToolNotFound(name)
	}
	handler := ent.handler
	if handler == nil {
		handler = defaultHandler(name)
	}
	return ent.tool, handler, nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// HasHandler reports whether name is registered with a bound handler.
func (c *Catalog) HasHandler(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.entries[name]
	return ok && ent.handler != nil
}

// List returns registered tools, optionally filtered by category, sorted by
// name.
func (c *Catalog) List(category Category) []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Tool, 0, len(c.entries))
	for _, ent := range c.entries {
		if category != "" && ent.tool.Category != category {
			continue
		}
		out = append(out, ent.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search performs a case-insensitive substring match over name, description,
// and tags, sorted by name.
func (c *Catalog) Search(query string) []*Tool {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return c.List("")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Tool
	for _, ent := range c.entries {
		if matchesQuery(ent.tool, needle) {
			out = append(out, ent.tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func matchesQuery(t *Tool, needle string) bool {
	if strings.Contains(strings.ToLower(t.Name), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Description), needle) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// ActiveCategories returns categories that currently index at least one
// tool, in canonical order.
func (c *Catalog) ActiveCategories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Category
	for _, category := range Categories() {
		if len(c.byCategory[category]) > 0 {
			out = append(out, category)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// HandlerCoverage returns the fraction of registered tools with a bound
// handler, in [0, 1].
func (c *Catalog) HandlerCoverage() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return 0
	}
	var bound int
	for _, ent := range c.entries {
		if ent.handler != nil {
			bound++
		}
	}
	return float64(bound) / float64(len(c.entries))
}

// defaultHandler answers calls to catalog-only tools with a structured
// not-implemented payload instead of failing the call.
func defaultHandler(name string) Handler {
	return func(_ context.Context, _ map[string]any, _ string) (any, error) {
		return map[string]any{
			"tool":        name,
			"implemented": false,
			"message":     "no handler bound for " + name,
		}, nil
	}
}
