package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/warden/internal/host"
)

// Registry errors.
var (
	// ErrToolNameEmpty is returned when registering a tool with no name.
	ErrToolNameEmpty = errors.New("tools: tool name is empty")

	// ErrToolAlreadyRegistered is returned for duplicate registrations.
	ErrToolAlreadyRegistered = errors.New("tools: tool already registered")

	// ErrToolNotFound is returned when a tool name is not registered.
	ErrToolNotFound = errors.New("tools: tool not found")
)

// Registry holds the tools currently offered to the assistant.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique and non-empty.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return ErrToolNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return false
	}
	delete(r.tools, name)
	return true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Refresh rebuilds the plugin-backed tools from the host's current plugin
// set. Tools for unloaded plugins disappear; tools registered directly with
// Register are untouched. Disabled plugins keep their tools; invoking one
// fails with a clear error instead of vanishing mid-conversation.
func (r *Registry) Refresh(h *host.Host) {
	plugins := h.List()

	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.tools {
		if strings.HasPrefix(name, "plugin:") {
			delete(r.tools, name)
		}
	}
	for _, p := range plugins {
		for _, cap := range p.Manifest.Capabilities {
			tool := &pluginTool{
				executor:   h,
				pluginID:   p.Manifest.ID,
				capability: cap,
				risk:       riskOf(p.Manifest.RiskLevel),
			}
			r.tools[tool.Name()] = tool
		}
	}
}
