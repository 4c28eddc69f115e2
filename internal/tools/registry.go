// Package tools holds the tool registry and the governed execution pipeline.
// Builtins register at startup; MCP-discovered tools join at runtime under
// the mcp_ name prefix.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// MCPPrefix marks dynamically discovered tool names.
const MCPPrefix = "mcp_"

// Tool is an executable capability.
type Tool interface {
	Name() string
	Definition() types.ToolDefinition
	Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error)
}

type tier int

const (
	tierBuiltin tier = iota
	tierDynamic
	tierMCP
)

type entry struct {
	tool Tool
	tier tier
}

// Registry maps tool names to implementations across three tiers. Lookup
// order is builtin, dynamic, MCP; a name lives in exactly one tier.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a builtin tool. Definitions must carry a positive timeout.
func (r *Registry) Register(tool Tool) error {
	return r.register(tool, tierBuiltin)
}

// RegisterDynamic adds a runtime-constructed tool.
func (r *Registry) RegisterDynamic(tool Tool) error {
	return r.register(tool, tierDynamic)
}

// RegisterMCP adds a gateway-discovered tool. The name must carry MCPPrefix.
func (r *Registry) RegisterMCP(tool Tool) error {
	if !strings.HasPrefix(tool.Name(), MCPPrefix) {
		return fmt.Errorf("mcp tool %q missing %q prefix", tool.Name(), MCPPrefix)
	}
	return r.register(tool, tierMCP)
}

func (r *Registry) register(tool Tool, t tier) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	def := tool.Definition()
	if def.TimeoutSeconds <= 0 {
		return fmt.Errorf("tool %s: definition must declare a positive timeout", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.entries[name] = entry{tool: tool, tier: t}
	return nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// ClearMCP drops every gateway tool, used when the gateway restarts and
// re-announces its tool set.
func (r *Registry) ClearMCP() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		if e.tier == tierMCP {
			delete(r.entries, name)
		}
	}
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListForMode returns the definitions of tools permitted in the given mode.
// Tools with no governance policy are omitted entirely.
func (r *Registry) ListForMode(store *governance.Store, mode types.Mode) []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.entries))
	for name, e := range r.entries {
		policy, ok := store.ToolPolicyFor(name)
		if !ok || !policy.AllowedIn(mode) {
			continue
		}
		defs = append(defs, e.tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
