package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/tools"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Gateway connects the MCP client to the tool registry: it discovers the
// gateway's tools, ensures each has a governance policy, and registers them
// under the mcp_ prefix. A failed gateway never blocks startup.
type Gateway struct {
	client   *Client
	registry *tools.Registry
	store    *governance.Store
	logger   *logging.Logger
}

func NewGateway(client *Client, registry *tools.Registry, store *governance.Store, logger *logging.Logger) *Gateway {
	return &Gateway{
		client:   client,
		registry: registry,
		store:    store,
		logger:   logging.OrNop(logger).Component("mcp"),
	}
}

// Connect starts the gateway and registers its tools. Errors are returned
// for logging but the caller is expected to continue without the gateway.
func (g *Gateway) Connect(ctx context.Context) error {
	if err := g.client.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	return g.RefreshTools(ctx)
}

// RefreshTools re-reads the gateway catalogue, replacing the previous MCP
// tool set.
func (g *Gateway) RefreshTools(ctx context.Context) error {
	schemas, err := g.client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list gateway tools: %w", err)
	}

	g.registry.ClearMCP()
	registered := 0
	for _, schema := range schemas {
		adapted := &gatewayTool{
			client:     g.client,
			remoteName: schema.Name,
			definition: adaptDefinition(schema),
		}
		risk := governance.InferRisk(schema.Name, schema.Description)
		g.store.EnsureToolConfigured(adapted.Name(), schema.Description, risk)
		if err := g.registry.RegisterMCP(adapted); err != nil {
			g.logger.Warn("skipping gateway tool", "tool", schema.Name, "err", err)
			continue
		}
		registered++
	}
	g.logger.Info("gateway tools registered", "count", registered, "announced", len(schemas))
	return nil
}

// Close stops the gateway process and drops its tools.
func (g *Gateway) Close() error {
	g.registry.ClearMCP()
	return g.client.Stop()
}

// gatewayTool adapts one announced schema to the registry's Tool interface.
type gatewayTool struct {
	client     *Client
	remoteName string
	definition types.ToolDefinition
}

func (t *gatewayTool) Name() string                     { return t.definition.Name }
func (t *gatewayTool) Definition() types.ToolDefinition { return t.definition }

func (t *gatewayTool) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	result, err := t.client.CallTool(ctx, t.remoteName, args)
	if err != nil {
		return nil, err
	}
	output := flattenContent(result.Content)
	if result.IsError {
		return &types.ToolResult{ToolName: t.definition.Name, Success: false, Error: output}, nil
	}
	return &types.ToolResult{ToolName: t.definition.Name, Success: true, Output: output}, nil
}

// adaptDefinition converts the gateway's JSON Schema into the internal tool
// definition, prefixing the name.
func adaptDefinition(schema ToolSchema) types.ToolDefinition {
	def := types.ToolDefinition{
		Name:           tools.MCPPrefix + schema.Name,
		Description:    schema.Description,
		TimeoutSeconds: 60,
		Parameters: types.ParameterSchema{
			Type:       "object",
			Properties: map[string]types.Property{},
		},
	}
	if props, ok := schema.InputSchema["properties"].(map[string]any); ok {
		for name, raw := range props {
			prop := types.Property{Type: "string"}
			if m, ok := raw.(map[string]any); ok {
				if t, ok := m["type"].(string); ok {
					prop.Type = t
				}
				if d, ok := m["description"].(string); ok {
					prop.Description = d
				}
			}
			def.Parameters.Properties[name] = prop
		}
	}
	if required, ok := schema.InputSchema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				def.Parameters.Required = append(def.Parameters.Required, s)
			}
		}
	}
	return def
}

func flattenContent(blocks []ContentBlock) string {
	var parts []string
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ParseCommand accepts the gateway command either as a JSON array
// (["npx","-y","server"]) or as a whitespace-separated string.
func ParseCommand(raw string) (string, []string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil, fmt.Errorf("gateway command is empty")
	}
	if strings.HasPrefix(trimmed, "[") {
		var parts []string
		if err := json.Unmarshal([]byte(trimmed), &parts); err != nil {
			return "", nil, fmt.Errorf("parse gateway command array: %w", err)
		}
		if len(parts) == 0 {
			return "", nil, fmt.Errorf("gateway command array is empty")
		}
		return parts[0], parts[1:], nil
	}
	fields := strings.Fields(trimmed)
	return fields[0], fields[1:], nil
}
