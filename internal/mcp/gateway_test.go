package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cmd, args, err := ParseCommand(`["npx", "-y", "@example/mcp-server"]`)
	require.NoError(t, err)
	assert.Equal(t, "npx", cmd)
	assert.Equal(t, []string{"-y", "@example/mcp-server"}, args)

	cmd, args, err = ParseCommand("python3 -m gateway --port 0")
	require.NoError(t, err)
	assert.Equal(t, "python3", cmd)
	assert.Equal(t, []string{"-m", "gateway", "--port", "0"}, args)

	cmd, args, err = ParseCommand("serve")
	require.NoError(t, err)
	assert.Equal(t, "serve", cmd)
	assert.Empty(t, args)

	_, _, err = ParseCommand("  ")
	assert.Error(t, err)

	_, _, err = ParseCommand("[not json")
	assert.Error(t, err)

	_, _, err = ParseCommand("[]")
	assert.Error(t, err)
}

func TestAdaptDefinition(t *testing.T) {
	def := adaptDefinition(ToolSchema{
		Name:        "fetch_url",
		Description: "Fetch a URL",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":     map[string]any{"type": "string", "description": "target"},
				"retries": map[string]any{"type": "integer"},
			},
			"required": []any{"url"},
		},
	})

	assert.Equal(t, "mcp_fetch_url", def.Name)
	assert.Equal(t, 60, def.TimeoutSeconds)
	assert.Equal(t, "string", def.Parameters.Properties["url"].Type)
	assert.Equal(t, "target", def.Parameters.Properties["url"].Description)
	assert.Equal(t, "integer", def.Parameters.Properties["retries"].Type)
	assert.Equal(t, []string{"url"}, def.Parameters.Required)
}

func TestAdaptDefinitionEmptySchema(t *testing.T) {
	def := adaptDefinition(ToolSchema{Name: "noop", Description: "does nothing"})
	assert.Equal(t, "mcp_noop", def.Name)
	assert.Empty(t, def.Parameters.Properties)
	assert.Empty(t, def.Parameters.Required)
}

func TestFlattenContent(t *testing.T) {
	out := flattenContent([]ContentBlock{
		{Type: "text", Text: "first"},
		{Type: "image", Data: "base64"},
		{Type: "text", Text: "second"},
	})
	assert.Equal(t, "first\nsecond", out)
	assert.Equal(t, "", flattenContent(nil))
}
