package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// WriteFile creates or replaces a file. Parent directories are created as
// needed.
type WriteFile struct{}

func (WriteFile) Name() string { return "write_file" }

func (WriteFile) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file, replacing any existing content.",
		Parameters: types.ParameterSchema{
			Type: "object",
			Properties: map[string]types.Property{
				"path":    {Type: "string", Description: "Absolute path of the file to write"},
				"content": {Type: "string", Description: "Full file content"},
			},
			Required: []string{"path", "content"},
		},
		TimeoutSeconds: 10,
	}
}

func (WriteFile) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure("write_file", fmt.Sprintf("create parent directory: %v", err)), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return failure("write_file", fmt.Sprintf("write %s: %v", path, err)), nil
	}
	return &types.ToolResult{
		ToolName: "write_file",
		Success:  true,
		Output:   fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Metadata: map[string]any{"bytes": len(content)},
	}, nil
}
