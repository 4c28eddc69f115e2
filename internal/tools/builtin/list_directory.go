package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

const listLimit = 500

// ListDirectory enumerates a directory, one entry per line.
type ListDirectory struct{}

func (ListDirectory) Name() string { return "list_directory" }

func (ListDirectory) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "list_directory",
		Description: "List the entries of a directory with type and size.",
		Parameters: types.ParameterSchema{
			Type: "object",
			Properties: map[string]types.Property{
				"path": {Type: "string", Description: "Absolute path of the directory"},
			},
			Required: []string{"path"},
		},
		TimeoutSeconds: 10,
	}
}

func (ListDirectory) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	path, _ := args["path"].(string)

	entries, err := os.ReadDir(path)
	if err != nil {
		return failure("list_directory", fmt.Sprintf("read directory %s: %v", path, err)), nil
	}

	var b strings.Builder
	count := 0
	for _, e := range entries {
		if count >= listLimit {
			fmt.Fprintf(&b, "... and %d more entries\n", len(entries)-count)
			break
		}
		kind := "file"
		size := int64(0)
		if e.IsDir() {
			kind = "dir"
		} else if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(&b, "%-4s %10d  %s\n", kind, size, e.Name())
		count++
	}
	return &types.ToolResult{
		ToolName: "list_directory",
		Success:  true,
		Output:   b.String(),
		Metadata: map[string]any{"entries": len(entries)},
	}, nil
}
