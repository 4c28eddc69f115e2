// Package builtin holds the tools compiled into the binary. Every builtin
// declares its schema and enforces its own output limits; governance path
// rules are applied upstream by the executor.
package builtin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

const defaultReadLimit = 256 * 1024

// ReadFile returns file contents, truncated at a byte limit.
type ReadFile struct{}

func (ReadFile) Name() string { return "read_file" }

func (ReadFile) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "read_file",
		Description: "Read the contents of a file on the local filesystem.",
		Parameters: types.ParameterSchema{
			Type: "object",
			Properties: map[string]types.Property{
				"path":      {Type: "string", Description: "Absolute path of the file to read"},
				"max_bytes": {Type: "integer", Description: "Byte limit, default 262144"},
			},
			Required: []string{"path"},
		},
		TimeoutSeconds: 10,
	}
}

func (ReadFile) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	path, _ := args["path"].(string)
	limit := intArg(args, "max_bytes", defaultReadLimit)

	f, err := os.Open(path)
	if err != nil {
		return failure("read_file", fmt.Sprintf("open %s: %v", path, err)), nil
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return failure("read_file", fmt.Sprintf("read %s: %v", path, err)), nil
	}
	truncated := false
	if len(data) > limit {
		data = data[:limit]
		truncated = true
	}
	return &types.ToolResult{
		ToolName: "read_file",
		Success:  true,
		Output:   string(data),
		Metadata: map[string]any{"bytes": len(data), "truncated": truncated},
	}, nil
}

func failure(tool, msg string) *types.ToolResult {
	return &types.ToolResult{ToolName: tool, Success: false, Error: msg}
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return fallback
}
