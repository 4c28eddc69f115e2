package builtin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

const (
	searchMatchLimit   = 100
	searchMaxFileBytes = 1 << 20
	searchProbeBytes   = 512
)

// SearchText greps a file or directory tree for a regular expression.
type SearchText struct{}

func (SearchText) Name() string { return "search_text" }

func (SearchText) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "search_text",
		Description: "Search files under a path for lines matching a regular expression.",
		Parameters: types.ParameterSchema{
			Type: "object",
			Properties: map[string]types.Property{
				"pattern": {Type: "string", Description: "RE2 regular expression"},
				"path":    {Type: "string", Description: "File or directory to search"},
			},
			Required: []string{"pattern", "path"},
		},
		TimeoutSeconds: 30,
	}
}

func (SearchText) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	pattern, _ := args["pattern"].(string)
	root, _ := args["path"].(string)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return failure("search_text", fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if matches >= searchMatchLimit {
			return fs.SkipAll
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > searchMaxFileBytes {
			return nil
		}
		matches += searchFile(&b, re, path, searchMatchLimit-matches)
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return failure("search_text", "search cancelled"), nil
	}

	if matches == 0 {
		b.WriteString("no matches\n")
	}
	return &types.ToolResult{
		ToolName: "search_text",
		Success:  true,
		Output:   b.String(),
		Metadata: map[string]any{"matches": matches},
	}, nil
}

// searchFile appends up to limit matching lines and returns how many it found.
// Files that look binary in the first bytes are skipped.
func searchFile(b *strings.Builder, re *regexp.Regexp, path string, limit int) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	probe := make([]byte, searchProbeBytes)
	n, _ := f.Read(probe)
	if bytes.IndexByte(probe[:n], 0) >= 0 {
		return 0
	}
	if _, err := f.Seek(0, 0); err != nil {
		return 0
	}

	found := 0
	lineNo := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		lineNo++
		if re.Match(scanner.Bytes()) {
			fmt.Fprintf(b, "%s:%d: %s\n", path, lineNo, scanner.Text())
			found++
			if found >= limit {
				break
			}
		}
	}
	return found
}
