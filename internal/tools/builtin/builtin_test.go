package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub000/internal/sensors"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	result, err := ReadFile{}.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello world", result.Output)

	result, err = ReadFile{}.Execute(context.Background(), map[string]any{"path": path, "max_bytes": 5.0})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, true, result.Metadata["truncated"])

	result, err = ReadFile{}.Execute(context.Background(), map[string]any{"path": filepath.Join(dir, "missing")})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "open")
}

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep", "nested", "out.txt")

	result, err := WriteFile{}.Execute(context.Background(), map[string]any{
		"path": path, "content": "data",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	result, err := ListDirectory{}.Execute(context.Background(), map[string]any{"path": dir})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "a.txt")
	assert.Contains(t, result.Output, "sub")
	assert.Equal(t, 2, result.Metadata["entries"])
}

func TestSearchText(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n// FIXME later\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin.dat"), append([]byte{0, 1, 2}, []byte("FIXME")...), 0o644))

	result, err := SearchText{}.Execute(context.Background(), map[string]any{
		"pattern": "FIXME", "path": dir,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Metadata["matches"], "binary file must be skipped")
	assert.Contains(t, result.Output, "a.go:2:")

	result, err = SearchText{}.Execute(context.Background(), map[string]any{
		"pattern": "NOPE", "path": dir,
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(result.Output, "no matches"))

	result, err = SearchText{}.Execute(context.Background(), map[string]any{
		"pattern": "([", "path": dir,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

type fixedProvider struct {
	snap sensors.Snapshot
	ok   bool
}

func (p fixedProvider) Latest() (sensors.Snapshot, bool) { return p.snap, p.ok }

func TestSystemMetrics(t *testing.T) {
	tool := SystemMetrics{Provider: fixedProvider{snap: sensors.Snapshot{CPUPercent: 42.5}, ok: true}}
	result, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "42.5")
	assert.Equal(t, 42.5, result.Metadata["cpu_percent"])

	empty := SystemMetrics{Provider: fixedProvider{}}
	result, err = empty.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}
