package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway writes a shell script that answers the MCP handshake and tool
// calls with canned responses.
func fakeGateway(t *testing.T) string {
	t.Helper()
	script := `#!/bin/bash
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      echo '{"jsonrpc":"2.0","id":"1","result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake-gateway","version":"0.1"}}}' ;;
    *'"method":"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":"2","result":{"tools":[{"name":"fetch_url","description":"Fetch a URL","inputSchema":{"type":"object","properties":{"url":{"type":"string","description":"target"}},"required":["url"]}}]}}' ;;
    *'"method":"tools/call"'*)
      echo '{"jsonrpc":"2.0","id":"3","result":{"content":[{"type":"text","text":"page body"}]}}' ;;
  esac
done
`
	path := filepath.Join(t.TempDir(), "gateway.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestClientHandshakeListAndCall(t *testing.T) {
	proc := NewProcess(ProcessConfig{Command: fakeGateway(t)}, nil)
	client := NewClient(proc, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))
	defer func() { _ = client.Stop() }()
	assert.True(t, client.Initialized())

	schemas, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "fetch_url", schemas[0].Name)

	result, err := client.CallTool(ctx, "fetch_url", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "page body", flattenContent(result.Content))
}

func TestClientRejectsCallsBeforeHandshake(t *testing.T) {
	client := NewClient(NewProcess(ProcessConfig{Command: "true"}, nil), nil)
	_, err := client.ListTools(context.Background())
	assert.ErrorContains(t, err, "not initialized")
}

func TestProcessStartStop(t *testing.T) {
	proc := NewProcess(ProcessConfig{Command: "cat"}, nil)
	require.NoError(t, proc.Start(context.Background()))
	assert.True(t, proc.Running())

	// Double start is rejected while running.
	assert.Error(t, proc.Start(context.Background()))

	require.NoError(t, proc.Write([]byte("ping\n")))
	require.NoError(t, proc.Stop(2*time.Second))
	assert.False(t, proc.Running())

	// Stop is idempotent.
	require.NoError(t, proc.Stop(time.Second))
	assert.Error(t, proc.Write([]byte("x")))
}

func TestProcessMissingCommand(t *testing.T) {
	proc := NewProcess(ProcessConfig{Command: "no-such-binary-here"}, nil)
	assert.ErrorContains(t, proc.Start(context.Background()), "not found")

	proc = NewProcess(ProcessConfig{Command: "   "}, nil)
	assert.ErrorContains(t, proc.Start(context.Background()), "empty")
}

func TestProcessExitNotification(t *testing.T) {
	proc := NewProcess(ProcessConfig{Command: "true"}, nil)
	require.NoError(t, proc.Start(context.Background()))

	select {
	case <-proc.ExitChannel():
	case <-time.After(5 * time.Second):
		t.Fatal("no exit notification")
	}
	assert.False(t, proc.Running())
}
