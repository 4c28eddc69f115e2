package mcp

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/async"
	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
)

const protocolVersion = "2024-11-05"

const callTimeout = 30 * time.Second

// ToolSchema is a tool definition announced by the gateway.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is one piece of a tool call result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is the gateway's answer to tools/call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

// Client runs the MCP handshake and request/response correlation over the
// gateway's stdio pipes.
type Client struct {
	process *Process
	ids     idGenerator
	logger  *logging.Logger

	mu          sync.RWMutex
	pending     map[any]chan *response
	initialized bool
}

func NewClient(process *Process, logger *logging.Logger) *Client {
	return &Client{
		process: process,
		logger:  logging.OrNop(logger).Component("mcp"),
		pending: make(map[any]chan *response),
	}
}

// Start launches the gateway process, starts the read loop, and performs the
// initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	if err := c.process.Start(ctx); err != nil {
		return err
	}
	async.Go(c.logger, "mcp.readLoop", c.readLoop)

	if err := c.initialize(ctx); err != nil {
		_ = c.process.Stop(5 * time.Second)
		return fmt.Errorf("mcp handshake: %w", err)
	}
	return nil
}

// Stop shuts down the gateway process.
func (c *Client) Stop() error {
	return c.process.Stop(5 * time.Second)
}

// Initialized reports whether the handshake completed.
func (c *Client) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func (c *Client) initialize(ctx context.Context) error {
	result, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "personal-agent", "version": "0.1.0"},
	})
	if err != nil {
		return err
	}
	var init initializeResult
	if err := decodeResult(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if init.ProtocolVersion != protocolVersion {
		c.logger.Warn("gateway protocol version differs",
			"client", protocolVersion, "server", init.ProtocolVersion)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	c.logger.Info("gateway initialized", "server", init.ServerInfo.Name, "version", init.ServerInfo.Version)

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "err", err)
	}
	return nil
}

// ListTools fetches the gateway's tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if !c.Initialized() {
		return nil, errors.New(errors.KindInternal, "mcp client not initialized")
	}
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := decodeResult(result, &parsed); err != nil {
		return nil, errors.Parse("parse tools/list result", err)
	}
	return parsed.Tools, nil
}

// CallTool invokes one gateway tool. The name is the gateway's own name,
// without the registry prefix.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallResult, error) {
	if !c.Initialized() {
		return nil, errors.New(errors.KindInternal, "mcp client not initialized")
	}
	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	var parsed CallResult
	if err := decodeResult(result, &parsed); err != nil {
		return nil, errors.Parse("parse tools/call result", err)
	}
	return &parsed, nil
}

// call sends one request and waits for its correlated response.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (any, error) {
	id := c.ids.next()
	data, err := marshalFramed(newRequest(id, method, params))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "encode mcp request", err)
	}

	respChan := make(chan *response, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.process.Write(data); err != nil {
		return nil, errors.Upstream("write to gateway", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, errors.Upstream(fmt.Sprintf("gateway %s failed", method), resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, errors.Wrap(errors.KindCancelled, "mcp call", ctx.Err())
	case <-time.After(callTimeout):
		return nil, errors.Upstream(fmt.Sprintf("gateway %s timed out", method), context.DeadlineExceeded)
	}
}

func (c *Client) notify(method string, params map[string]any) error {
	data, err := marshalFramed(newNotification(method, params))
	if err != nil {
		return err
	}
	return c.process.Write(data)
}

// readLoop routes newline-framed responses to waiting callers. It exits when
// the gateway's stdout closes.
func (c *Client) readLoop() {
	stdout := c.process.Stdout()
	if stdout == nil {
		return
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		resp, err := parseResponse(scanner.Bytes())
		if err != nil {
			c.logger.Warn("discarding unparseable gateway output", "err", err)
			continue
		}
		c.mu.RLock()
		ch, ok := c.pending[resp.ID]
		c.mu.RUnlock()
		if !ok {
			c.logger.Debug("no pending call for gateway response", "id", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("gateway read loop ended", "err", err)
	}
}
