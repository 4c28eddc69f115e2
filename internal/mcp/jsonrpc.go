// Package mcp speaks the Model Context Protocol to an external tool gateway
// over stdio JSON-RPC. The gateway is optional; when it is absent or dies the
// service keeps running with builtins only.
package mcp

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

const jsonrpcVersion = "2.0"

type request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

type notification struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type idGenerator struct {
	counter atomic.Int64
}

func (g *idGenerator) next() string {
	return fmt.Sprintf("%d", g.counter.Add(1))
}

func newRequest(id any, method string, params map[string]any) *request {
	return &request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
}

func newNotification(method string, params map[string]any) *notification {
	return &notification{JSONRPC: jsonrpcVersion, Method: method, Params: params}
}

// marshalFramed encodes a message with the newline delimiter the stdio
// transport requires.
func marshalFramed(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func parseResponse(data []byte) (*response, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse jsonrpc response: %w", err)
	}
	if resp.JSONRPC != jsonrpcVersion {
		return nil, fmt.Errorf("unexpected jsonrpc version %q", resp.JSONRPC)
	}
	return &resp, nil
}

// decodeResult round-trips the untyped result field into a concrete struct.
func decodeResult(result any, target any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
