// Package mcp supplies the thin JSON-RPC-over-HTTP envelope helpers
// mcpserver's session/tools-list interception builds on: structs for
// the two methods paymcp cares about at the HTTP boundary (initialize,
// tools/list) and a response recorder modeled on the teacher's x402 HTTP
// handler's response-capture pattern. Every other method, including
// tools/call, passes through mcpserver's interception untouched — tool
// payment gating happens in the tool handlers mcpserver's
// AddPayableTool installs, not here.
package mcp

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Request is the subset of a JSON-RPC request envelope this package
// inspects.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

// Response is the subset of a JSON-RPC response envelope this package
// inspects and, for tools/list, rewrites.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   any             `json:"error,omitempty"`
	ID      any             `json:"id"`
}

// ParseRequest decodes body as a JSON-RPC request envelope.
func ParseRequest(body []byte) (Request, error) {
	var req Request
	err := json.Unmarshal(body, &req)
	return req, err
}

// ParseResponse decodes body as a JSON-RPC response envelope.
func ParseResponse(body []byte) (Response, error) {
	var resp Response
	err := json.Unmarshal(body, &resp)
	return resp, err
}

// InitializeParams is the subset of an initialize request's params this
// package captures into a SessionInfo.
type InitializeParams struct {
	ClientInfo struct {
		Name string `json:"name"`
	} `json:"clientInfo"`
	Capabilities map[string]any `json:"capabilities"`
}

// SessionIDHeader is the header mark3labs/mcp-go's streamable-HTTP
// transport assigns a session id under, both on the initialize response
// and on every subsequent request belonging to that session.
const SessionIDHeader = "Mcp-Session-Id"

// ToolsListResult is the subset of a tools/list result this package
// filters: each element's name is checked against flows.FilterToolNames
// before the response reaches the client.
type ToolsListResult struct {
	Tools []json.RawMessage `json:"tools"`
}

// ToolName extracts the "name" field from a raw tool descriptor without
// needing its full shape.
func ToolName(raw json.RawMessage) string {
	var t struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &t) != nil {
		return ""
	}
	return t.Name
}

// ResponseRecorder buffers a downstream http.Handler's response so its
// body can be rewritten before reaching the real client, mirroring the
// teacher's x402 HTTP handler's response-capture pattern.
type ResponseRecorder struct {
	header     http.Header
	body       bytes.Buffer
	StatusCode int
}

// NewResponseRecorder returns a ResponseRecorder defaulting to 200 OK,
// the JSON-RPC convention even for error responses.
func NewResponseRecorder() *ResponseRecorder {
	return &ResponseRecorder{header: make(http.Header), StatusCode: http.StatusOK}
}

func (r *ResponseRecorder) Header() http.Header { return r.header }

func (r *ResponseRecorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *ResponseRecorder) WriteHeader(statusCode int) { r.StatusCode = statusCode }

// Body returns the buffered response body.
func (r *ResponseRecorder) Body() []byte { return r.body.Bytes() }

// FlushTo copies the recorded headers and statusCode to w and writes
// body (which may differ from Body(), if the caller rewrote it).
func (r *ResponseRecorder) FlushTo(w http.ResponseWriter, body []byte) {
	dst := w.Header()
	for k, v := range r.header {
		dst[k] = v
	}
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(body)
}
