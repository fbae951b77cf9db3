package mcpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/paymcp/paymcp-go/flows"
	wire "github.com/paymcp/paymcp-go/mcp"
	"github.com/paymcp/paymcp-go/session"

	paymcp "github.com/paymcp/paymcp-go"
)

// InterceptHandler wraps the streamable-HTTP MCP handler to capture
// session capabilities at initialize and filter the tools/list response
// per DYNAMIC_TOOLS' per-session tool visibility rules. Every
// other JSON-RPC method, notably tools/call, passes straight through:
// payment gating for a call itself happens inside the
// server.ToolHandlerFunc AddPayableTool installed, not here.
type InterceptHandler struct {
	next http.Handler
	srv  *Server
}

// NewInterceptHandler wraps next (typically server.NewStreamableHTTPServer's
// result) with session capture and tools/list filtering for srv.
func NewInterceptHandler(next http.Handler, srv *Server) *InterceptHandler {
	return &InterceptHandler{next: next, srv: srv}
}

func (h *InterceptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.next.ServeHTTP(w, r)
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		h.next.ServeHTTP(w, r)
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	req, err := wire.ParseRequest(bodyBytes)
	if err != nil || (req.Method != "initialize" && req.Method != "tools/list") {
		// Not a method this layer touches; still thread the session id
		// already established by a prior initialize onto the context,
		// so flows.Extra.SessionID resolves even without a
		// server.ClientSessionFromContext-capable transport.
		sessionID := r.Header.Get(wire.SessionIDHeader)
		if sessionID != "" {
			r = r.WithContext(session.WithSession(r.Context(), sessionID))
		}
		h.next.ServeHTTP(w, r)
		return
	}

	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	recorder := wire.NewResponseRecorder()
	h.next.ServeHTTP(recorder, r)

	switch req.Method {
	case "initialize":
		h.captureInitialize(recorder, req)
	case "tools/list":
		sessionID := responseSessionID(recorder, r)
		if body := filterToolsList(recorder.Body(), sessionID); body != nil {
			recorder.FlushTo(w, body)
			return
		}
	}
	recorder.FlushTo(w, recorder.Body())
}

func responseSessionID(recorder *wire.ResponseRecorder, r *http.Request) string {
	if id := recorder.Header().Get(wire.SessionIDHeader); id != "" {
		return id
	}
	return r.Header.Get(wire.SessionIDHeader)
}

func (h *InterceptHandler) captureInitialize(recorder *wire.ResponseRecorder, req wire.Request) {
	var params wire.InitializeParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	sessionID := recorder.Header().Get(wire.SessionIDHeader)
	if sessionID == "" {
		return
	}
	h.srv.captureSession(paymcp.SessionInfo{
		ClientName:   params.ClientInfo.Name,
		SessionID:    sessionID,
		Capabilities: params.Capabilities,
	})
}

// filterToolsList rewrites a tools/list response body to drop names
// flows.FilterToolNames excludes for sessionID, returning nil if the
// body could not be parsed as a tools/list response (in which case the
// caller forwards the original body unmodified).
func filterToolsList(body []byte, sessionID string) []byte {
	resp, err := wire.ParseResponse(body)
	if err != nil || resp.Result == nil {
		return nil
	}
	var result wire.ToolsListResult
	if json.Unmarshal(resp.Result, &result) != nil {
		return nil
	}

	names := make([]string, len(result.Tools))
	byName := make(map[string]json.RawMessage, len(result.Tools))
	for i, raw := range result.Tools {
		name := wire.ToolName(raw)
		names[i] = name
		byName[name] = raw
	}
	kept := flows.FilterToolNames(sessionID, names)
	filtered := make([]json.RawMessage, 0, len(kept))
	for _, name := range kept {
		filtered = append(filtered, byName[name])
	}

	resultBody, err := json.Marshal(wire.ToolsListResult{Tools: filtered})
	if err != nil {
		return nil
	}
	resp.Result = resultBody
	out, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	return out
}
