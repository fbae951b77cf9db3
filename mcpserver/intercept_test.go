package mcpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	wire "github.com/paymcp/paymcp-go/mcp"
	"github.com/paymcp/paymcp-go/session"
)

func TestInterceptHandlerPassesThroughToolsCall(t *testing.T) {
	var gotMethod string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	})

	srv := New("test", "0.0.1")
	h := NewInterceptHandler(next, srv)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotMethod != http.MethodPost {
		t.Fatalf("expected next handler to run for tools/call")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the downstream status to survive, got %d", rec.Code)
	}
}

func TestInterceptHandlerCapturesInitializeSession(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(wire.SessionIDHeader, "sess-123")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	})

	srv := New("test", "0.0.1")
	h := NewInterceptHandler(next, srv)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"test-client"},"capabilities":{"elicitation":true}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	info, ok := srv.lookupSession("sess-123")
	if !ok {
		t.Fatalf("expected session sess-123 to be captured")
	}
	if info.ClientName != "test-client" {
		t.Errorf("unexpected client name: %q", info.ClientName)
	}
	if !info.AdvertisesCapability("elicitation") {
		t.Errorf("expected elicitation capability to be captured")
	}
	if rec.Header().Get(wire.SessionIDHeader) != "sess-123" {
		t.Errorf("expected the session id header to reach the real client")
	}
}

func TestInterceptHandlerFiltersToolsList(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"echo"},{"name":"draw"}]}}`))
	})

	srv := New("test", "0.0.1")
	h := NewInterceptHandler(next, srv)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "echo") || !strings.Contains(rec.Body.String(), "draw") {
		t.Errorf("expected both tools to survive filtering with no hidden state, got %s", rec.Body.String())
	}
}

func TestInterceptHandlerThreadsSessionIDOntoContext(t *testing.T) {
	var gotSessionID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = session.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	srv := New("test", "0.0.1")
	h := NewInterceptHandler(next, srv)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`))
	req.Header.Set(wire.SessionIDHeader, "sess-456")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotSessionID != "sess-456" {
		t.Errorf("expected session id sess-456 on the request context, got %q", gotSessionID)
	}
}
