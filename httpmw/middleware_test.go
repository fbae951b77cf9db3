package httpmw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/provider/x402"
	"github.com/paymcp/paymcp-go/store"
)

type fakeTools struct {
	price    paymcp.Price
	provider paymcp.Provider
	name     string
}

func (f fakeTools) X402Tool(name string) (paymcp.Price, paymcp.Provider, bool) {
	if name != f.name {
		return paymcp.Price{}, nil, false
	}
	return f.price, f.provider, true
}

func toolCallBody(name string) string {
	return `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"` + name + `","arguments":{}}}`
}

func TestMiddlewareRespondsWith402WhenSignatureMissing(t *testing.T) {
	provider := x402.New("https://facilitator.invalid", x402.BaseSepolia, "0x1234567890123456789012345678901234567890")
	tools := fakeTools{name: "draw", price: paymcp.Price{Amount: 1, Currency: "USD"}, provider: provider}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	mw := New(Config{Tools: tools, Store: store.NewMemory()})
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(toolCallBody("draw")))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	if called {
		t.Fatalf("expected next handler not to run")
	}
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if rec.Header().Get(PaymentRequiredHeader) == "" {
		t.Errorf("expected %s header to be set", PaymentRequiredHeader)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object in body, got %v", body)
	}
	if errObj["code"].(float64) != 402 {
		t.Errorf("unexpected error code: %v", errObj["code"])
	}
}

func TestMiddlewarePassesThroughWithSignature(t *testing.T) {
	provider := x402.New("https://facilitator.invalid", x402.BaseSepolia, "0x1234567890123456789012345678901234567890")
	tools := fakeTools{name: "draw", price: paymcp.Price{Amount: 1, Currency: "USD"}, provider: provider}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	mw := New(Config{Tools: tools, Store: store.NewMemory()})
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(toolCallBody("draw")))
	req.Header.Set(SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected next handler to run when a signature header is present")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected next handler's status to survive, got %d", rec.Code)
	}
}

func TestMiddlewarePassesThroughUnpricedTools(t *testing.T) {
	tools := fakeTools{name: "draw"}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	mw := New(Config{Tools: tools, Store: store.NewMemory()})
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(toolCallBody("other_tool")))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected next handler to run for a tool the middleware does not gate")
	}
}

func TestMiddlewarePassesThroughNonToolCallMethods(t *testing.T) {
	tools := fakeTools{name: "draw"}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	mw := New(Config{Tools: tools, Store: store.NewMemory()})
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected next handler to run for non-tools/call methods")
	}
}
