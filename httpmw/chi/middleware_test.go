package chi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chirouter "github.com/go-chi/chi/v5"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/httpmw"
	"github.com/paymcp/paymcp-go/provider/x402"
	"github.com/paymcp/paymcp-go/store"
)

type fakeTools struct {
	name     string
	price    paymcp.Price
	provider paymcp.Provider
}

func (f fakeTools) X402Tool(name string) (paymcp.Price, paymcp.Provider, bool) {
	if name != f.name {
		return paymcp.Price{}, nil, false
	}
	return f.price, f.provider, true
}

func TestNewGatesPricedTool(t *testing.T) {
	provider := x402.New("https://facilitator.invalid", x402.BaseSepolia, "0x1234567890123456789012345678901234567890")
	tools := fakeTools{name: "draw", price: paymcp.Price{Amount: 1, Currency: "USD"}, provider: provider}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	mw := New(httpmw.Config{Tools: tools, Store: store.NewMemory()})
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"draw","arguments":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	if called {
		t.Fatalf("expected the wrapped handler not to run without a payment signature")
	}
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
}

func TestNewMountsOnChiRouter(t *testing.T) {
	provider := x402.New("https://facilitator.invalid", x402.BaseSepolia, "0x1234567890123456789012345678901234567890")
	tools := fakeTools{name: "draw", price: paymcp.Price{Amount: 1, Currency: "USD"}, provider: provider}
	reached := false

	r := chirouter.NewRouter()
	r.Use(New(httpmw.Config{Tools: tools, Store: store.NewMemory()}))
	r.Post("/mcp", func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"draw","arguments":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set(httpmw.SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if !reached {
		t.Fatalf("expected the chi route handler to run when a signature header is present")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
