package gin

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

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
	gin.SetMode(gin.TestMode)
	provider := x402.New("https://facilitator.invalid", x402.BaseSepolia, "0x1234567890123456789012345678901234567890")
	tools := fakeTools{name: "draw", price: paymcp.Price{Amount: 1, Currency: "USD"}, provider: provider}

	reached := false
	router := gin.New()
	router.Use(New(httpmw.Config{Tools: tools, Store: store.NewMemory()}))
	router.POST("/mcp", func(c *gin.Context) { reached = true })

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"draw","arguments":{}}}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if reached {
		t.Fatalf("expected the route handler not to run without a payment signature")
	}
	if rec.Code != 402 {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
}

func TestNewPassesThroughWithSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := x402.New("https://facilitator.invalid", x402.BaseSepolia, "0x1234567890123456789012345678901234567890")
	tools := fakeTools{name: "draw", price: paymcp.Price{Amount: 1, Currency: "USD"}, provider: provider}

	reached := false
	router := gin.New()
	router.Use(New(httpmw.Config{Tools: tools, Store: store.NewMemory()}))
	router.POST("/mcp", func(c *gin.Context) {
		reached = true
		c.Status(200)
	})

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"draw","arguments":{}}}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	req.Header.Set(httpmw.SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if !reached {
		t.Fatalf("expected the route handler to run when a signature header is present")
	}
}
