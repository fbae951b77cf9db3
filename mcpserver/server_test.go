package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	paymcp "github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/flows"
	"github.com/paymcp/paymcp-go/provider/mock"
	"github.com/paymcp/paymcp-go/provider/x402"
)

func nopHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("ok")}}, nil
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New("test", "0.0.1")
	if s.store == nil {
		t.Fatalf("expected a default store")
	}
	if s.logger == nil {
		t.Fatalf("expected a default logger")
	}
	if s.MCPServer() == nil {
		t.Fatalf("expected an underlying MCP server")
	}
}

func TestAddPayableToolRejectsMissingPrice(t *testing.T) {
	s := New("test", "0.0.1", WithDefaultProvider(mock.New()))
	tool := mcp.Tool{Name: "echo"}
	if err := s.AddPayableTool(tool, nopHandler, paymcp.ToolConfig{}, nil, flows.ModeResubmit); err == nil {
		t.Fatalf("expected an error for a tool with no price")
	}
}

func TestAddPayableToolRejectsMissingProvider(t *testing.T) {
	s := New("test", "0.0.1")
	tool := mcp.Tool{Name: "echo"}
	cfg := paymcp.ToolConfig{Price: &paymcp.Price{Amount: 1, Currency: "USD"}}
	if err := s.AddPayableTool(tool, nopHandler, cfg, nil, flows.ModeResubmit); err == nil {
		t.Fatalf("expected an error when no provider is available")
	}
}

func TestAddPayableToolRegistersX402Tool(t *testing.T) {
	provider := x402.New("https://facilitator.invalid", x402.BaseSepolia, "0x1234567890123456789012345678901234567890")
	s := New("test", "0.0.1")
	tool := mcp.Tool{Name: "draw"}
	cfg := paymcp.ToolConfig{Price: &paymcp.Price{Amount: 1, Currency: "USD"}}
	if err := s.AddPayableTool(tool, nopHandler, cfg, provider, flows.ModeX402); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	price, got, ok := s.X402Tool("draw")
	if !ok {
		t.Fatalf("expected draw to be registered as an X402 tool")
	}
	if price.Amount != 1 || price.Currency != "USD" {
		t.Errorf("unexpected price: %+v", price)
	}
	if got != provider {
		t.Errorf("expected the same provider instance back")
	}

	if _, _, ok := s.X402Tool("unknown"); ok {
		t.Errorf("expected an unregistered tool name to report ok=false")
	}
}

func TestAddPayableToolResubmitOnlyForNonX402Provider(t *testing.T) {
	s := New("test", "0.0.1")
	tool := mcp.Tool{Name: "echo"}
	cfg := paymcp.ToolConfig{Price: &paymcp.Price{Amount: 1, Currency: "USD"}}
	if err := s.AddPayableTool(tool, nopHandler, cfg, mock.New(), flows.ModeResubmit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, ok := s.X402Tool("echo"); ok {
		t.Errorf("a RESUBMIT tool with a non-X402 provider should not appear in the X402 registry")
	}
}

func TestHandlerToFlowRoundTripsRawResult(t *testing.T) {
	want := &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("hello")}}
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return want, nil
	}
	flowHandler := handlerToFlow(handler)
	result, err := flowHandler(context.Background(), map[string]any{}, flows.Extra{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := flowResultToCallToolResult(result); got != want {
		t.Errorf("expected the original *mcp.CallToolResult to survive the round trip unmodified")
	}
}

func TestFlowResultToCallToolResultMarshalsSyntheticData(t *testing.T) {
	result := flows.Result{Data: map[string]any{"status": "payment_required", "payment_id": "abc"}}
	got := flowResultToCallToolResult(result)
	if len(got.Content) != 1 {
		t.Fatalf("expected exactly one content block, got %d", len(got.Content))
	}
	text, ok := got.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", got.Content[0])
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(text.Text), &decoded); err != nil {
		t.Fatalf("decoding synthesized content: %v", err)
	}
	if decoded["payment_id"] != "abc" {
		t.Errorf("unexpected decoded content: %v", decoded)
	}
}

type rpcDetails interface {
	JSONRPCErrorDetails() *mcp.JSONRPCErrorDetails
}

func TestPaymentErrorToRPCCarriesCodeAndData(t *testing.T) {
	pe := paymcp.NewPaymentError(paymcp.ErrPaymentRequired, "payment_required", 402, "pay_1").
		WithData("payment_url", "https://pay.invalid/1")
	err := paymentErrorToRPC(pe)

	details, ok := any(err).(rpcDetails)
	if !ok {
		t.Fatalf("expected err to expose JSONRPCErrorDetails")
	}
	rpc := details.JSONRPCErrorDetails()
	if rpc.Code != 402 {
		t.Errorf("expected code 402, got %d", rpc.Code)
	}
	if rpc.Data["payment_id"] != "pay_1" {
		t.Errorf("expected payment_id in data, got %v", rpc.Data)
	}
	if rpc.Data["payment_url"] != "https://pay.invalid/1" {
		t.Errorf("expected merged payment_url in data, got %v", rpc.Data)
	}
}

func TestSetStructFieldBestEffort(t *testing.T) {
	type target struct {
		Name string
	}
	tgt := &target{}
	if !setStructField(tgt, "Name", "hi") {
		t.Fatalf("expected setStructField to succeed on a matching field/type")
	}
	if tgt.Name != "hi" {
		t.Errorf("expected field to be set, got %q", tgt.Name)
	}
	if setStructField(tgt, "Missing", "hi") {
		t.Errorf("expected setStructField to no-op for a missing field")
	}
	if setStructField(tgt, "Name", 5) {
		t.Errorf("expected setStructField to no-op for a type mismatch")
	}
}

func TestProviderSpeaksX402(t *testing.T) {
	if providerSpeaksX402(mock.New()) {
		t.Errorf("mock provider should not be detected as X402-capable")
	}
	provider := x402.New("https://facilitator.invalid", x402.BaseSepolia, "0x1234567890123456789012345678901234567890")
	if !providerSpeaksX402(provider) {
		t.Errorf("x402 provider should be detected as X402-capable")
	}
}

func TestMetaToMap(t *testing.T) {
	if metaToMap(nil) != nil {
		t.Errorf("expected nil for a nil Meta")
	}
	m := &mcp.Meta{AdditionalFields: map[string]any{"x402/payment": "sig"}}
	got := metaToMap(m)
	if got["x402/payment"] != "sig" {
		t.Errorf("unexpected meta map: %v", got)
	}
}
