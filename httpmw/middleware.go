// Package httpmw implements C7, the X402 HTTP middleware: a
// request-pipeline handler mounted in front of the MCP HTTP transport
// that short-circuits tools/call requests targeting an X402-priced tool
// when no payment signature is present, so the round trip never reaches
// the MCP server just to have the X402 flow say the same thing from
// inside a tool call. Grounded on the teacher's http/middleware.go (402
// response shape, requirements-in-context idiom) and mcp/server/handler.go
// (parsing a JSON-RPC body at the HTTP layer).
package httpmw

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/flows"
	wire "github.com/paymcp/paymcp-go/mcp"
	"github.com/paymcp/paymcp-go/provider/x402"
	"github.com/paymcp/paymcp-go/store"
)

// Header names the X402 wire contract accepts for a client's signed
// payment payload, and the header a 402 response carries its
// payment-requirements document under.
const (
	SignatureHeader       = "Payment-Signature"
	SignatureHeaderLegacy = "X-Payment"
	PaymentRequiredHeader = "PAYMENT-REQUIRED"
)

// ToolLookup resolves a tool name to the price/provider pair it was
// registered with when that tool runs under the X402 flow.
// *mcpserver.Server satisfies this directly; it is an interface here so
// this package does not need to import mcpserver.
type ToolLookup interface {
	X402Tool(name string) (paymcp.Price, paymcp.Provider, bool)
}

// x402Provider is the subset of provider/x402's Provider this middleware
// calls directly, asserted against the paymcp.Provider ToolLookup
// returns rather than imported as a concrete dependency.
type x402Provider interface {
	PaymentRequired(ctx context.Context, amount float64, currency, description string) (string, x402.PaymentRequirement, error)
}

// Config configures New.
type Config struct {
	// Tools resolves a tool name to its X402 price/provider.
	Tools ToolLookup
	// Store persists the payment requirement this middleware creates, in
	// the same shape and under the same key flows.X402's second hop reads.
	Store store.Store
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New returns net/http middleware implementing spec §4.7. For a POST
// request whose JSON-RPC body is tools/call against a tool registered
// under the X402 flow, when neither the Payment-Signature nor X-Payment
// header is present, it creates the payment requirement, persists it
// under the key flows.ChallengeKey names, and answers HTTP 402 with a
// JSON-RPC error body and a PAYMENT-REQUIRED header carrying the
// base64-encoded requirements document. Every other request, including a
// resubmission that already carries a signature, passes straight through
// to next unmodified.
func New(cfg Config) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || cfg.Tools == nil {
				next.ServeHTTP(w, r)
				return
			}

			toolName, requestID, restored, ok := toolCallName(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			r = restored

			if r.Header.Get(SignatureHeader) != "" || r.Header.Get(SignatureHeaderLegacy) != "" {
				next.ServeHTTP(w, r)
				return
			}

			price, provider, ok := cfg.Tools.X402Tool(toolName)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			xp, ok := provider.(x402Provider)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			challengeID, requirement, err := xp.PaymentRequired(r.Context(), price.Amount, price.Currency, toolName)
			if err != nil {
				logger.Error("httpmw: creating payment requirement failed", "tool", toolName, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if cfg.Store != nil {
				if err := cfg.Store.Set(r.Context(), flows.ChallengeKey(challengeID), flows.RequirementToStoreValue(requirement), store.Options{}); err != nil {
					logger.Error("httpmw: persisting payment requirement failed", "tool", toolName, "error", err)
					next.ServeHTTP(w, r)
					return
				}
			}

			sendPaymentRequired(w, requestID, challengeID, requirement)
		})
	}
}

// toolCallName extracts the tool name from a tools/call JSON-RPC body,
// restoring r.Body so next can still read it if the middleware decides
// to pass the request through.
func toolCallName(r *http.Request) (name string, requestID any, restored *http.Request, ok bool) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, r, false
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	req, err := wire.ParseRequest(bodyBytes)
	if err != nil || req.Method != "tools/call" {
		return "", nil, r, false
	}
	name = wire.ToolName(req.Params)
	if name == "" {
		return "", nil, r, false
	}
	return name, req.ID, r, true
}

// sendPaymentRequired writes the spec §4.7 402 response: HTTP 402, a
// PAYMENT-REQUIRED header carrying base64(requirements document), and a
// JSON-RPC error body.
func sendPaymentRequired(w http.ResponseWriter, requestID any, challengeID string, requirement x402.PaymentRequirement) {
	doc, err := x402.EncodeRequirements(x402.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       "payment_required",
		Accepts:     []x402.PaymentRequirement{requirement},
	})
	if err == nil {
		w.Header().Set(PaymentRequiredHeader, doc)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      requestID,
		"error": map[string]any{
			"code":    402,
			"message": "Payment required",
			"data": map[string]any{
				"payment_id": challengeID,
				"accepts":    []x402.PaymentRequirement{requirement},
			},
		},
	})
}
