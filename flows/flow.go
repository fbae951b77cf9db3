// Package flows implements C5, the payment-flow state machines: one
// module per flow (TWO_STEP, ELICITATION, PROGRESS, DYNAMIC_TOOLS,
// RESUBMIT, X402) plus the AUTO dispatcher.
//
// Flows are deliberately decoupled from any particular MCP transport
// library. Each flow operates on the Handler/Extra shapes below, which
// mirror spec §4.5's wrapper(args, extra) call convention; mcpserver
// adapts mcp-go's CallToolRequest/CallToolResult to and from this shape
// at the registration boundary. That keeps flow state machines testable
// with plain fakes instead of a live MCP server.
package flows

import (
	"context"
	"log/slog"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/store"
)

// Handler is the flow-level call convention: args are the tool's own
// arguments, Extra carries everything else a flow or the original
// handler needs. Cancellation rides on ctx, per spec §5's requirement
// that every suspension point race against the request's abort signal.
type Handler func(ctx context.Context, args map[string]any, extra Extra) (Result, error)

// Result is what a flow, or the wrapped original handler, returns.
// Flows that surface payment conditions as structured tool results
// (DYNAMIC_TOOLS, PROGRESS, TWO_STEP's confirmation path) set Data;
// flows that throw protocol-level errors (RESUBMIT, X402) return a
// non-nil error instead, typically a *paymcp.PaymentError.
type Result struct {
	Data map[string]any
}

// Extra carries the per-call context spec §4.5 requires alongside args.
type Extra struct {
	SessionID        string
	RequestID        string
	AuthInfo         map[string]any
	Headers          map[string]string
	Meta             map[string]any
	ProgressToken    any
	SendRequest      func(ctx context.Context, method string, params map[string]any) (map[string]any, error)
	SendNotification func(ctx context.Context, method string, params map[string]any) error
	ReportProgress   func(ctx context.Context, progress, total float64, message string) error
}

// SessionLookup resolves captured SessionInfo for AUTO dispatch.
type SessionLookup func(sessionID string) (paymcp.SessionInfo, bool)

// ConfirmationToolSpec describes a synthetic confirmation tool a flow
// wants installed on the live server.
type ConfirmationToolSpec struct {
	Name        string
	Title       string
	Description string
	// WithInputSchema is true for TWO_STEP (single string payment_id
	// input), false for DYNAMIC_TOOLS (spec §4.5.4: omit the schema
	// entirely to avoid client-side null-dereference bugs).
	WithInputSchema bool
	Handler         Handler
}

// ConfirmationRegistrar installs or removes a synthetic confirmation
// tool on the live server and emits tools/list_changed. mcpserver.Server
// implements it.
type ConfirmationRegistrar interface {
	RegisterConfirmationTool(spec ConfirmationToolSpec)
	RemoveTool(name string)
	NotifyToolListChanged(sessionID string)
}

// Deps are the collaborators every flow needs beyond the original
// handler: what to pay against, where to keep state, and the tool this
// wrapper paywalls.
type Deps struct {
	ToolName string
	Price    paymcp.Price
	Provider paymcp.Provider
	Store    store.Store
	Logger   *slog.Logger
	Sessions SessionLookup
	Register ConfirmationRegistrar
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Wrapper builds the paid handler that replaces a priced tool's original
// handler, per spec §4.5's makePaidWrapper. Building a Wrapper may
// register confirmation tools as a side effect (TWO_STEP does so once,
// at construction time).
type Wrapper func(handler Handler, deps Deps) Handler

// paymentKey is the state-store key for a pending payment's original
// arguments and flow-specific extra data.
func paymentKey(paymentID string) string { return "payment-" + paymentID }

func storeArgs(args map[string]any, extra map[string]any) map[string]any {
	out := map[string]any{"args": args}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func loadArgs(stored map[string]any) map[string]any {
	args, _ := stored["args"].(map[string]any)
	return args
}
