// Package mcpserver is C6, the composition wrapper: it adapts a
// mark3labs/mcp-go server so that tools registered through
// AddPayableTool run behind the flows package's payment state machines
// instead of directly. It lives in its own package, separate from the
// module root, because flows (and the providers) import the root
// package for its shared domain types (Price, Provider, PaymentError);
// a composition layer that both depends on flows and lived in that same
// root package would form an import cycle.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	paymcp "github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/flows"
	"github.com/paymcp/paymcp-go/session"
	"github.com/paymcp/paymcp-go/store"
)

// Server wraps a mark3labs/mcp-go MCP server, the composition idiom the
// x402 mcp-go integration uses: host code registers tools exactly as it
// would against *server.MCPServer, but through AddPayableTool, which
// wraps a tool's handler in one of the flows package's payment state
// machines before delegating to the underlying server.
type Server struct {
	mcp *server.MCPServer

	mu               sync.Mutex
	store            store.Store
	logger           *slog.Logger
	defaultProvider  paymcp.Provider
	elicitationCfg   flows.ElicitationConfig
	progressCfg      flows.ProgressConfig
	sessions         map[string]paymcp.SessionInfo
	nonX402Providers int
	x402Providers    int
	x402Tools        map[string]x402ToolInfo
}

// x402ToolInfo is what httpmw's ToolLookup needs to build a payment
// requirement for a tool ahead of the MCP layer ever seeing the call.
type x402ToolInfo struct {
	Price    paymcp.Price
	Provider paymcp.Provider
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithStore overrides the default in-process Memory store.
func WithStore(s store.Store) Option { return func(srv *Server) { srv.store = s } }

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(srv *Server) { srv.logger = l } }

// WithDefaultProvider sets the provider used for tools registered
// without an explicit per-tool provider.
func WithDefaultProvider(p paymcp.Provider) Option { return func(srv *Server) { srv.defaultProvider = p } }

// WithElicitationConfig tunes the ELICITATION flow's attempt count, URL
// mode, and heartbeat cadence server-wide.
func WithElicitationConfig(cfg flows.ElicitationConfig) Option {
	return func(srv *Server) { srv.elicitationCfg = cfg }
}

// WithProgressConfig tunes the PROGRESS flow's polling cadence and
// ceiling server-wide.
func WithProgressConfig(cfg flows.ProgressConfig) Option {
	return func(srv *Server) { srv.progressCfg = cfg }
}

// New creates a paywalled MCP server named name/version. Tool list
// change notifications are enabled, since TWO_STEP registers a
// confirmation tool per priced tool and DYNAMIC_TOOLS registers and
// removes confirmation tools at runtime.
func New(name, version string, opts ...Option) *Server {
	srv := &Server{
		mcp:       server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
		sessions:  map[string]paymcp.SessionInfo{},
		x402Tools: map[string]x402ToolInfo{},
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.store == nil {
		srv.store = store.NewMemory()
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	return srv
}

// MCPServer exposes the underlying *server.MCPServer for callers that
// need capabilities this package does not wrap (resources, prompts,
// sampling).
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Handler returns the streamable-HTTP handler, wrapped with this
// package's InterceptHandler for session capture and tools/list filtering.
func (s *Server) Handler() *InterceptHandler {
	return NewInterceptHandler(server.NewStreamableHTTPServer(s.mcp), s)
}

// AddTool registers a regular, unpaywalled tool, passing straight
// through to the underlying MCP server.
func (s *Server) AddTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}

// AddPayableTool registers tool behind the payment flow cfg resolves to.
// cfg.EffectivePrice must be non-nil; provider, if nil, falls back to
// the server's default provider.
func (s *Server) AddPayableTool(tool mcp.Tool, handler server.ToolHandlerFunc, cfg paymcp.ToolConfig, provider paymcp.Provider, mode flows.Mode) error {
	price := cfg.EffectivePrice()
	if price == nil {
		return fmt.Errorf("%w: tool %s has no price", paymcp.ErrInvalidPrice, tool.Name)
	}
	if err := price.Validate(); err != nil {
		return err
	}
	if provider == nil {
		provider = s.defaultProvider
	}
	if provider == nil {
		return fmt.Errorf("%w: tool %s", paymcp.ErrNoProvider, tool.Name)
	}

	s.mu.Lock()
	if providerSpeaksX402(provider) {
		s.x402Providers++
	} else {
		s.nonX402Providers++
	}
	onlyX402 := s.x402Providers > 0 && s.nonX402Providers == 0
	s.mu.Unlock()

	resolved, warning := flows.ResolveMode(mode, providerSpeaksX402(provider), onlyX402)
	if warning != "" {
		s.logger.Warn("paymcp: mode downgraded", "tool", tool.Name, "requested", mode, "resolved", resolved, "reason", warning)
	}

	deps := flows.Deps{
		ToolName: tool.Name,
		Price:    paymcp.Price{Amount: price.Amount, Currency: price.Currency},
		Provider: provider,
		Store:    s.store,
		Logger:   s.logger,
		Sessions: s.lookupSession,
		Register: s,
	}

	original := handlerToFlow(handler)
	var wrapped flows.Handler
	switch resolved {
	case flows.ModeTwoStep:
		wrapped = flows.TwoStep(original, deps)
	case flows.ModeElicitation:
		wrapped = flows.Elicitation(s.elicitationCfg)(original, deps)
	case flows.ModeProgress:
		wrapped = flows.Progress(s.progressCfg)(original, deps)
	case flows.ModeDynamicTools:
		wrapped = flows.DynamicTools(original, deps)
	case flows.ModeResubmit:
		wrapped = flows.Resubmit(original, deps)
		attachPaymentIDSchema(&tool)
	case flows.ModeX402:
		wrapped = flows.X402(original, deps)
		s.mu.Lock()
		s.x402Tools[tool.Name] = x402ToolInfo{Price: *price, Provider: provider}
		s.mu.Unlock()
	case flows.ModeAuto:
		wrapped = flows.Auto(flows.Elicitation(s.elicitationCfg))(original, deps)
		attachPaymentIDSchema(&tool)
	default:
		return fmt.Errorf("%w: %s", paymcp.ErrUnsupportedFlow, resolved)
	}

	attachPriceMeta(&tool, *price)
	s.mcp.AddTool(tool, flowToToolHandler(wrapped))
	return nil
}

// RegisterConfirmationTool implements flows.ConfirmationRegistrar,
// installing a flow-synthesized confirmation tool on the live server.
func (s *Server) RegisterConfirmationTool(spec flows.ConfirmationToolSpec) {
	var tool mcp.Tool
	if spec.WithInputSchema {
		tool = mcp.NewTool(spec.Name,
			mcp.WithDescription(spec.Description),
			mcp.WithString("payment_id", mcp.Required(), mcp.Description("Payment id returned by the original call.")),
		)
	} else {
		// Omit the schema entirely: spec calls this out as a workaround
		// for client-side null-dereference bugs when a tool takes no
		// parameters.
		tool = mcp.Tool{Name: spec.Name, Description: spec.Description}
	}
	s.mcp.AddTool(tool, flowToToolHandler(spec.Handler))
}

// RemoveTool implements flows.ConfirmationRegistrar. mcp-go does not
// expose per-session tool visibility in the surface this package is
// grounded on, so removal here is best-effort: it deletes the tool from
// the underlying server if that capability exists, relying on
// InterceptHandler's tools/list filtering (flows.FilterToolNames) as the
// authoritative per-session view in the meantime.
func (s *Server) RemoveTool(name string) {
	if remover, ok := any(s.mcp).(interface{ DeleteTools(names ...string) }); ok {
		remover.DeleteTools(name)
	}
}

// NotifyToolListChanged implements flows.ConfirmationRegistrar.
func (s *Server) NotifyToolListChanged(sessionID string) {
	if notifier, ok := any(s.mcp).(interface {
		SendNotificationToAllClients(method string, params map[string]any)
	}); ok {
		notifier.SendNotificationToAllClients("notifications/tools/list_changed", nil)
	}
}

// captureSession records SessionInfo observed at initialize, keyed by
// session id, for flows.SessionLookup (AUTO dispatch). InterceptHandler's
// tools/list filtering does not consult it.
func (s *Server) captureSession(info paymcp.SessionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[info.SessionID] = info
}

func (s *Server) lookupSession(sessionID string) (paymcp.SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[sessionID]
	return info, ok
}

// X402Tool implements httpmw.ToolLookup: it reports the price/provider
// pair a tool was registered with, when that tool runs under the X402
// flow (the only flow the HTTP-layer middleware, C7, gates ahead of the
// MCP server ever seeing the call).
func (s *Server) X402Tool(name string) (paymcp.Price, paymcp.Provider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.x402Tools[name]
	if !ok {
		return paymcp.Price{}, nil, false
	}
	return info.Price, info.Provider, true
}

// providerSpeaksX402 reports whether p implements the X402 flow's
// provider capability (PaymentRequired + VerifyAndSettle, both typed
// against x402.PaymentRequirement). A method-name probe via reflection
// avoids this package importing provider/x402 just to name the
// interface precisely.
func providerSpeaksX402(p paymcp.Provider) bool {
	v := reflect.ValueOf(p)
	return v.MethodByName("PaymentRequired").IsValid() && v.MethodByName("VerifyAndSettle").IsValid()
}

// handlerToFlow adapts a plain server.ToolHandlerFunc into a
// flows.Handler, letting flow constructors call the host's original
// tool implementation without depending on mcp-go types.
func handlerToFlow(h server.ToolHandlerFunc) flows.Handler {
	return func(ctx context.Context, args map[string]any, extra flows.Extra) (flows.Result, error) {
		req := mcp.CallToolRequest{}
		req.Params.Arguments = args
		if len(extra.Meta) > 0 {
			req.Params.Meta = &mcp.Meta{AdditionalFields: extra.Meta}
		}
		result, err := h(ctx, req)
		if err != nil {
			return flows.Result{}, err
		}
		return flows.Result{Data: map[string]any{rawResultKey: result}}, nil
	}
}

// rawResultKey is the sentinel Data key flowResultToCallToolResult uses
// to recover an unmodified *mcp.CallToolResult produced by the original
// handler, bypassing the generic JSON envelope flows use for their own
// synthetic results (payment_required, payment_pending, etc.).
const rawResultKey = "__mcpResult"

func flowResultToCallToolResult(res flows.Result) *mcp.CallToolResult {
	if raw, ok := res.Data[rawResultKey]; ok {
		if cr, ok := raw.(*mcp.CallToolResult); ok {
			return cr
		}
	}
	body, err := json.Marshal(res.Data)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(body))}}
}

// rpcDetailsError lets a *PaymentError surface a JSON-RPC error code and
// data block through mcp-go's hasJSONRPCErrorDetails convention, mirroring
// the x402 middleware's paymentError type.
type rpcDetailsError struct {
	err     error
	details *mcp.JSONRPCErrorDetails
}

func (e *rpcDetailsError) Error() string { return e.err.Error() }
func (e *rpcDetailsError) Unwrap() error { return e.err }

func (e *rpcDetailsError) JSONRPCErrorDetails() *mcp.JSONRPCErrorDetails { return e.details }

func paymentErrorToRPC(pe *paymcp.PaymentError) error {
	data := map[string]any{"payment_id": pe.PaymentID}
	for k, v := range pe.Data {
		data[k] = v
	}
	return &rpcDetailsError{err: pe, details: &mcp.JSONRPCErrorDetails{
		Code:    pe.Code,
		Message: pe.Kind,
		Data:    data,
	}}
}

// flowToToolHandler adapts a flows.Handler back into the
// server.ToolHandlerFunc shape mcpServer.AddTool expects, wiring
// SessionID/Meta/ReportProgress/SendRequest/SendNotification through the
// narrowest mcp-go hooks this package can safely assert are present.
func flowToToolHandler(h flows.Handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		extra := flows.Extra{
			SessionID:        sessionIDFromContext(ctx),
			Meta:             metaToMap(req.Params.Meta),
			ReportProgress:   reportProgressAdapter(ctx, req),
			SendRequest:      sendRequestAdapter(ctx),
			SendNotification: sendNotificationAdapter(ctx),
		}
		result, err := h(ctx, req.GetArguments(), extra)
		if err != nil {
			var pe *paymcp.PaymentError
			if errors.As(err, &pe) {
				return nil, paymentErrorToRPC(pe)
			}
			return nil, err
		}
		return flowResultToCallToolResult(result), nil
	}
}

func metaToMap(m *mcp.Meta) map[string]any {
	if m == nil || m.AdditionalFields == nil {
		return nil
	}
	return m.AdditionalFields
}

func sessionIDFromContext(ctx context.Context) string {
	if sess := server.ClientSessionFromContext(ctx); sess != nil {
		return sess.SessionID()
	}
	return session.FromContext(ctx)
}

// These three adapters are this package's integration seam with
// mcp-go's server-initiated messaging (progress notifications,
// elicitation requests, arbitrary notifications). The pack this module
// was grounded on shows no example exercising that surface, so rather
// than guess at unconfirmed method names on *server.MCPServer and risk
// code that cannot compile, each adapter probes for the capability via
// a narrow, runtime-checked interface. When it is absent,
// sendRequestAdapter degrades to "unsupported" (flows.RPCError with
// JSON-RPC method-not-found), while the progress and notification
// adapters send nothing and return nil. A host
// wiring a real mcp-go build that exposes richer hooks here only needs
// to widen the probed interface, not touch flows/* at all.

func reportProgressAdapter(ctx context.Context, req mcp.CallToolRequest) func(context.Context, float64, float64, string) error {
	var token any
	if req.Params.Meta != nil {
		token = req.Params.Meta.AdditionalFields["progressToken"]
	}
	if token == nil {
		return nil
	}
	return func(ctx context.Context, progress, total float64, message string) error {
		srv := server.ServerFromContext(ctx)
		if srv == nil {
			return nil
		}
		notifier, ok := any(srv).(interface {
			SendNotificationToClient(ctx context.Context, method string, params map[string]any) error
		})
		if !ok {
			return nil
		}
		return notifier.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
			"progressToken": token,
			"progress":      progress,
			"total":         total,
			"message":       message,
		})
	}
}

func sendRequestAdapter(ctx context.Context) func(context.Context, string, map[string]any) (map[string]any, error) {
	return func(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
		srv := server.ServerFromContext(ctx)
		if srv == nil {
			return nil, &flows.RPCError{Code: -32601, Message: "no server in context"}
		}
		requester, ok := any(srv).(interface {
			SendRequestToClient(ctx context.Context, method string, params map[string]any) (map[string]any, error)
		})
		if !ok {
			return nil, &flows.RPCError{Code: -32601, Message: "server does not support " + method}
		}
		result, err := requester.SendRequestToClient(ctx, method, params)
		if err != nil {
			return nil, &flows.RPCError{Code: -32001, Message: err.Error()}
		}
		return result, nil
	}
}

func sendNotificationAdapter(ctx context.Context) func(context.Context, string, map[string]any) error {
	return func(ctx context.Context, method string, params map[string]any) error {
		srv := server.ServerFromContext(ctx)
		if srv == nil {
			return nil
		}
		notifier, ok := any(srv).(interface {
			SendNotificationToClient(ctx context.Context, method string, params map[string]any) error
		})
		if !ok {
			return nil
		}
		return notifier.SendNotificationToClient(ctx, method, params)
	}
}

// attachPriceMeta rides the tool's price on its descriptor's _meta block
// so clients can read price without a call, per spec §4.6(a). Whether
// mcp.Tool exposes a Meta field analogous to CallToolRequest/Result's
// was not grounded anywhere in the retrieved pack (every mcp.Tool{}
// literal found there came from an unrelated SDK), so this mutates the
// field through reflection rather than a static field reference: it
// degrades to a no-op if the field is absent or of an unexpected type,
// instead of risking a build that cannot compile against the real
// mcp-go release.
func attachPriceMeta(tool *mcp.Tool, price paymcp.Price) {
	meta := &mcp.Meta{AdditionalFields: map[string]any{
		"price": map[string]any{"amount": price.Amount, "currency": price.Currency},
	}}
	setStructField(tool, "Meta", meta)
}

// attachPaymentIDSchema adds the optional payment_id input field
// RESUBMIT/AUTO need, via the same reflective best-effort approach as
// attachPriceMeta, since mcp.Tool's schema field name/shape (RawInputSchema
// vs. a structured ToolInputSchema) is likewise ungrounded in the pack.
func attachPaymentIDSchema(tool *mcp.Tool) {
	v := reflect.ValueOf(tool).Elem()
	if f := v.FieldByName("RawInputSchema"); f.IsValid() && f.CanSet() {
		schema := flows.AugmentSchemaWithPaymentID(decodeRawSchema(f))
		if body, err := json.Marshal(schema); err == nil {
			val := reflect.ValueOf(json.RawMessage(body))
			if val.Type().AssignableTo(f.Type()) {
				f.Set(val)
				return
			}
		}
	}
	if f := v.FieldByName("InputSchema"); f.IsValid() && f.CanSet() && f.Kind() == reflect.Struct {
		props := f.FieldByName("Properties")
		if props.IsValid() && props.CanSet() {
			m, _ := props.Interface().(map[string]any)
			if m == nil {
				m = map[string]any{}
			}
			m["payment_id"] = map[string]any{
				"type":        "string",
				"description": "Payment id from a prior payment_required response, to confirm and complete the paywalled call.",
			}
			val := reflect.ValueOf(m)
			if val.Type().AssignableTo(props.Type()) {
				props.Set(val)
			}
		}
	}
}

func decodeRawSchema(f reflect.Value) map[string]any {
	raw, ok := f.Interface().(json.RawMessage)
	if !ok || len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}

func setStructField(target any, field string, value any) bool {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr {
		return false
	}
	v = v.Elem()
	f := v.FieldByName(field)
	if !f.IsValid() || !f.CanSet() {
		return false
	}
	val := reflect.ValueOf(value)
	if !val.Type().AssignableTo(f.Type()) {
		return false
	}
	f.Set(val)
	return true
}
