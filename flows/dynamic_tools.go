package flows

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/store"
)

// dynamicToolsState holds the process-local bookkeeping spec §4.5.4
// describes: which tools are hidden from which session, and which
// session owns which confirmation tool. Both are process-local by
// design (spec §5: "cross-process coordination is not attempted for
// DYNAMIC_TOOLS"); the actual payment state lives in the cross-process
// Store, keyed by payment id, breaking the cyclic-reference hazard spec
// §9 calls out ("arena+index: store payment state keyed by id in the
// state store, and keep only {toolName, sessionId} in the process-local
// maps").
type dynamicToolsState struct {
	mu                sync.Mutex
	hiddenTools       map[string]map[string]bool // sessionId -> set of toolName
	confirmationTools map[string]string          // toolName -> owning sessionId
}

var dynState = &dynamicToolsState{
	hiddenTools:       map[string]map[string]bool{},
	confirmationTools: map[string]string{},
}

func (s *dynamicToolsState) hide(sessionID, toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.hiddenTools[sessionID]
	if !ok {
		set = map[string]bool{}
		s.hiddenTools[sessionID] = set
	}
	set[toolName] = true
}

func (s *dynamicToolsState) restore(sessionID, toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.hiddenTools[sessionID]; ok {
		delete(set, toolName)
	}
}

func (s *dynamicToolsState) own(confirmationTool, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmationTools[confirmationTool] = sessionID
}

func (s *dynamicToolsState) disown(confirmationTool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.confirmationTools, confirmationTool)
}

// FilterToolNames implements the tools/list patch: names hidden from
// session, and any confirmation-tool name owned by a different session,
// are removed. An empty session id returns names unfiltered, per spec
// §8's boundary behavior.
func FilterToolNames(sessionID string, names []string) []string {
	if sessionID == "" {
		return names
	}
	dynState.mu.Lock()
	defer dynState.mu.Unlock()
	hidden := dynState.hiddenTools[sessionID]
	out := make([]string, 0, len(names))
	for _, name := range names {
		if hidden != nil && hidden[name] {
			continue
		}
		if owner, ok := dynState.confirmationTools[name]; ok && owner != sessionID {
			continue
		}
		out = append(out, name)
	}
	return out
}

// DynamicTools implements spec §4.5.4 (alias LIST_CHANGE): on first
// call, hide the priced tool from the calling session, register a
// per-session per-payment confirmation tool, and notify
// tools/list_changed. On successful payment, restore the original and
// remove the confirmation tool.
func DynamicTools(handler Handler, deps Deps) Handler {
	return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
		created, err := deps.Provider.CreatePayment(ctx, deps.Price.Amount, deps.Price.Currency, deps.ToolName)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
		}
		if deps.Store != nil {
			if err := deps.Store.Set(ctx, paymentKey(created.PaymentID), storeArgs(args, nil), store.Options{TTL: SweepInterval}); err != nil {
				return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
			}
		}

		// Confirmation-tool name format: confirm_{toolName}_{paymentId},
		// the full id (not truncated), per spec §4.5.4.
		confirmName := "confirm_" + deps.ToolName + "_" + created.PaymentID

		dynState.hide(extra.SessionID, deps.ToolName)
		dynState.own(confirmName, extra.SessionID)

		if deps.Register != nil {
			deps.Register.RegisterConfirmationTool(ConfirmationToolSpec{
				Name:        confirmName,
				Title:       "Confirm payment for " + deps.ToolName,
				Description: fmt.Sprintf("Confirm payment %s and execute %s()", created.PaymentID, deps.ToolName),
				// Omit the input schema entirely: spec §4.5.4 calls this
				// out as a workaround for client-side null-dereference
				// bugs in some MCP SDKs when a tool has no parameters.
				WithInputSchema: false,
				Handler:         dynamicToolsConfirm(handler, deps, confirmName, created.PaymentID),
			})
			deps.Register.NotifyToolListChanged(extra.SessionID)
		}

		return Result{Data: map[string]any{
			"status":            "payment_required",
			"confirmation_tool": confirmName,
			"payment_id":        created.PaymentID,
			"payment_url":       created.PaymentURL,
		}}, nil
	}
}

func dynamicToolsConfirm(handler Handler, deps Deps, confirmName, paymentID string) Handler {
	return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
		defer func() {
			dynState.restore(extra.SessionID, deps.ToolName)
			dynState.disown(confirmName)
			if deps.Register != nil {
				deps.Register.RemoveTool(confirmName)
				deps.Register.NotifyToolListChanged(extra.SessionID)
			}
		}()

		entry, ok, err := deps.Store.Get(ctx, paymentKey(paymentID))
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
		}
		if !ok {
			return Result{Data: map[string]any{"status": "error", "message": "Unknown or expired payment_id"}}, nil
		}
		origArgs := loadArgs(entry.Args)

		raw, err := deps.Provider.GetPaymentStatus(ctx, paymentID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
		}
		if paymcp.Normalize(raw) != paymcp.StatusPaid {
			return Result{Data: map[string]any{"status": "error", "message": "payment status is " + string(paymcp.Normalize(raw))}}, nil
		}

		// Handler execution precedes the deferred restore/delete above
		// (spec §5's ordering rule), so a failing handler still leaves
		// the confirmation tool cleanup to run, but the payment itself
		// is only deleted here on success.
		result, err := handler(ctx, origArgs, extra)
		if err != nil {
			return Result{}, err
		}
		if delErr := deps.Store.Delete(ctx, paymentKey(paymentID)); delErr != nil {
			deps.logger().Warn("dynamic_tools: failed to delete consumed payment state", "payment_id", paymentID, "error", delErr)
		}
		return result, nil
	}
}

// SweepInterval bounds how long a DynamicTools payment binding lives:
// the confirmation tool it backs expires after this long unconfirmed.
// Store implementations honor this as a TTL on Set, so expiry runs
// through the store's own eviction rather than a separate sweep loop.
const SweepInterval = 10 * time.Minute
