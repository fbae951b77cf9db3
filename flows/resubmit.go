package flows

import (
	"context"
	"fmt"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/store"
)

// Resubmit implements spec §4.5.5: the first call returns a 402-shaped
// thrown error carrying payment_id/payment_url; the client reinvokes the
// same tool with payment_id in args to confirm and run.
func Resubmit(handler Handler, deps Deps) Handler {
	return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
		if id, ok := args["payment_id"].(string); ok && id != "" {
			return resubmitConfirm(ctx, handler, deps, id, args, extra)
		}
		return resubmitCreate(ctx, deps, args)
	}
}

func resubmitCreate(ctx context.Context, deps Deps, args map[string]any) (Result, error) {
	created, err := deps.Provider.CreatePayment(ctx, deps.Price.Amount, deps.Price.Currency, deps.ToolName)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
	}
	if deps.Store == nil {
		return Result{}, paymcp.ErrNoStateStore
	}
	if err := deps.Store.Set(ctx, paymentKey(created.PaymentID), storeArgs(args, nil), store.Options{}); err != nil {
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
	}
	pe := paymcp.NewPaymentError(paymcp.ErrPaymentRequired, "payment_required", 402, created.PaymentID).
		WithData("payment_url", created.PaymentURL).
		WithData("retry_instructions", fmt.Sprintf("Call %s again with payment_id=%q once payment is complete.", deps.ToolName, created.PaymentID)).
		WithData("annotations", map[string]any{"payment": map[string]any{"status": "pending", "payment_id": created.PaymentID}})
	return Result{}, pe
}

func resubmitConfirm(ctx context.Context, handler Handler, deps Deps, paymentID string, args map[string]any, extra Extra) (Result, error) {
	if deps.Store == nil {
		return Result{}, paymcp.ErrNoStateStore
	}

	var result Result
	var outErr error
	lockErr := deps.Store.Lock(ctx, paymentID, func(ctx context.Context) error {
		entry, ok, err := deps.Store.Get(ctx, paymentKey(paymentID))
		if err != nil {
			outErr = fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
			return nil
		}
		if !ok {
			outErr = paymcp.NewPaymentError(paymcp.ErrPaymentNotFound, "payment_id_not_found", 404, paymentID)
			return nil
		}
		origArgs := loadArgs(entry.Args)

		raw, err := deps.Provider.GetPaymentStatus(ctx, paymentID)
		if err != nil {
			outErr = fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
			return nil
		}
		switch paymcp.Normalize(raw) {
		case paymcp.StatusPaid:
			res, err := handler(ctx, origArgs, extra)
			if err != nil {
				outErr = err
				return nil
			}
			// Handler execution precedes state deletion (spec §5's
			// ordering rule) so a failing handler does not consume the
			// payment and the client can retry with the same id.
			if delErr := deps.Store.Delete(ctx, paymentKey(paymentID)); delErr != nil {
				deps.logger().Warn("resubmit: failed to delete consumed payment state", "payment_id", paymentID, "error", delErr)
			}
			result = res
		case paymcp.StatusCanceled:
			outErr = paymcp.NewPaymentError(paymcp.ErrPaymentCanceled, "payment_canceled", 402, paymentID).
				WithData("annotations", map[string]any{"payment": map[string]any{"status": "canceled", "payment_id": paymentID}})
		case paymcp.StatusPending:
			outErr = paymcp.NewPaymentError(paymcp.ErrPaymentPending, "payment_pending", 402, paymentID).
				WithData("annotations", map[string]any{"payment": map[string]any{"status": "pending", "payment_id": paymentID}})
		default:
			outErr = paymcp.NewPaymentError(paymcp.ErrPaymentUnknown, "payment_unknown", 402, paymentID)
		}
		return nil
	})
	if lockErr != nil {
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrLockFailed, lockErr)
	}
	return result, outErr
}

// AugmentSchemaWithPaymentID adds the optional payment_id string field
// spec §4.5.5 requires on a priced tool's inputSchema when RESUBMIT or
// AUTO is active.
func AugmentSchemaWithPaymentID(schema map[string]any) map[string]any {
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	props["payment_id"] = map[string]any{
		"type":        "string",
		"description": "Payment id from a prior payment_required response, to confirm and complete the paywalled call.",
	}
	schema["properties"] = props
	return schema
}
