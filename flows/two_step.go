package flows

import (
	"context"
	"fmt"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/store"
)

// TwoStep implements spec §4.5.1. The first call creates a payment and
// registers a confirmation tool named confirm_{toolName}_payment; the
// client invokes that tool with payment_id to complete the purchase.
func TwoStep(handler Handler, deps Deps) Handler {
	confirmName := "confirm_" + deps.ToolName + "_payment"

	if deps.Register != nil {
		deps.Register.RegisterConfirmationTool(ConfirmationToolSpec{
			Name:            confirmName,
			Title:           "Confirm payment for " + deps.ToolName,
			Description:     fmt.Sprintf("Confirm a pending payment for %s() and execute it.", deps.ToolName),
			WithInputSchema: true,
			Handler:         twoStepConfirm(handler, deps),
		})
	}

	return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
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
		return Result{Data: map[string]any{
			"status":      "payment_required",
			"next_step":   confirmName,
			"payment_id":  created.PaymentID,
			"payment_url": created.PaymentURL,
		}}, nil
	}
}

// twoStepConfirm builds the confirmation tool's handler, registered once
// per priced tool and idempotent across calls with different payment ids.
func twoStepConfirm(handler Handler, deps Deps) Handler {
	return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
		paymentID, _ := args["payment_id"].(string)
		if paymentID == "" {
			return Result{Data: map[string]any{"status": "error", "message": "payment_id is required"}}, nil
		}
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
		switch paymcp.Normalize(raw) {
		case paymcp.StatusPaid:
			result, err := handler(ctx, origArgs, extra)
			if err != nil {
				return Result{}, err
			}
			if delErr := deps.Store.Delete(ctx, paymentKey(paymentID)); delErr != nil {
				deps.logger().Warn("two_step: failed to delete consumed payment state", "payment_id", paymentID, "error", delErr)
			}
			return result, nil
		default:
			status := string(paymcp.Normalize(raw))
			return Result{Data: map[string]any{"status": "error", "message": "payment status is " + status}}, nil
		}
	}
}
