package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/provider/mock"
	"github.com/paymcp/paymcp-go/store"
)

func testDeps(t *testing.T, provider paymcp.Provider) Deps {
	t.Helper()
	return Deps{
		ToolName: "echo",
		Price:    paymcp.Price{Amount: 1.00, Currency: "USD"},
		Provider: provider,
		Store:    store.NewMemory(),
	}
}

func echoHandler(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
	return Result{Data: args}, nil
}

func TestResubmitHappyPath(t *testing.T) {
	deps := testDeps(t, mock.New())
	wrapped := Resubmit(echoHandler, deps)
	ctx := context.Background()

	_, err := wrapped(ctx, map[string]any{"msg": "hi"}, Extra{})
	var pe *paymcp.PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a PaymentError, got %v", err)
	}
	if pe.Code != 402 || pe.Kind != "payment_required" {
		t.Errorf("unexpected payment error: %+v", pe)
	}

	paidID := "mock_paid_" + pe.PaymentID[len("mock_pending_"):]
	// Re-seed the store under a "paid" id to simulate the provider
	// having confirmed the original payment out of band, mirroring
	// spec §8 scenario 1's "mock_paid_xxxx" convention.
	deps.Store.Set(ctx, "payment-"+paidID, storeArgs(map[string]any{"msg": "hi"}, nil), store.Options{})

	result, err := wrapped(ctx, map[string]any{"msg": "hi", "payment_id": paidID}, Extra{})
	if err != nil {
		t.Fatalf("unexpected error confirming paid payment: %v", err)
	}
	if result.Data["msg"] != "hi" {
		t.Errorf("expected original args to reach handler, got %v", result.Data)
	}

	// Second confirmation with the same (now-deleted) payment id fails.
	_, err = wrapped(ctx, map[string]any{"msg": "hi", "payment_id": paidID}, Extra{})
	if !errors.Is(err, paymcp.ErrPaymentNotFound) {
		t.Errorf("expected payment_id_not_found on replay, got %v", err)
	}
}

func TestResubmitFailedPaymentRetainsState(t *testing.T) {
	deps := testDeps(t, mock.New())
	wrapped := Resubmit(echoHandler, deps)
	ctx := context.Background()

	failedID := "mock_failed_xyz"
	deps.Store.Set(ctx, "payment-"+failedID, storeArgs(map[string]any{"msg": "hi"}, nil), store.Options{})

	_, err := wrapped(ctx, map[string]any{"msg": "hi", "payment_id": failedID}, Extra{})
	if !errors.Is(err, paymcp.ErrPaymentCanceled) {
		t.Fatalf("expected payment_canceled, got %v", err)
	}

	if _, ok, _ := deps.Store.Get(ctx, "payment-"+failedID); !ok {
		t.Errorf("expected failed payment state to be retained for retry")
	}
}

func TestResubmitMissingPaymentID(t *testing.T) {
	deps := testDeps(t, mock.New())
	wrapped := Resubmit(echoHandler, deps)

	_, err := wrapped(context.Background(), map[string]any{"msg": "hi", "payment_id": "nope"}, Extra{})
	if !errors.Is(err, paymcp.ErrPaymentNotFound) {
		t.Errorf("expected payment_id_not_found for unknown id, got %v", err)
	}
}

func TestAugmentSchemaWithPaymentID(t *testing.T) {
	schema := AugmentSchemaWithPaymentID(nil)
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties map, got %v", schema)
	}
	if _, ok := props["payment_id"]; !ok {
		t.Errorf("expected payment_id property to be added")
	}
}
