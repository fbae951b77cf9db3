package mock

import (
	"context"
	"testing"
	"time"

	"github.com/paymcp/paymcp-go"
)

func TestGetPaymentStatus(t *testing.T) {
	ctx := context.Background()
	p := New()

	t.Run("paid", func(t *testing.T) {
		status, err := p.GetPaymentStatus(ctx, "mock_paid_abc123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if paymcp.Normalize(status) != paymcp.StatusPaid {
			t.Errorf("expected paid, got %v", status)
		}
	})

	t.Run("failed normalizes to canceled", func(t *testing.T) {
		status, err := p.GetPaymentStatus(ctx, "mock_failed_abc123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if paymcp.Normalize(status) != paymcp.StatusCanceled {
			t.Errorf("expected canceled, got %v", status)
		}
	})

	t.Run("pending", func(t *testing.T) {
		status, err := p.GetPaymentStatus(ctx, "mock_pending_abc123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if paymcp.Normalize(status) != paymcp.StatusPending {
			t.Errorf("expected pending, got %v", status)
		}
	})

	t.Run("delayed transition", func(t *testing.T) {
		id := "mock_paid_xyz_50"
		status, _ := p.GetPaymentStatus(ctx, id)
		if paymcp.Normalize(status) != paymcp.StatusPending {
			t.Errorf("expected pending before delay elapses, got %v", status)
		}
		time.Sleep(60 * time.Millisecond)
		status, _ = p.GetPaymentStatus(ctx, id)
		if paymcp.Normalize(status) != paymcp.StatusPaid {
			t.Errorf("expected paid after delay elapses, got %v", status)
		}
	})
}

func TestCreatePayment(t *testing.T) {
	ctx := context.Background()
	p := New()

	created, err := p.CreatePayment(ctx, 1.5, "USD", "test charge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.PaymentID == "" {
		t.Error("expected non-empty payment id")
	}
	status, _ := p.GetPaymentStatus(ctx, created.PaymentID)
	if paymcp.Normalize(status) != paymcp.StatusPending {
		t.Errorf("expected freshly created payment to be pending, got %v", status)
	}
}
