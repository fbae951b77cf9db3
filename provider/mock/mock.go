// Package mock implements a deterministic payment provider for tests and
// examples, per spec §8's end-to-end testable-properties convention:
// payment ids encode the expected status so scenarios are reproducible
// without a real payment backend.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paymcp/paymcp-go"
)

// Provider is a mock paymcp.Provider. CreatePayment mints a payment id of
// the form "mock_pending_{n}" by default; callers who want a specific
// terminal status or a delayed transition construct the id themselves
// (or via NextID) and pass it straight to GetPaymentStatus — exactly the
// convention spec §8 describes for test scenarios.
type Provider struct {
	mu      sync.Mutex
	counter int
	clock   func() time.Time
}

// New constructs a mock provider.
func New() *Provider {
	return &Provider{clock: time.Now}
}

func (p *Provider) Name() string { return "mock" }

// CreatePayment mints a fresh "mock_pending_{n}" payment id. Tests that
// need a specific terminal outcome should call NextID directly with the
// desired status, or simply pass a hand-built "mock_{status}_{id}"
// string to GetPaymentStatus (CreatePayment is a convenience, not the
// only way to obtain an id).
func (p *Provider) CreatePayment(ctx context.Context, amount float64, currency, description string) (*paymcp.CreatedPayment, error) {
	id := p.NextID("pending")
	return &paymcp.CreatedPayment{
		PaymentID:  id,
		PaymentURL: "https://mock.invalid/pay/" + id,
	}, nil
}

// NextID mints a unique "mock_{status}_{n}" id.
func (p *Provider) NextID(status string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter++
	return fmt.Sprintf("mock_%s_%d", status, p.counter)
}

// GetPaymentStatus decodes the status (and, for delayed ids, the delay)
// encoded in paymentID:
//
//	mock_paid_xxxx                -> "paid"
//	mock_failed_xxxx               -> "failed" (normalizes to canceled)
//	mock_pending_xxxx              -> "pending"
//	mock_{status}_{id}_{delayMs}    -> "pending" until delayMs have
//	                                   elapsed since the id was first
//	                                   observed, then {status}
//
// Any id not matching the mock_ prefix is itself returned unchanged,
// letting callers probe GetPaymentStatus with raw provider strings in
// unit tests without going through CreatePayment at all.
func (p *Provider) GetPaymentStatus(ctx context.Context, paymentID string) (string, error) {
	if !strings.HasPrefix(paymentID, "mock_") {
		return paymentID, nil
	}
	parts := strings.Split(strings.TrimPrefix(paymentID, "mock_"), "_")
	if len(parts) == 0 {
		return "pending", nil
	}
	status := parts[0]

	// mock_{status}_{id}_{delayMs}: last part, if numeric, is a delay
	// measured from the first GetPaymentStatus call that observed this
	// id; until it has elapsed the id reads as pending.
	if len(parts) >= 3 {
		if delayMs, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			firstSeen := p.firstSeen(paymentID)
			if p.clock().Sub(firstSeen) < time.Duration(delayMs)*time.Millisecond {
				return "pending", nil
			}
			return status, nil
		}
	}

	return status, nil
}

var firstSeenMu sync.Mutex
var firstSeenAt = map[string]time.Time{}

func (p *Provider) firstSeen(id string) time.Time {
	firstSeenMu.Lock()
	defer firstSeenMu.Unlock()
	t, ok := firstSeenAt[id]
	if !ok {
		t = p.clock()
		firstSeenAt[id] = t
	}
	return t
}
