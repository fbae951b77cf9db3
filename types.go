package paymcp

import (
	"context"
	"fmt"
)

// Price is a human-readable major-unit amount plus an ISO-4217 currency
// code. Providers are responsible for converting to minor units (e.g.
// the X402 provider multiplies by 10^6 for USDC).
type Price struct {
	Amount   float64
	Currency string
}

// Validate rejects the zero/empty prices that flows requiring a positive
// price (RESUBMIT, X402) must fail on at registration time.
func (p Price) Validate() error {
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %v", ErrInvalidPrice, p.Amount)
	}
	if p.Currency == "" {
		return fmt.Errorf("%w: currency must not be empty", ErrInvalidPrice)
	}
	return nil
}

// Subscription names a plan (or list of plans) a tool requires instead
// of, or in addition to, a one-off price.
type Subscription struct {
	Plans []string
}

// ToolConfig is the free-form mapping recognized when a host registers a
// tool through mcpserver.Server.AddPayableTool. Price and Subscription may alternately
// live in Meta, mirroring the source system's "_meta" extensibility bag.
type ToolConfig struct {
	Price        *Price
	Subscription *Subscription
	Title        string
	Description  string
	InputSchema  map[string]any
	Meta         map[string]any
}

// EffectivePrice resolves a price from either the Price field or
// Meta["price"], preferring the explicit field.
func (c ToolConfig) EffectivePrice() *Price {
	if c.Price != nil {
		return c.Price
	}
	if raw, ok := c.Meta["price"]; ok {
		if p, ok := raw.(Price); ok {
			return &p
		}
	}
	return nil
}

// CreatedPayment is what a Provider's CreatePayment returns: an
// identifier plus optional redirect URL and provider-specific data
// (X402 returns PaymentData instead of a URL).
type CreatedPayment struct {
	PaymentID   string
	PaymentURL  string
	PaymentData map[string]any
}

// Plan describes a subscription plan as reported by a provider.
type Plan struct {
	ID          string
	Name        string
	Price       Price
	Interval    string
	Description string
}

// Provider is the uniform interface to a heterogeneous payment backend
// (C1). Implementations own an API key, base URL, optional success/cancel
// URLs, a logger, and request-encoding conventions; errors surface HTTP
// non-2xx as an error carrying status code and response text.
type Provider interface {
	// Name identifies the provider for logging and tool-metadata purposes.
	Name() string
	// CreatePayment starts a payment for amount/currency with the given
	// human-readable description.
	CreatePayment(ctx context.Context, amount float64, currency, description string) (*CreatedPayment, error)
	// GetPaymentStatus fetches the raw provider-specific status string for
	// paymentIDOrSignature; callers normalize it via Normalize.
	GetPaymentStatus(ctx context.Context, paymentIDOrSignature string) (string, error)
}

// SubscriptionProvider is an optional capability a Provider may also
// implement; flows probe for it with a type assertion rather than an
// inheritance hierarchy, per spec §9's polymorphic-provider guidance.
type SubscriptionProvider interface {
	Provider
	GetSubscriptions(ctx context.Context) ([]Plan, error)
	StartSubscription(ctx context.Context, planID string) (*CreatedPayment, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// PaymentRecord describes a flow-owned payment record, keyed by paymentId
// (or, for X402, a challengeId). Args carries the original tool
// arguments; Extra carries flow-specific payload (e.g. X402's accepted
// payment-requirements document). The flows package does not use this
// type: it persists its records as store.Entry argument maps.
type PaymentRecord struct {
	Args      map[string]any
	Timestamp int64
	Extra     map[string]any
}

// SessionInfo is captured from the MCP initialize request. mcpserver.Server
// keeps it in an in-process map keyed by session id; it is not written to
// the state store and its entries do not expire.
type SessionInfo struct {
	ClientName   string
	SessionID    string
	Capabilities map[string]any
}

// AdvertisesCapability reports whether the session's captured
// capabilities map contains a truthy entry for name (e.g. "elicitation",
// "x402"), used by AUTO dispatch. tools/list responses are not rewritten
// on the basis of these capabilities: payment_id is not stripped from
// tool schemas for any client.
func (s SessionInfo) AdvertisesCapability(name string) bool {
	if s.Capabilities == nil {
		return false
	}
	v, ok := s.Capabilities[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
