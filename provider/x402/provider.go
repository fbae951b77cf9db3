package x402

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paymcp/paymcp-go"
)

// Timeouts bounds the facilitator round trips. Verify is interactive
// (client is waiting); Settle can take much longer because it waits on
// an on-chain transaction.
type Timeouts struct {
	VerifyTimeout time.Duration
	SettleTimeout time.Duration
}

// DefaultTimeouts matches the 5s verify / 60s settle budget documented
// in the teacher's own (unimplemented) X402 server test scaffolding.
var DefaultTimeouts = Timeouts{
	VerifyTimeout: 5 * time.Second,
	SettleTimeout: 60 * time.Second,
}

// AuthProvider produces an Authorization header value for a facilitator
// request, given its method, host and path — the hook point for a
// Coinbase CDP JWT or any other facilitator authentication scheme.
type AuthProvider func(ctx context.Context, method, host, path string) (string, error)

// Provider is the X402 specialization of the Provider Adapter (C1): it
// talks to a facilitator's /verify and /settle endpoints over HTTP, and
// builds payment-requirements documents denominated in a single asset's
// minor units (USDC = 10^6).
type Provider struct {
	FacilitatorURL string
	Network        string
	Asset          string
	PayTo          string
	Decimals       uint8
	Resource       string
	Client         *http.Client
	Timeouts       Timeouts
	Auth           AuthProvider
	Logger         *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithAuth sets the facilitator authentication hook.
func WithAuth(auth AuthProvider) Option { return func(p *Provider) { p.Auth = auth } }

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option { return func(p *Provider) { p.Logger = logger } }

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(client *http.Client) Option { return func(p *Provider) { p.Client = client } }

// New constructs an X402 Provider for chain, paying to payTo. It panics
// if payTo is not a valid address for chain's network — a misconfigured
// recipient should fail at startup, not on the first payment request.
func New(facilitatorURL string, chain ChainConfig, payTo string, opts ...Option) *Provider {
	if err := ValidatePayTo(chain.NetworkID, payTo); err != nil {
		panic(fmt.Sprintf("x402: %v", err))
	}
	p := &Provider{
		FacilitatorURL: strings.TrimSuffix(facilitatorURL, "/"),
		Network:        chain.NetworkID,
		Asset:          chain.USDCAddress,
		PayTo:          payTo,
		Decimals:       chain.Decimals,
		Client:         &http.Client{},
		Timeouts:       DefaultTimeouts,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "x402" }

// toMinorUnits converts a human-readable major-unit amount to the
// asset's minor units (USDC: amount * 10^6), per spec §4.1's X402
// specialization.
func (p *Provider) toMinorUnits(amount float64) string {
	scale := math.Pow10(int(p.Decimals))
	return strconv.FormatUint(uint64(math.RoundToEven(amount*scale)), 10)
}

// CreatePayment satisfies paymcp.Provider for hosts that treat X402
// uniformly with other providers; it delegates to PaymentRequired and
// folds the result into CreatedPayment.PaymentData (PaymentURL is left
// empty: X402 never redirects).
func (p *Provider) CreatePayment(ctx context.Context, amount float64, currency, description string) (*paymcp.CreatedPayment, error) {
	challengeID, requirement, err := p.PaymentRequired(ctx, amount, currency, description)
	if err != nil {
		return nil, err
	}
	data, err := requirementsDocument(challengeID, requirement)
	if err != nil {
		return nil, err
	}
	return &paymcp.CreatedPayment{PaymentID: challengeID, PaymentData: data}, nil
}

var _ paymcp.Provider = (*Provider)(nil)

// GetPaymentStatus is not meaningful for X402 in isolation — status
// resolution requires the original PaymentRequirement, which the X402
// flow holds (not the provider). Flow code calls VerifyAndSettle
// instead; this method exists only to let Provider satisfy the simpler
// shape other flows expect when X402 is used as a fallback/AUTO target
// for capability probing, and always reports pending.
func (p *Provider) GetPaymentStatus(ctx context.Context, paymentIDOrSignature string) (string, error) {
	return "pending", nil
}

// PaymentRequired builds the x402 "accepts" document for amount/currency.
// The challenge id is synthesized as a random token — the specification
// documents v1's coarser "{sessionId}-{toolName}" synthesis as a known,
// intentionally-preserved limitation (spec §9 open question (a)); this
// implementation instead mints a collision-free id by default and lets
// the X402 flow override it with the v1-compatible form when needed.
func (p *Provider) PaymentRequired(ctx context.Context, amount float64, currency, description string) (string, PaymentRequirement, error) {
	challengeID := newChallengeID()
	req := PaymentRequirement{
		Scheme:            "exact",
		Network:           p.Network,
		MaxAmountRequired: p.toMinorUnits(amount),
		Asset:             p.Asset,
		PayTo:             p.PayTo,
		Resource:          p.Resource,
		Description:       description,
		MimeType:          "application/json",
		MaxTimeoutSeconds: 60,
		Extra:             map[string]any{"challengeId": challengeID},
	}
	return challengeID, req, nil
}

func requirementsDocument(challengeID string, req PaymentRequirement) (map[string]any, error) {
	raw, err := json.Marshal(PaymentRequirementsResponse{
		X402Version: 1,
		Error:       "payment_required",
		Accepts:     []PaymentRequirement{req},
	})
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	doc["challengeId"] = challengeID
	return doc, nil
}

func newChallengeID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(buf)
}

// facilitatorRequest is the body sent to the facilitator's /verify and
// /settle endpoints.
type facilitatorRequest struct {
	X402Version         int                `json:"x402Version"`
	PaymentPayload      PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements PaymentRequirement `json:"paymentRequirements"`
}

// verifyResponse is the facilitator's /verify response shape.
type verifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// VerifyAndSettle decodes the base64 client signature payload, verifies
// it against requirement with the facilitator, and — only if valid —
// settles it. It returns "paid" only when both calls succeed, "error"
// otherwise, matching spec §4.1's "paid only if both return success".
func (p *Provider) VerifyAndSettle(ctx context.Context, signatureB64 string, requirement PaymentRequirement) (string, error) {
	payload, err := DecodePayment(signatureB64)
	if err != nil {
		return "error", err
	}
	if err := ValidatePaymentPayload(payload); err != nil {
		return "error", fmt.Errorf("x402: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, p.Timeouts.VerifyTimeout)
	defer cancel()
	vr, err := p.call(verifyCtx, "/verify", facilitatorRequest{X402Version: payload.X402Version, PaymentPayload: payload, PaymentRequirements: requirement})
	if err != nil {
		p.Logger.Error("x402: verify request failed", "error", err)
		return "error", err
	}
	var verified verifyResponse
	if err := json.Unmarshal(vr, &verified); err != nil {
		return "error", fmt.Errorf("x402: decoding verify response: %w", err)
	}
	if !verified.IsValid {
		p.Logger.Warn("x402: payment verification rejected", "reason", verified.InvalidReason)
		return "error", nil
	}

	settleCtx, cancel := context.WithTimeout(ctx, p.Timeouts.SettleTimeout)
	defer cancel()
	sr, err := p.call(settleCtx, "/settle", facilitatorRequest{X402Version: payload.X402Version, PaymentPayload: payload, PaymentRequirements: requirement})
	if err != nil {
		p.Logger.Error("x402: settle request failed", "error", err)
		return "error", err
	}
	var settled SettlementResponse
	if err := json.Unmarshal(sr, &settled); err != nil {
		return "error", fmt.Errorf("x402: decoding settle response: %w", err)
	}
	if !settled.Success {
		p.Logger.Warn("x402: settlement unsuccessful", "reason", settled.ErrorReason)
		return "error", nil
	}

	p.Logger.Info("x402: payment settled", "transaction", settled.Transaction, "payer", settled.Payer)
	return "paid", nil
}

func (p *Provider) call(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.FacilitatorURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Auth != nil {
		authHeader, err := p.Auth(ctx, http.MethodPost, req.URL.Host, path)
		if err != nil {
			return nil, fmt.Errorf("x402: building auth header: %w", err)
		}
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("x402: facilitator unavailable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("x402: facilitator %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
