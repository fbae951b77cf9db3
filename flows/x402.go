package flows

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/provider/x402"
	"github.com/paymcp/paymcp-go/store"
)

func x402Base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// x402Provider is the capability the X402 flow needs beyond the plain
// paymcp.Provider interface: a requirements builder and a combined
// verify+settle call, both specific to the X402 wire protocol. The flow
// package depends on provider/x402's concrete type rather than
// re-declaring the interface, since X402 is a protocol, not merely one
// provider implementation among interchangeable ones — exactly the
// asymmetry spec §4.5.6 describes ("stateless across instances via a
// challengeId bound at creation time").
type x402Provider interface {
	paymcp.Provider
	PaymentRequired(ctx context.Context, amount float64, currency, description string) (string, x402.PaymentRequirement, error)
	VerifyAndSettle(ctx context.Context, signatureB64 string, requirement x402.PaymentRequirement) (string, error)
}

// X402 implements spec §4.5.6: a signature-carrying MCP
// _meta["x402/payment"] entry pays in one hop. The flow is stateless
// across server instances except for the stored requirements document,
// keyed by challengeId.
func X402(handler Handler, deps Deps) Handler {
	provider, ok := deps.Provider.(x402Provider)
	if !ok {
		return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
			return Result{}, fmt.Errorf("%w: provider %s does not implement the X402 protocol", paymcp.ErrUnsupportedFlow, deps.Provider.Name())
		}
	}

	return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
		if deps.Store == nil {
			return Result{}, paymcp.ErrNoStateStore
		}

		raw, hasPayment := extra.Meta["x402/payment"]
		if !hasPayment {
			return x402FirstHop(ctx, provider, deps, extra)
		}

		sigB64, ok := raw.(string)
		if !ok {
			return Result{}, fmt.Errorf("%w: x402/payment must be a base64 string", paymcp.ErrIncorrectSig)
		}
		return x402SecondHop(ctx, handler, provider, deps, args, extra, sigB64)
	}
}

func x402FirstHop(ctx context.Context, provider x402Provider, deps Deps, extra Extra) (Result, error) {
	challengeID, requirement, err := provider.PaymentRequired(ctx, deps.Price.Amount, deps.Price.Currency, deps.ToolName)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
	}
	// v1 challenge-id synthesis is "{sessionId}-{toolName}" by default,
	// a known coarse scheme (spec §9 open question (a)) that this
	// implementation preserves rather than tightening unilaterally.
	if extra.SessionID != "" {
		challengeID = extra.SessionID + "-" + deps.ToolName
		requirement.Extra["challengeId"] = challengeID
	}

	if err := deps.Store.Set(ctx, challengeKey(challengeID), map[string]any{"requirement": requirementToMap(requirement)}, store.Options{}); err != nil {
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
	}

	doc, err := x402.EncodeRequirements(x402.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       "payment_required",
		Accepts:     []x402.PaymentRequirement{requirement},
	})
	if err != nil {
		return Result{}, err
	}
	pe := paymcp.NewPaymentError(paymcp.ErrPaymentRequired, "payment_required", 402, challengeID).
		WithData("x402/payment", doc).
		WithData("accepts", []x402.PaymentRequirement{requirement})
	return Result{}, pe
}

func x402SecondHop(ctx context.Context, handler Handler, provider x402Provider, deps Deps, args map[string]any, extra Extra, sigB64 string) (Result, error) {
	payload, err := x402.DecodePayment(sigB64)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrIncorrectSig, err)
	}

	challengeID := challengeIDFromEnvelope(sigB64, extra.SessionID, deps.ToolName)
	entry, ok, err := deps.Store.Get(ctx, challengeKey(challengeID))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", paymcp.ErrUnknownChallenge, challengeID)
	}
	requirement := requirementFromMap(entry.Args["requirement"])

	if err := matchesRequirement(sigB64, payload, requirement, challengeID); err != nil {
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrIncorrectSig, err)
	}

	status, err := provider.VerifyAndSettle(ctx, sigB64, requirement)
	if err != nil {
		if delErr := deps.Store.Delete(ctx, challengeKey(challengeID)); delErr != nil {
			deps.logger().Warn("x402: failed to delete challenge after verify error", "challenge_id", challengeID, "error", delErr)
		}
		return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
	}
	if paymcp.Normalize(status) != paymcp.StatusPaid {
		if delErr := deps.Store.Delete(ctx, challengeKey(challengeID)); delErr != nil {
			deps.logger().Warn("x402: failed to delete challenge after rejected payment", "challenge_id", challengeID, "error", delErr)
		}
		return Result{}, fmt.Errorf("%w: settlement did not succeed", paymcp.ErrProvider)
	}

	if err := deps.Store.Delete(ctx, challengeKey(challengeID)); err != nil {
		deps.logger().Warn("x402: failed to delete consumed challenge", "challenge_id", challengeID, "error", err)
	}
	return handler(ctx, args, extra)
}

func challengeKey(id string) string { return "x402-challenge-" + id }

// ChallengeKey exposes the X402 flow's store key for a given challenge
// id, so the C7 HTTP middleware (which persists a challenge before the
// MCP layer ever sees the call) and the flow's own second hop agree on
// where to find it.
func ChallengeKey(id string) string { return challengeKey(id) }

// RequirementToStoreValue exposes the map shape X402 stores a
// requirement under, so httpmw can persist a requirement it created at
// the HTTP layer in a form x402SecondHop's lookup understands.
func RequirementToStoreValue(r x402.PaymentRequirement) map[string]any {
	return map[string]any{"requirement": requirementToMap(r)}
}

// challengeIDFromEnvelope pulls a top-level "challengeId" field from the
// client's base64-encoded JSON envelope, alongside the structured
// PaymentPayload fields — the envelope is not restricted to
// PaymentPayload's own fields, since challengeId is a PayMCP-specific
// binding, not part of the x402 wire schema itself. Absent a
// challengeId, v1's coarser "{sessionId}-{toolName}" synthesis applies
// (spec §9 open question (a)).
func challengeIDFromEnvelope(sigB64, sessionID, toolName string) string {
	raw, err := x402Base64Decode(sigB64)
	if err == nil {
		var envelope map[string]any
		if json.Unmarshal(raw, &envelope) == nil {
			if id, ok := envelope["challengeId"].(string); ok && id != "" {
				return id
			}
		}
	}
	return sessionID + "-" + toolName
}

// matchesRequirement checks equality on amount, network, asset, payTo
// and challengeId with case-insensitive address comparison and
// string-level amount comparison, per spec §4.5.6. This runs before
// provider.VerifyAndSettle ever sees the payload, so a forged payload
// that merely gets the network and challengeId right is rejected
// locally instead of reaching the facilitator's /settle call.
func matchesRequirement(sigB64 string, payload x402.PaymentPayload, requirement x402.PaymentRequirement, challengeID string) error {
	if !strings.EqualFold(payload.Network, requirement.Network) {
		return fmt.Errorf("network mismatch")
	}
	want, _ := requirement.Extra["challengeId"].(string)
	if want != "" && !strings.EqualFold(want, challengeID) {
		return fmt.Errorf("challengeId mismatch")
	}

	netType, err := x402.ValidateNetwork(payload.Network)
	if err != nil {
		return fmt.Errorf("unrecognized network: %w", err)
	}
	switch netType {
	case x402.NetworkTypeEVM:
		var evm x402.EVMPayload
		if err := json.Unmarshal(payload.Payload, &evm); err != nil {
			return fmt.Errorf("invalid EVM payload: %w", err)
		}
		if !strings.EqualFold(evm.Authorization.To, requirement.PayTo) {
			return fmt.Errorf("payTo mismatch")
		}
		if evm.Authorization.Value != requirement.MaxAmountRequired {
			return fmt.Errorf("amount mismatch")
		}
	case x402.NetworkTypeSVM:
		// SVMPayload carries an opaque serialized transaction; payTo and
		// amount are bound into it and are only checkable by deserializing
		// and simulating it, which the facilitator does during /verify.
	}

	// asset is bound into the signed EIP-3009 domain rather than carried
	// as its own Authorization field, so it isn't independently checkable
	// against the scheme payload; fall back to a flat "asset" field on the
	// envelope itself, the same place challengeId is read from, when the
	// client supplies one.
	if raw, err := x402Base64Decode(sigB64); err == nil {
		var envelope map[string]any
		if json.Unmarshal(raw, &envelope) == nil {
			if asset, ok := envelope["asset"].(string); ok && asset != "" && !strings.EqualFold(asset, requirement.Asset) {
				return fmt.Errorf("asset mismatch")
			}
		}
	}
	return nil
}

func requirementToMap(r x402.PaymentRequirement) map[string]any {
	return map[string]any{
		"scheme": r.Scheme, "network": r.Network, "maxAmountRequired": r.MaxAmountRequired,
		"asset": r.Asset, "payTo": r.PayTo, "resource": r.Resource, "description": r.Description,
		"mimeType": r.MimeType, "maxTimeoutSeconds": r.MaxTimeoutSeconds, "extra": r.Extra,
	}
}

func requirementFromMap(v any) x402.PaymentRequirement {
	m, _ := v.(map[string]any)
	get := func(k string) string { s, _ := m[k].(string); return s }
	extra, _ := m["extra"].(map[string]any)
	timeout, _ := m["maxTimeoutSeconds"].(int)
	return x402.PaymentRequirement{
		Scheme: get("scheme"), Network: get("network"), MaxAmountRequired: get("maxAmountRequired"),
		Asset: get("asset"), PayTo: get("payTo"), Resource: get("resource"), Description: get("description"),
		MimeType: get("mimeType"), MaxTimeoutSeconds: timeout, Extra: extra,
	}
}
