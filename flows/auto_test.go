package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/provider/mock"
)

func TestAutoDispatchesToX402WhenProviderSpeaksIt(t *testing.T) {
	deps := testX402Deps(t, "https://facilitator.invalid")
	wrapped := Auto(Elicitation(ElicitationConfig{}))(echoHandler, deps)

	_, err := wrapped(context.Background(), map[string]any{}, Extra{SessionID: "sess1"})
	var pe *paymcp.PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected the X402 flow's PaymentError, got %v", err)
	}
}

func TestAutoDispatchesToElicitationWhenClientAdvertisesIt(t *testing.T) {
	deps := testDeps(t, mock.New())
	deps.Sessions = func(sessionID string) (paymcp.SessionInfo, bool) {
		return paymcp.SessionInfo{Capabilities: map[string]any{"elicitation": true}}, true
	}
	requestedElicitation := false
	wrapped := Auto(func(handler Handler, d Deps) Handler {
		requestedElicitation = true
		return Elicitation(ElicitationConfig{})(handler, d)
	})(echoHandler, deps)

	_, err := wrapped(context.Background(), map[string]any{}, Extra{SessionID: "sess1"})
	if !errors.Is(err, paymcp.ErrUnsupportedFlow) {
		t.Fatalf("expected elicitation's missing-SendRequest error, got %v", err)
	}
	if !requestedElicitation {
		t.Errorf("expected Auto to build the elicitation wrapper")
	}
}

func TestAutoFallsBackToResubmit(t *testing.T) {
	deps := testDeps(t, mock.New())
	wrapped := Auto(Elicitation(ElicitationConfig{}))(echoHandler, deps)

	_, err := wrapped(context.Background(), map[string]any{}, Extra{SessionID: "sess1"})
	var pe *paymcp.PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected RESUBMIT's PaymentError, got %v", err)
	}
	if pe.Kind != "payment_required" {
		t.Errorf("unexpected payment error kind: %q", pe.Kind)
	}
}

func TestResolveModeTable(t *testing.T) {
	cases := []struct {
		name             string
		requested        Mode
		hasX402Provider  bool
		onlyX402         bool
		wantResolved     Mode
		wantWarningEmpty bool
	}{
		{"x402 requested without provider falls back", ModeX402, false, false, ModeResubmit, false},
		{"x402 requested with provider", ModeX402, true, false, ModeX402, true},
		{"resubmit without x402 provider", ModeResubmit, false, false, ModeResubmit, true},
		{"resubmit downgrades to auto", ModeResubmit, true, false, ModeAuto, false},
		{"resubmit collapses to x402 when exclusive", ModeResubmit, true, true, ModeX402, false},
		{"auto without x402 provider stays auto", ModeAuto, false, false, ModeAuto, true},
		{"auto resolves to x402", ModeAuto, true, false, ModeX402, true},
		{"two_step without x402 provider unchanged", ModeTwoStep, false, false, ModeTwoStep, true},
		{"two_step downgrades to auto", ModeTwoStep, true, false, ModeAuto, false},
		{"two_step collapses to x402 when exclusive", ModeTwoStep, true, true, ModeX402, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resolved, warning := ResolveMode(c.requested, c.hasX402Provider, c.onlyX402)
			if resolved != c.wantResolved {
				t.Errorf("resolved = %q, want %q", resolved, c.wantResolved)
			}
			if c.wantWarningEmpty && warning != "" {
				t.Errorf("expected no warning, got %q", warning)
			}
			if !c.wantWarningEmpty && warning == "" {
				t.Errorf("expected a warning, got none")
			}
		})
	}
}
