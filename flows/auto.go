package flows

import (
	"context"

	"github.com/paymcp/paymcp-go"
)

// Auto implements spec §4.5.7/§4.5.8: per invocation, dispatch to X402
// if the configured provider speaks it, else to ELICITATION if the
// calling client advertised elicitation support at initialize, else to
// RESUBMIT.
func Auto(elicitation Wrapper) Wrapper {
	return func(handler Handler, deps Deps) Handler {
		resubmitHandler := Resubmit(handler, deps)
		elicitationHandler := elicitation(handler, deps)
		var x402Handler Handler
		if _, ok := deps.Provider.(x402Provider); ok {
			x402Handler = X402(handler, deps)
		}

		return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
			if x402Handler != nil {
				return x402Handler(ctx, args, extra)
			}
			if deps.Sessions != nil {
				if info, ok := deps.Sessions(extra.SessionID); ok && info.AdvertisesCapability("elicitation") {
					return elicitationHandler(ctx, args, extra)
				}
			}
			return resubmitHandler(ctx, args, extra)
		}
	}
}

// Supersedes reports whether an X402-capable provider supersedes mode
// per spec §4.5.8's compatibility table: X402 always wins when present,
// regardless of the requested mode, except when mode is itself X402 and
// no X402 provider is configured (in which case the table says fall
// back to RESUBMIT — ResolveMode below encodes the whole table).
func Supersedes(hasX402Provider bool) bool { return hasX402Provider }

// Mode names the six flow identifiers spec §4.5 defines plus AUTO.
type Mode string

const (
	ModeTwoStep      Mode = "TWO_STEP"
	ModeElicitation  Mode = "ELICITATION"
	ModeProgress     Mode = "PROGRESS"
	ModeDynamicTools Mode = "DYNAMIC_TOOLS"
	ModeResubmit     Mode = "RESUBMIT"
	ModeX402         Mode = "X402"
	ModeAuto         Mode = "AUTO"
)

// ResolveMode applies spec §4.5.8's mode/flow compatibility table,
// returning the Mode to actually wrap a tool with, plus a warning string
// when the requested mode was downgraded. onlyX402 reports whether the
// only configured provider speaks X402 (no alternative channel exists),
// in which case TWO_STEP/ELICITATION/PROGRESS/DYNAMIC_TOOLS/RESUBMIT all
// collapse straight to X402 instead of AUTO.
func ResolveMode(requested Mode, hasX402Provider, onlyX402 bool) (resolved Mode, warning string) {
	switch requested {
	case ModeX402:
		if !hasX402Provider {
			return ModeResubmit, "X402 mode requested but no X402 provider configured; falling back to RESUBMIT"
		}
		return ModeX402, ""
	case ModeResubmit:
		if hasX402Provider {
			if onlyX402 {
				return ModeX402, "RESUBMIT requested but X402 is the only configured provider; using X402"
			}
			return ModeAuto, "RESUBMIT requested but an X402 provider is configured; downgrading to AUTO"
		}
		return ModeResubmit, ""
	case ModeAuto:
		if hasX402Provider {
			return ModeX402, ""
		}
		return ModeAuto, ""
	default: // TWO_STEP, ELICITATION, PROGRESS, DYNAMIC_TOOLS
		if hasX402Provider {
			if onlyX402 {
				return ModeX402, string(requested) + " requested but X402 is the only configured provider; using X402"
			}
			return ModeAuto, string(requested) + " requested but an X402 provider is configured; downgrading to AUTO"
		}
		return requested, ""
	}
}
