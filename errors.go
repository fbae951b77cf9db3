// Package paymcp adds paywalls to individual tools exposed by an MCP server.
// Host applications register tools normally; paymcp intercepts registration
// and, for any tool annotated with a price, wraps its handler in one of
// several payment flows that mediate between the calling client, an
// external payment provider, and the original tool implementation.
package paymcp

import "errors"

// Sentinel errors for the error kinds named in the flow state machines.
// Flow code wraps these in a *PaymentError when protocol-level fields
// (payment id, retry data, HTTP/JSON-RPC status code) need to travel
// with the failure.
var (
	ErrPaymentRequired  = errors.New("payment required")
	ErrPaymentPending   = errors.New("payment pending")
	ErrPaymentCanceled  = errors.New("payment canceled")
	ErrPaymentUnknown   = errors.New("payment unknown")
	ErrPaymentNotFound  = errors.New("payment_id not found")
	ErrSubscriptionReq  = errors.New("subscription required")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrUnknownChallenge = errors.New("unknown challenge")
	ErrIncorrectSig     = errors.New("incorrect signature")
	ErrProvider         = errors.New("provider error")
	ErrLockFailed       = errors.New("lock acquisition failed")
	ErrUnsupportedFlow  = errors.New("unsupported flow")

	// ErrNoStateStore is returned when a flow that needs a state store
	// (RESUBMIT, TWO_STEP, X402) handles a call without one.
	ErrNoStateStore = errors.New("paymcp: no state store configured")
	// ErrInvalidPrice is fatal at construction/registration time.
	ErrInvalidPrice = errors.New("paymcp: invalid price")
	// ErrNoProvider is fatal when a priced tool has no matching provider.
	ErrNoProvider = errors.New("paymcp: no provider configured for priced tool")
)

// PaymentError carries a spec error kind plus the protocol fields that
// RESUBMIT/X402 attach to their thrown errors (code, data block). Flows
// that surface conditions as structured tool results instead of thrown
// errors (DYNAMIC_TOOLS, PROGRESS, TWO_STEP's confirmation path) do not
// need it.
type PaymentError struct {
	// Err is one of the sentinel errors above.
	Err error
	// Kind is the wire-level error string, e.g. "payment_required".
	Kind string
	// Code is the JSON-RPC/HTTP-ish status code, e.g. 402 or 404.
	Code int
	// PaymentID is the payment or challenge id this error concerns, if any.
	PaymentID string
	// Data carries the rest of the error's data block (payment_url,
	// retry_instructions, annotations).
	Data map[string]any
}

func (e *PaymentError) Error() string {
	if e.PaymentID != "" {
		return e.Kind + ": " + e.PaymentID
	}
	return e.Kind
}

func (e *PaymentError) Unwrap() error { return e.Err }

// NewPaymentError builds a PaymentError for kind/err with the given
// JSON-RPC-ish code and payment id; Data starts empty and callers attach
// payment_url/retry_instructions/annotations as needed via WithData.
func NewPaymentError(err error, kind string, code int, paymentID string) *PaymentError {
	return &PaymentError{Err: err, Kind: kind, Code: code, PaymentID: paymentID, Data: map[string]any{}}
}

// WithData merges key/value into the error's data block and returns the
// same error for chaining.
func (e *PaymentError) WithData(key string, value any) *PaymentError {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	e.Data[key] = value
	return e
}

// IsPaymentError reports whether err is, or wraps, a *PaymentError or one
// of the sentinel errors above.
func IsPaymentError(err error) bool {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return true
	}
	for _, sentinel := range []error{
		ErrPaymentRequired, ErrPaymentPending, ErrPaymentCanceled, ErrPaymentUnknown,
		ErrPaymentNotFound, ErrSubscriptionReq, ErrNotAuthorized, ErrUnknownChallenge,
		ErrIncorrectSig, ErrProvider, ErrLockFailed, ErrUnsupportedFlow,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
