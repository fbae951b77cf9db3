package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodePayment converts a PaymentPayload to base64-encoded JSON, the
// form a client submits back on resubmission (the X402 flow reads it
// from _meta["x402/payment"]).
func EncodePayment(payment PaymentPayload) (string, error) {
	raw, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("x402: marshaling payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayment reverses EncodePayment.
func DecodePayment(encoded string) (PaymentPayload, error) {
	var payment PaymentPayload
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("x402: decoding base64 payment payload: %w", err)
	}
	if err := json.Unmarshal(raw, &payment); err != nil {
		return payment, fmt.Errorf("x402: unmarshaling payment payload: %w", err)
	}
	return payment, nil
}

// EncodeRequirements converts a PaymentRequirementsResponse to base64-encoded
// JSON, the form the X402 flow puts under "x402/payment" in its
// payment_required error's data and httpmw sends as its 402 challenge.
func EncodeRequirements(requirements PaymentRequirementsResponse) (string, error) {
	raw, err := json.Marshal(requirements)
	if err != nil {
		return "", fmt.Errorf("x402: marshaling requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeRequirements reverses EncodeRequirements.
func DecodeRequirements(encoded string) (PaymentRequirementsResponse, error) {
	var requirements PaymentRequirementsResponse
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return requirements, fmt.Errorf("x402: decoding base64 requirements: %w", err)
	}
	if err := json.Unmarshal(raw, &requirements); err != nil {
		return requirements, fmt.Errorf("x402: unmarshaling requirements: %w", err)
	}
	return requirements, nil
}
