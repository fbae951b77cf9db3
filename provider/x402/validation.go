package x402

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// ValidatePayTo checks that payTo is a well-formed address for network's
// chain family, using the same EVM/SVM classification as ValidateNetwork.
// The X402 provider calls this at construction time so a misconfigured
// recipient address fails fast instead of being silently embedded in
// every payment-requirements document it issues.
func ValidatePayTo(network, payTo string) error {
	netType, err := ValidateNetwork(network)
	if err != nil {
		return err
	}
	switch netType {
	case NetworkTypeEVM:
		if !common.IsHexAddress(payTo) {
			return fmt.Errorf("payTo: %q is not a valid EVM address", payTo)
		}
	case NetworkTypeSVM:
		if _, err := solana.PublicKeyFromBase58(payTo); err != nil {
			return fmt.Errorf("payTo: %q is not a valid Solana address: %w", payTo, err)
		}
	}
	return nil
}

// ChecksumEVMAddress returns addr in EIP-55 mixed-case checksum form. It
// assumes addr already passed ValidateEVMAddress/ValidatePayTo.
func ChecksumEVMAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}

// ValidatePaymentRequirement checks that req is well-formed beyond what
// Validate already covers: amount, network and asset/payTo addresses,
// scheme, and (for EVM networks) the EIP-3009 domain fields carried in
// Extra.
func ValidatePaymentRequirement(req PaymentRequirement) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	netType, err := ValidateNetwork(req.Network)
	if err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if err := ValidatePayTo(req.Network, req.PayTo); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if err := ValidatePayTo(req.Network, req.Asset); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}
	switch req.Scheme {
	case "exact", "max", "subscription":
	default:
		return fmt.Errorf("invalid requirement: unsupported scheme %s", req.Scheme)
	}
	if netType == NetworkTypeEVM && req.Extra != nil {
		if name, ok := req.Extra["name"].(string); ok && name == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 name cannot be empty")
		}
		if version, ok := req.Extra["version"].(string); ok && version == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 version cannot be empty")
		}
	}
	return nil
}

// ValidatePaymentPayload checks the envelope fields of a client-submitted
// PaymentPayload before it is dispatched to a scheme-specific decoder.
func ValidatePaymentPayload(payment PaymentPayload) error {
	if payment.X402Version != 1 {
		return fmt.Errorf("unsupported x402 version: %d", payment.X402Version)
	}
	if payment.Scheme == "" {
		return fmt.Errorf("scheme cannot be empty")
	}
	if _, err := ValidateNetwork(payment.Network); err != nil {
		return fmt.Errorf("invalid network: %w", err)
	}
	if payment.Payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}
	return nil
}
