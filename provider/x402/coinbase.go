package x402

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// CDPAuth signs Coinbase CDP Bearer JWTs for facilitator requests. It
// accepts the same key encodings CDP issues: a raw Ed25519 private key,
// an Ed25519 seed, or a PKCS8/SEC1 DER-encoded ECDSA key.
type CDPAuth struct {
	apiKeyName string
	privateKey crypto.Signer
}

// apiKeyClaims is the CDP Bearer JWT claims shape: standard registered
// claims plus a "uris" array binding the token to one request.
type apiKeyClaims struct {
	*jwt.Claims
	URIs []string `json:"uris,omitempty"`
}

// NewCDPAuth parses apiKeySecret and returns an auth hook bound to apiKeyName.
func NewCDPAuth(apiKeyName, apiKeySecret string) (*CDPAuth, error) {
	if apiKeyName == "" {
		return nil, fmt.Errorf("x402: CDP apiKeyName must not be empty")
	}
	keyBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(apiKeySecret))
	if err != nil {
		return nil, fmt.Errorf("x402: decoding CDP apiKeySecret: %w", err)
	}

	var key crypto.Signer
	switch {
	case len(keyBytes) == ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(keyBytes)
	case len(keyBytes) == ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(keyBytes)
	default:
		parsed, perr := x509.ParsePKCS8PrivateKey(keyBytes)
		if perr != nil {
			parsed, perr = x509.ParseECPrivateKey(keyBytes)
			if perr != nil {
				return nil, fmt.Errorf("x402: CDP apiKeySecret is not a recognized Ed25519/PKCS8/EC key: %w", perr)
			}
		}
		signer, ok := parsed.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("x402: CDP apiKeySecret parsed to unsupported key type %T", parsed)
		}
		key = signer
	}

	switch key.(type) {
	case *ecdsa.PrivateKey, ed25519.PrivateKey:
	default:
		return nil, fmt.Errorf("x402: unsupported CDP key type %T: must be ECDSA or Ed25519", key)
	}

	return &CDPAuth{apiKeyName: apiKeyName, privateKey: key}, nil
}

// Authorize builds the AuthProvider a Provider uses to sign facilitator
// requests with a 2-minute Bearer JWT, matching CDP's documented token
// lifetime.
func (a *CDPAuth) Authorize(ctx context.Context, method, host, path string) (string, error) {
	token, err := a.bearerToken(method, path, 2*time.Minute)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

func (a *CDPAuth) bearerToken(method, path string, expiry time.Duration) (string, error) {
	var alg jose.SignatureAlgorithm
	switch a.privateKey.(type) {
	case *ecdsa.PrivateKey:
		alg = jose.ES256
	case ed25519.PrivateKey:
		alg = jose.EdDSA
	}

	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("x402: generating JWT nonce: %w", err)
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: a.privateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.apiKeyName).WithHeader("nonce", hex.EncodeToString(nonce)),
	)
	if err != nil {
		return "", fmt.Errorf("x402: creating JWT signer: %w", err)
	}

	now := time.Now()
	claims := &apiKeyClaims{
		Claims: &jwt.Claims{
			Subject:   a.apiKeyName,
			Issuer:    "cdp",
			Audience:  jwt.Audience{"cdp_service"},
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(expiry)),
		},
		URIs: []string{fmt.Sprintf("%s %s%s", method, "api.cdp.coinbase.com", path)},
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("x402: signing JWT: %w", err)
	}
	return token, nil
}
