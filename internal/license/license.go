package license

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// PrivateKeyEnvVar is the fallback source for the signing key when no key
// is passed explicitly.
const PrivateKeyEnvVar = "QOREDB_LICENSE_PRIVATE_KEY"

// Tier is the entitlement level encoded in a license payload.
type Tier string

// TierPro is the only tier sold today. The field exists in the payload so
// additional tiers can ship without a format change.
const TierPro Tier = "pro"

// Payload is the signed entitlement claim. Field declaration order is the
// canonical serialization order; changing it invalidates every issued key.
type Payload struct {
	Email     string  `json:"email"`
	Tier      Tier    `json:"tier"`
	IssuedAt  string  `json:"issued_at"`
	ExpiresAt *string `json:"expires_at"`
	PaymentID string  `json:"payment_id"`
}

// Envelope is the signed container that constitutes a license key once
// base64-encoded as a whole.
type Envelope struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
}

// GenerateInput carries the inputs for Generate. Zero values select the
// defaults: TierPro, issued now, perpetual, key from the environment.
type GenerateInput struct {
	Email            string
	PaymentID        string
	Tier             Tier
	IssuedAt         string
	ExpiresAt        *string
	PrivateKeyBase64 string
}

// Verification is the outcome of Verify. A signature mismatch is a normal
// outcome (Valid=false), not an error.
type Verification struct {
	Valid   bool
	Payload *Payload
}

// NormalizeEmail lowercases and trims a purchaser email so lookups and
// signed payloads agree on a single spelling.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// decodeBase64 accepts standard or URL-safe alphabets, with or without
// padding.
func decodeBase64(value string) ([]byte, error) {
	s := strings.TrimSpace(value)
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.StdEncoding.DecodeString(s)
}

// readPrivateKey resolves the Ed25519 seed from the provided key or the
// environment. 64-byte inputs are treated as seed||publicKey.
func readPrivateKey(provided string) (ed25519.PrivateKey, error) {
	raw := provided
	if raw == "" {
		raw = os.Getenv(PrivateKeyEnvVar)
	}
	if raw == "" {
		return nil, ErrSigningKeyMissing
	}

	bytes, err := decodeBase64(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}

	switch len(bytes) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(bytes), nil
	case 2 * ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(bytes[:ed25519.SeedSize]), nil
	default:
		return nil, ErrInvalidSigningKey
	}
}

// Generate builds a license payload, signs it and returns the encoded
// envelope string surfaced to purchasers as "the license key".
func Generate(input GenerateInput) (string, error) {
	priv, err := readPrivateKey(input.PrivateKeyBase64)
	if err != nil {
		return "", err
	}

	tier := input.Tier
	if tier == "" {
		tier = TierPro
	}
	issuedAt := input.IssuedAt
	if issuedAt == "" {
		issuedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	payload := Payload{
		Email:     NormalizeEmail(input.Email),
		Tier:      tier,
		IssuedAt:  issuedAt,
		ExpiresAt: input.ExpiresAt,
		PaymentID: input.PaymentID,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("license: marshal payload: %w", err)
	}

	envelope := Envelope{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payloadBytes)),
	}

	envelopeBytes, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("license: marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(envelopeBytes), nil
}

// Decode unwraps a license key string into its envelope without verifying
// the signature.
func Decode(licenseKey string) (*Envelope, error) {
	raw, err := decodeBase64(licenseKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLicense, err)
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLicense, err)
	}
	if envelope.Payload == (Payload{}) || envelope.Signature == "" {
		return nil, ErrMalformedLicense
	}
	return &envelope, nil
}

// Verify checks a license key against a public key. Decode failures are
// errors; a signature that simply does not match reports Valid=false.
func Verify(licenseKey, publicKeyBase64 string) (Verification, error) {
	envelope, err := Decode(licenseKey)
	if err != nil {
		return Verification{}, err
	}

	signature, err := decodeBase64(envelope.Signature)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: %v", ErrMalformedLicense, err)
	}
	pub, err := decodeBase64(publicKeyBase64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return Verification{}, ErrInvalidPublicKey
	}

	// Re-serializing the decoded payload reproduces the signed bytes
	// exactly because field order and encoding are fixed by the struct.
	payloadBytes, err := json.Marshal(envelope.Payload)
	if err != nil {
		return Verification{}, fmt.Errorf("license: marshal payload: %w", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), payloadBytes, signature) {
		return Verification{Valid: false}, nil
	}
	payload := envelope.Payload
	return Verification{Valid: true, Payload: &payload}, nil
}

// DerivePublicKey returns the base64 public key matching a private key.
// Used for key provisioning and tests, never on the request path.
func DerivePublicKey(privateKeyBase64 string) (string, error) {
	priv, err := readPrivateKey(privateKeyBase64)
	if err != nil {
		return "", err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub), nil
}

// NewKeyPair generates a fresh keypair, returning (publicKey, privateSeed)
// both base64-encoded.
func NewKeyPair() (string, string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("license: generate keypair: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub),
		base64.StdEncoding.EncodeToString(priv.Seed()), nil
}
