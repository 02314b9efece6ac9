package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyPair(t *testing.T) (pub, priv string) {
	t.Helper()
	pub, priv, err := NewKeyPair()
	require.NoError(t, err)
	return pub, priv
}

func TestGenerateAndVerifyRoundTrip(t *testing.T) {
	pub, priv := newTestKeyPair(t)

	key, err := Generate(GenerateInput{
		Email:            "  User@Example.COM ",
		PaymentID:        "pi_test_123",
		IssuedAt:         "2026-02-17T00:00:00Z",
		PrivateKeyBase64: priv,
	})
	require.NoError(t, err)

	decoded, err := Decode(key)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", decoded.Payload.Email)
	assert.Equal(t, TierPro, decoded.Payload.Tier)
	assert.Equal(t, "pi_test_123", decoded.Payload.PaymentID)
	assert.Nil(t, decoded.Payload.ExpiresAt)

	verification, err := Verify(key, pub)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
	require.NotNil(t, verification.Payload)
	assert.Equal(t, "user@example.com", verification.Payload.Email)
}

func TestGenerateDefaults(t *testing.T) {
	pub, priv := newTestKeyPair(t)

	before := time.Now().UTC()
	key, err := Generate(GenerateInput{
		Email:            "buyer@example.com",
		PaymentID:        "pi_defaults",
		PrivateKeyBase64: priv,
	})
	require.NoError(t, err)

	verification, err := Verify(key, pub)
	require.NoError(t, err)
	require.True(t, verification.Valid)

	issued, err := time.Parse(time.RFC3339Nano, verification.Payload.IssuedAt)
	require.NoError(t, err)
	assert.False(t, issued.Before(before.Add(-time.Second)))
	assert.Equal(t, TierPro, verification.Payload.Tier)
	assert.Nil(t, verification.Payload.ExpiresAt)
}

func TestGenerateKeyLengthTolerance(t *testing.T) {
	// Generate must behave identically for a 32-byte seed and the
	// 64-byte seed||publicKey concatenation of the same key.
	pubRaw, privRaw, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	seed32 := base64.StdEncoding.EncodeToString(privRaw.Seed())
	seed64 := base64.StdEncoding.EncodeToString(append(privRaw.Seed(), pubRaw...))
	pub := base64.StdEncoding.EncodeToString(pubRaw)

	input := GenerateInput{
		Email:     "buyer@example.com",
		PaymentID: "pi_seed",
		IssuedAt:  "2026-01-01T00:00:00Z",
	}

	input.PrivateKeyBase64 = seed32
	key32, err := Generate(input)
	require.NoError(t, err)

	input.PrivateKeyBase64 = seed64
	key64, err := Generate(input)
	require.NoError(t, err)

	assert.Equal(t, key32, key64)

	verification, err := Verify(key32, pub)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
}

func TestGenerateAcceptsURLSafeBase64(t *testing.T) {
	pub, priv := newTestKeyPair(t)
	urlSafe := base64.RawURLEncoding.EncodeToString(mustDecode(t, priv))

	key, err := Generate(GenerateInput{
		Email:            "buyer@example.com",
		PaymentID:        "pi_urlsafe",
		PrivateKeyBase64: urlSafe,
	})
	require.NoError(t, err)

	verification, err := Verify(key, pub)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
}

func TestGenerateMissingKey(t *testing.T) {
	t.Setenv(PrivateKeyEnvVar, "")
	_, err := Generate(GenerateInput{Email: "a@b.c", PaymentID: "pi_x"})
	assert.ErrorIs(t, err, ErrSigningKeyMissing)
}

func TestGenerateKeyFromEnvironment(t *testing.T) {
	pub, priv := newTestKeyPair(t)
	t.Setenv(PrivateKeyEnvVar, priv)

	key, err := Generate(GenerateInput{Email: "env@example.com", PaymentID: "pi_env"})
	require.NoError(t, err)

	verification, err := Verify(key, pub)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
}

func TestGenerateRejectsBadKeyLength(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	_, err := Generate(GenerateInput{
		Email:            "a@b.c",
		PaymentID:        "pi_x",
		PrivateKeyBase64: short,
	})
	assert.ErrorIs(t, err, ErrInvalidSigningKey)
}

func TestVerifyWrongKey(t *testing.T) {
	_, priv := newTestKeyPair(t)
	otherPub, _ := newTestKeyPair(t)

	key, err := Generate(GenerateInput{
		Email:            "buyer@example.com",
		PaymentID:        "pi_wrongkey",
		PrivateKeyBase64: priv,
	})
	require.NoError(t, err)

	verification, err := Verify(key, otherPub)
	require.NoError(t, err)
	assert.False(t, verification.Valid)
	assert.Nil(t, verification.Payload)
}

func TestVerifyTamperedPayload(t *testing.T) {
	pub, priv := newTestKeyPair(t)

	key, err := Generate(GenerateInput{
		Email:            "buyer@example.com",
		PaymentID:        "pi_tamper",
		PrivateKeyBase64: priv,
	})
	require.NoError(t, err)

	envelope, err := Decode(key)
	require.NoError(t, err)

	mutations := []func(p *Payload){
		func(p *Payload) { p.Email = "attacker@example.com" },
		func(p *Payload) { p.Tier = Tier("enterprise") },
		func(p *Payload) { p.IssuedAt = "1999-01-01T00:00:00Z" },
		func(p *Payload) { exp := "2999-01-01T00:00:00Z"; p.ExpiresAt = &exp },
		func(p *Payload) { p.PaymentID = "pi_other" },
	}

	for _, mutate := range mutations {
		tampered := *envelope
		mutate(&tampered.Payload)

		raw, err := json.Marshal(tampered)
		require.NoError(t, err)
		tamperedKey := base64.StdEncoding.EncodeToString(raw)

		verification, err := Verify(tamperedKey, pub)
		require.NoError(t, err)
		assert.False(t, verification.Valid)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("plain text"))},
		{"missing signature", base64.StdEncoding.EncodeToString([]byte(`{"payload":{"email":"a@b.c","tier":"pro","issued_at":"x","expires_at":null,"payment_id":"pi"}}`))},
		{"missing payload", base64.StdEncoding.EncodeToString([]byte(`{"signature":"abc"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.key)
			assert.ErrorIs(t, err, ErrMalformedLicense)
		})
	}
}

func TestDerivePublicKey(t *testing.T) {
	pub, priv := newTestKeyPair(t)

	derived, err := DerivePublicKey(priv)
	require.NoError(t, err)
	assert.Equal(t, pub, derived)
}

func mustDecode(t *testing.T, b64 string) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	return raw
}
