package license

import "errors"

var (
	// ErrSigningKeyMissing means no private key was supplied and none is
	// configured in the environment. Surfaced as a configuration error (500).
	ErrSigningKeyMissing = errors.New("license: signing key missing")

	// ErrInvalidSigningKey means the key decoded to an unsupported length.
	ErrInvalidSigningKey = errors.New("license: signing key must decode to 32 or 64 bytes")

	// ErrMalformedLicense means a license key string could not be decoded
	// into an envelope with both payload and signature.
	ErrMalformedLicense = errors.New("license: malformed license envelope")

	// ErrInvalidPublicKey means the public key did not decode to 32 bytes.
	ErrInvalidPublicKey = errors.New("license: public key must decode to 32 bytes")
)
