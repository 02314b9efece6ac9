// Package license implements the signed-envelope license key scheme.
//
// A license key is the base64 encoding of a JSON envelope
// {payload, signature} where signature is an Ed25519 signature over the
// canonical JSON serialization of the payload. The package is pure: it
// performs no I/O and holds no state, so generation and verification can
// be exercised directly in tests and from the keygen CLI.
//
// Key material is accepted as base64 (standard or URL-safe alphabet).
// Private keys may be a bare 32-byte seed or a 64-byte seed||publicKey
// concatenation; only the first 32 bytes are used as the signing seed.
package license
