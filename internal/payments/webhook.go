package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the header carrying the provider's event signature.
const SignatureHeader = "Webhook-Signature"

// DefaultTolerance bounds how old a signed timestamp may be before the
// event is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrInvalidSignature covers a missing, unparsable or mismatched
	// signature header.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")

	// ErrSignatureExpired means the signed timestamp fell outside the
	// replay tolerance window.
	ErrSignatureExpired = errors.New("payments: webhook signature timestamp outside tolerance")
)

// signedPayload computes the hex HMAC-SHA256 the provider signs:
// "<timestamp>.<raw body>" keyed with the endpoint secret.
func signedPayload(timestamp string, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseSignatureHeader splits "t=<ts>,v1=<sig>[,v1=<sig>...]".
func parseSignatureHeader(header string) (timestamp string, signatures []string, err error) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, ErrInvalidSignature
	}
	return timestamp, signatures, nil
}

// ConstructEvent verifies a webhook body against its signature header and
// parses it into an Event. Verification failure is an error; the caller
// responds 400 and the provider retries.
func ConstructEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	return constructEventAt(payload, sigHeader, secret, time.Now(), DefaultTolerance)
}

func constructEventAt(payload []byte, sigHeader, secret string, now time.Time, tolerance time.Duration) (*Event, error) {
	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return nil, ErrSignatureExpired
		}
	}

	expected := signedPayload(timestamp, payload, secret)
	matched := false
	for _, sig := range signatures {
		if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1 {
			matched = true
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("payments: decode event: %w", err)
	}
	return &event, nil
}

// SignPayload produces a valid signature header for a body. Used by tests
// and local tooling to emit provider-shaped events.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, signedPayload(ts, payload, secret))
}
