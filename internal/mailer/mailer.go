// Package mailer delivers license keys through the transactional email
// provider. Delivery failure is expected to be survivable: callers keep
// the generated license and surface the error through entitlement
// metadata instead of rolling anything back.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.resend.com"

const licenseSubject = "Your QoreDB Pro license key"

// ErrNotConfigured means no email API key is configured. The webhook
// path logs this as a skip; the self-service resend path fails on it.
var ErrNotConfigured = errors.New("mailer: email api key not configured")

// DeliveryError wraps a failed send attempt.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "mailer: delivery failed: " + e.Err.Error() }
func (e *DeliveryError) Unwrap() error { return e.Err }

// Mailer sends a license key to a purchaser.
type Mailer interface {
	Send(ctx context.Context, email, licenseKey string) error
}

// Client posts license emails to the provider's REST API.
type Client struct {
	apiKey     string
	from       string
	baseURL    string
	httpClient *http.Client
}

// Config configures a Client. BaseURL exists for tests.
type Config struct {
	APIKey     string
	From       string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates an email client.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	from := cfg.From
	if from == "" {
		from = "QoreDB <licenses@qoredb.com>"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{apiKey: cfg.APIKey, from: from, baseURL: strings.TrimRight(base, "/"), httpClient: hc}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers the license key to the purchaser. Template markup stays
// out of scope here: the body carries the key and nothing else.
func (c *Client) Send(ctx context.Context, email, licenseKey string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      []string{email},
		Subject: licenseSubject,
		HTML: fmt.Sprintf(
			"<p>Thank you for purchasing QoreDB Pro.</p><p>Your license key:</p><pre>%s</pre>",
			licenseKey),
	})
	if err != nil {
		return &DeliveryError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &DeliveryError{Err: fmt.Errorf("email api returned %d: %s", resp.StatusCode, string(raw))}
	}
	return nil
}
