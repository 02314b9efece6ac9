package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// ErrNotFound is returned when the provider reports a missing record.
var ErrNotFound = errors.New("payments: record not found")

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payments: provider returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the payment provider's REST API using the secret key.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// ClientConfig configures a Client. BaseURL and HTTPClient are optional
// and exist mainly so tests can point the client at a mock server.
type ClientConfig struct {
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a provider client.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(base, "/"), secretKey: cfg.SecretKey, httpClient: hc}
}

// do issues a request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("payments: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("payments: decode response: %w", err)
		}
	}
	return nil
}

// metadataForm flattens a metadata patch into the provider's form encoding.
// The provider merges keys server-side; keys absent from the form are kept.
func metadataForm(metadata map[string]string) url.Values {
	form := url.Values{}
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
	return form
}

// RetrievePaymentIntent fetches a payment record with its latest charge
// expanded so billing email fallback works.
func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := "/payment_intents/" + url.PathEscape(id) + "?expand[]=latest_charge"
	if err := c.do(ctx, http.MethodGet, path, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// UpdatePaymentIntentMetadata merges a metadata patch onto a payment record.
func (c *Client) UpdatePaymentIntentMetadata(ctx context.Context, id string, metadata map[string]string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := "/payment_intents/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPost, path, metadataForm(metadata), &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// SearchPaymentIntents runs the provider's indexed metadata search.
func (c *Client) SearchPaymentIntents(ctx context.Context, query string, limit int) ([]*PaymentIntent, error) {
	q := url.Values{}
	q.Set("query", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var list listResponse
	if err := c.do(ctx, http.MethodGet, "/payment_intents/search?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// ListPaymentIntents returns the most recent payment records, newest first.
func (c *Client) ListPaymentIntents(ctx context.Context, limit int) ([]*PaymentIntent, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var list listResponse
	if err := c.do(ctx, http.MethodGet, "/payment_intents?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// RetrieveCheckoutSession fetches a checkout session record.
func (c *Client) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	var session CheckoutSession
	path := "/checkout/sessions/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateCheckoutSessionMetadata merges a metadata patch onto a session record.
func (c *Client) UpdateCheckoutSessionMetadata(ctx context.Context, id string, metadata map[string]string) (*CheckoutSession, error) {
	var session CheckoutSession
	path := "/checkout/sessions/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPost, path, metadataForm(metadata), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CheckoutParams are the inputs for creating a hosted checkout session.
type CheckoutParams struct {
	PriceID       string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

// CreateCheckoutSession creates a single-item hosted checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("allow_promotion_codes", "true")
	form.Set("billing_address_collection", "auto")
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}
	for k, v := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RetrievePrice fetches a catalog price.
func (c *Client) RetrievePrice(ctx context.Context, id string) (*Price, error) {
	var price Price
	if err := c.do(ctx, http.MethodGet, "/prices/"+url.PathEscape(id), nil, &price); err != nil {
		return nil, err
	}
	return &price, nil
}
