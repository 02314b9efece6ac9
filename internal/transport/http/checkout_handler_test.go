package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qoredb/internal/payments"
)

type fakeCheckoutProvider struct {
	session    *payments.CheckoutSession
	sessionErr error
	price      *payments.Price
	priceErr   error

	gotParams  payments.CheckoutParams
	priceCalls int
}

func (f *fakeCheckoutProvider) CreateCheckoutSession(_ context.Context, params payments.CheckoutParams) (*payments.CheckoutSession, error) {
	f.gotParams = params
	return f.session, f.sessionErr
}

func (f *fakeCheckoutProvider) RetrievePrice(_ context.Context, _ string) (*payments.Price, error) {
	f.priceCalls++
	return f.price, f.priceErr
}

func testCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		PriceID:     "price_pro",
		SiteBaseURL: "https://qoredb.com",
	}
}

func TestCreateSessionReturnsHostedURL(t *testing.T) {
	provider := &fakeCheckoutProvider{session: &payments.CheckoutSession{
		ID:  "cs_1",
		URL: "https://pay.example/cs_1",
	}}
	h := NewCheckoutHandler(provider, testCheckoutConfig(), slog.Default())

	w := postJSON(t, h.CreateSession, "/api/checkout", `{"email":"buyer@example.com"}`)

	require.Equal(t, http.StatusOK, w.Code)

	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cs_1", resp.SessionID)
	assert.Equal(t, "https://pay.example/cs_1", resp.URL)

	assert.Equal(t, "price_pro", provider.gotParams.PriceID)
	assert.Equal(t, "buyer@example.com", provider.gotParams.CustomerEmail)
	assert.Contains(t, provider.gotParams.SuccessURL, "{CHECKOUT_SESSION_ID}")
	assert.Equal(t, "https://qoredb.com/pricing", provider.gotParams.CancelURL)
}

func TestCreateSessionEmailOptional(t *testing.T) {
	provider := &fakeCheckoutProvider{session: &payments.CheckoutSession{ID: "cs_1"}}
	h := NewCheckoutHandler(provider, testCheckoutConfig(), slog.Default())

	w := postJSON(t, h.CreateSession, "/api/checkout", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, provider.gotParams.CustomerEmail)
}

func TestCreateSessionRejectsBadEmail(t *testing.T) {
	h := NewCheckoutHandler(&fakeCheckoutProvider{}, testCheckoutConfig(), slog.Default())
	w := postJSON(t, h.CreateSession, "/api/checkout", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSessionUpstreamFailure(t *testing.T) {
	provider := &fakeCheckoutProvider{sessionErr: errors.New("api down")}
	h := NewCheckoutHandler(provider, testCheckoutConfig(), slog.Default())

	w := postJSON(t, h.CreateSession, "/api/checkout", `{}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "UPSTREAM_ERROR")
}

func TestPricingCachesPrice(t *testing.T) {
	provider := &fakeCheckoutProvider{price: &payments.Price{
		ID:         "price_pro",
		UnitAmount: 4900,
		Currency:   "usd",
	}}
	h := NewCheckoutHandler(provider, testCheckoutConfig(), slog.Default())

	for range 3 {
		w := httptest.NewRecorder()
		h.Pricing(w, httptest.NewRequest(http.MethodGet, "/api/pricing", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 1, provider.priceCalls, "price served from cache after first fetch")
}

func TestPricingServesStaleOnUpstreamFailure(t *testing.T) {
	provider := &fakeCheckoutProvider{price: &payments.Price{ID: "price_pro", UnitAmount: 4900, Currency: "usd"}}
	cfg := testCheckoutConfig()
	cfg.PriceCacheTTL = time.Nanosecond
	h := NewCheckoutHandler(provider, cfg, slog.Default())

	w := httptest.NewRecorder()
	h.Pricing(w, httptest.NewRequest(http.MethodGet, "/api/pricing", nil))
	require.Equal(t, http.StatusOK, w.Code)

	provider.priceErr = errors.New("api down")
	provider.price = nil
	time.Sleep(time.Millisecond)

	w = httptest.NewRecorder()
	h.Pricing(w, httptest.NewRequest(http.MethodGet, "/api/pricing", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp PricingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(4900), resp.Amount)
}

func TestPricingFailsWithNoCache(t *testing.T) {
	provider := &fakeCheckoutProvider{priceErr: errors.New("api down")}
	h := NewCheckoutHandler(provider, testCheckoutConfig(), slog.Default())

	w := httptest.NewRecorder()
	h.Pricing(w, httptest.NewRequest(http.MethodGet, "/api/pricing", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
