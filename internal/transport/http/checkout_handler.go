package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "qoredb/internal/errors"
	"qoredb/internal/payments"
)

// CheckoutProvider is the slice of the payments client the checkout
// handler depends on.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, params payments.CheckoutParams) (*payments.CheckoutSession, error)
	RetrievePrice(ctx context.Context, id string) (*payments.Price, error)
}

// CheckoutConfig holds the checkout handler configuration.
type CheckoutConfig struct {
	PriceID     string
	SiteBaseURL string
	// PriceCacheTTL bounds how long the pricing endpoint serves a
	// cached price. Zero means 5 minutes.
	PriceCacheTTL time.Duration
}

// CheckoutHandler serves checkout session creation and the public
// pricing endpoint.
type CheckoutHandler struct {
	provider CheckoutProvider
	cfg      CheckoutConfig
	logger   *slog.Logger

	priceMu       sync.Mutex
	cachedPrice   *payments.Price
	priceCachedAt time.Time
}

// NewCheckoutHandler creates the checkout handler.
func NewCheckoutHandler(provider CheckoutProvider, cfg CheckoutConfig, logger *slog.Logger) *CheckoutHandler {
	if cfg.PriceCacheTTL <= 0 {
		cfg.PriceCacheTTL = 5 * time.Minute
	}
	return &CheckoutHandler{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(slog.String("handler", "checkout")),
	}
}

// Routes returns the chi router for checkout endpoints.
func (h *CheckoutHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateSession)
	return r
}

// CheckoutRequest is the checkout creation payload. Email is optional;
// when present the provider prefills it on the hosted page.
type CheckoutRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

// Bind implements render.Binder.
func (req *CheckoutRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// CheckoutResponse carries the hosted checkout URL.
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateSession handles POST /api/checkout.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &CheckoutRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	session, err := h.provider.CreateCheckoutSession(ctx, payments.CheckoutParams{
		PriceID:       h.cfg.PriceID,
		SuccessURL:    h.cfg.SiteBaseURL + "/license/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     h.cfg.SiteBaseURL + "/pricing",
		CustomerEmail: req.Email,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "checkout session creation failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.UpstreamError("checkout", err)))
		return
	}

	h.logger.InfoContext(ctx, "checkout session created",
		slog.String("session_id", session.ID))
	render.JSON(w, r, &CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// PricingResponse is the public price of a Pro license.
type PricingResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	PriceID  string `json:"priceId"`
}

// Pricing handles GET /api/pricing. The price is cached: the catalog
// changes rarely and the endpoint sits on the public pricing page.
func (h *CheckoutHandler) Pricing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	price, err := h.currentPrice(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "price lookup failed",
			slog.String("price_id", h.cfg.PriceID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.UpstreamError("pricing", err)))
		return
	}

	render.JSON(w, r, &PricingResponse{
		Amount:   price.UnitAmount,
		Currency: price.Currency,
		PriceID:  price.ID,
	})
}

func (h *CheckoutHandler) currentPrice(ctx context.Context) (*payments.Price, error) {
	h.priceMu.Lock()
	defer h.priceMu.Unlock()

	if h.cachedPrice != nil && time.Since(h.priceCachedAt) < h.cfg.PriceCacheTTL {
		return h.cachedPrice, nil
	}

	price, err := h.provider.RetrievePrice(ctx, h.cfg.PriceID)
	if err != nil {
		// Serve the stale price rather than failing the pricing page.
		if h.cachedPrice != nil {
			return h.cachedPrice, nil
		}
		return nil, err
	}

	h.cachedPrice = price
	h.priceCachedAt = time.Now()
	return price, nil
}
