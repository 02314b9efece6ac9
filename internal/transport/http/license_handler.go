package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "qoredb/internal/errors"
	"qoredb/internal/mailer"
	"qoredb/internal/services"
)

var validate = validator.New()

// LicenseService is the slice of the services layer the license
// handler depends on.
type LicenseService interface {
	Status(ctx context.Context, email, paymentID string) (*services.StatusResponse, error)
	Resend(ctx context.Context, email string) error
}

// LicenseHandler serves the self-service license endpoints.
type LicenseHandler struct {
	service LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates the license handler.
func NewLicenseHandler(service LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the chi router for /api/license.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Post("/status", h.Status)
	r.Post("/resend", h.Resend)
	return r
}

// StatusRequest is the license status lookup payload. Both fields are
// required: the payment reference alone is not enough to view a
// purchase.
type StatusRequest struct {
	Email     string `json:"email" validate:"required,email"`
	PaymentID string `json:"paymentId" validate:"required"`
}

// Bind implements render.Binder.
func (req *StatusRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// ResendRequest is the license resend payload.
type ResendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Bind implements render.Binder.
func (req *ResendRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// StatusOnlyResponse is the minimal body used for resend
// acknowledgements and not-found lookups. The not-found shape carries
// nothing beyond the status on purpose.
type StatusOnlyResponse struct {
	Status string `json:"status"`
}

// Status handles POST /api/license/status.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &StatusRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	resp, err := h.service.Status(ctx, req.Email, req.PaymentID)
	if err != nil {
		h.renderError(w, r, err, "status lookup")
		return
	}

	render.JSON(w, r, resp)
}

// Resend handles POST /api/license/resend.
func (h *LicenseHandler) Resend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ResendRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	if err := h.service.Resend(ctx, req.Email); err != nil {
		h.renderError(w, r, err, "resend")
		return
	}

	render.JSON(w, r, &StatusOnlyResponse{Status: "sent"})
}

// renderError maps service errors onto the API error vocabulary. Not
// found stays deliberately vague.
func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	ctx := r.Context()

	var deliveryErr *mailer.DeliveryError

	switch {
	case errors.Is(err, services.ErrNotFound):
		// Same body for an unknown reference and a wrong email on a
		// known one.
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, &StatusOnlyResponse{Status: "not_found"})
	case errors.Is(err, services.ErrInvalidState):
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrPaymentNotCompleted))
	case errors.Is(err, mailer.ErrNotConfigured):
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrServiceUnavailable))
	case errors.As(err, &deliveryErr):
		h.logger.ErrorContext(ctx, "license email delivery failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrDeliveryFailed))
	default:
		h.logger.ErrorContext(ctx, "license request failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
	}
}
