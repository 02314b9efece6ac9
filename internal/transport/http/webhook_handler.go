package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "qoredb/internal/errors"
	"qoredb/internal/payments"
)

// maxWebhookBody bounds the webhook payload read.
const maxWebhookBody = 1 << 20

// IssuanceService is the slice of the services layer the webhook
// handler dispatches into.
type IssuanceService interface {
	HandleCheckoutCompleted(ctx context.Context, session *payments.CheckoutSession) error
	HandlePaymentFailed(ctx context.Context, intent *payments.PaymentIntent) error
	HandleChargeRefunded(ctx context.Context, charge *payments.Charge) error
}

// WebhookHandler receives and verifies payment provider webhooks.
type WebhookHandler struct {
	service IssuanceService
	secret  string
	logger  *slog.Logger
}

// NewWebhookHandler creates the webhook handler. secret is the shared
// webhook signing secret from the provider dashboard.
func NewWebhookHandler(service IssuanceService, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		secret:  secret,
		logger:  logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns the chi router for /api/webhooks.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/payment", h.HandleEvent)
	return r
}

// webhookAck is the body returned for accepted events.
type webhookAck struct {
	Received bool `json:"received"`
}

// HandleEvent handles POST /api/webhooks/payment. A failed signature
// check is a 400; a handler failure is a 500 so the provider retries
// the delivery; everything else acks with 200, including event types
// this service does not care about.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidRequest))
		return
	}

	event, err := payments.ConstructEvent(payload, r.Header.Get(payments.SignatureHeader), h.secret)
	if err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidSignature))
		return
	}

	h.logger.InfoContext(ctx, "webhook event received",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type))

	if err := h.dispatch(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "webhook handler failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}

	render.JSON(w, r, webhookAck{Received: true})
}

func (h *WebhookHandler) dispatch(ctx context.Context, event *payments.Event) error {
	switch event.Type {
	case payments.EventCheckoutCompleted:
		var session payments.CheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return h.service.HandleCheckoutCompleted(ctx, &session)

	case payments.EventPaymentFailed:
		var intent payments.PaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return fmt.Errorf("decode payment intent: %w", err)
		}
		return h.service.HandlePaymentFailed(ctx, &intent)

	case payments.EventChargeRefunded:
		var charge payments.Charge
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return fmt.Errorf("decode charge: %w", err)
		}
		return h.service.HandleChargeRefunded(ctx, &charge)

	default:
		h.logger.DebugContext(ctx, "ignoring unhandled event type",
			slog.String("event_type", event.Type))
		return nil
	}
}
