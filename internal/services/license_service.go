package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qoredb/internal/license"
	"qoredb/internal/mailer"
	"qoredb/internal/store"
)

// StatusResponse is the self-service view of a purchase. LicenseKey is
// nil until a license has been generated.
type StatusResponse struct {
	Status     string  `json:"status"`
	PaymentID  string  `json:"paymentId"`
	LicenseKey *string `json:"licenseKey"`
	Amount     int64   `json:"amount"`
	Currency   string  `json:"currency"`
	CreatedAt  string  `json:"createdAt"`
}

// LicenseService implements the purchaser-facing license operations.
type LicenseService struct {
	store      EntitlementStore
	mailer     mailer.Mailer
	signingKey string
	logger     *slog.Logger
}

// NewLicenseService creates the self-service license operations.
func NewLicenseService(entStore EntitlementStore, m mailer.Mailer, signingKey string, logger *slog.Logger) *LicenseService {
	return &LicenseService{
		store:      entStore,
		mailer:     m,
		signingKey: signingKey,
		logger:     logger.With(slog.String("component", "license_service")),
	}
}

// Status looks up a purchase by payment reference and verifies the caller
// knows the purchaser email. A wrong email and a nonexistent reference
// produce the same ErrNotFound so references cannot be enumerated.
func (s *LicenseService) Status(ctx context.Context, email, paymentID string) (*StatusResponse, error) {
	rec, err := s.store.FindPaymentByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	normalized := license.NormalizeEmail(email)
	recordEmail := rec.CustomerEmail()
	if recordEmail == "" || recordEmail != normalized {
		return nil, ErrNotFound
	}

	status := rec.Metadata[store.MetaPaymentStatus]
	if status == "" {
		if rec.Succeeded() {
			status = store.StatusActive
		} else {
			status = store.StatusFailed
		}
	}

	var licenseKey *string
	if key := rec.LicenseKey(); key != "" {
		licenseKey = &key
	}

	return &StatusResponse{
		Status:     status,
		PaymentID:  rec.ID,
		LicenseKey: licenseKey,
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		CreatedAt:  time.Unix(rec.Created, 0).UTC().Format(time.RFC3339),
	}, nil
}

// Resend re-delivers a purchaser's license, generating and persisting one
// first if it is missing. Unlike the webhook path it always attempts
// delivery: an explicit resend bypasses the send-once guard by design.
func (s *LicenseService) Resend(ctx context.Context, email string) error {
	normalized := license.NormalizeEmail(email)

	rec, err := s.store.FindByEmail(ctx, normalized)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	if !rec.Succeeded() {
		return ErrInvalidState
	}
	// A refund keeps the provider-side payment succeeded; the entitlement
	// status is what gets flipped.
	if status := rec.Metadata[store.MetaPaymentStatus]; status == store.StatusRefunded || status == store.StatusFailed {
		return ErrInvalidState
	}

	licenseKey := rec.LicenseKey()
	if licenseKey == "" {
		licenseKey, err = license.Generate(license.GenerateInput{
			Email:            normalized,
			PaymentID:        rec.ID,
			PrivateKeyBase64: s.signingKey,
		})
		if err != nil {
			return err
		}
		if err := s.store.Write(ctx, rec, map[string]string{
			store.MetaLicenseKey:    licenseKey,
			store.MetaCustomerEmail: normalized,
			store.MetaPaymentStatus: store.StatusActive,
		}); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "license generated on resend",
			slog.String("reference", rec.ID))
	}

	if err := s.mailer.Send(ctx, normalized, licenseKey); err != nil {
		return fmt.Errorf("resend delivery: %w", err)
	}
	s.logger.InfoContext(ctx, "license resent", slog.String("reference", rec.ID))
	return nil
}
