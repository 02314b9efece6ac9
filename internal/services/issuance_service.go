package services

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"qoredb/internal/license"
	"qoredb/internal/mailer"
	"qoredb/internal/payments"
	"qoredb/internal/store"
)

// maxStoredErrorLen caps the delivery error message persisted to the
// entitlement record.
const maxStoredErrorLen = 400

// EntitlementStore is the slice of the store the services depend on.
type EntitlementStore interface {
	FindByEmail(ctx context.Context, email string) (*store.Record, error)
	FindPaymentByID(ctx context.Context, id string) (*store.Record, error)
	ResolveForSession(ctx context.Context, session *payments.CheckoutSession) (*store.Record, error)
	Write(ctx context.Context, rec *store.Record, patch map[string]string) error
}

// IssuanceService reacts to payment lifecycle events. It owns the single
// place where licenses are generated for completed checkouts and keeps
// every step idempotent against webhook redelivery.
//
// Idempotency is best-effort: the provider offers no conditional write,
// so two concurrent deliveries can both generate a license. Both are
// valid signatures and the later metadata write wins.
type IssuanceService struct {
	store      EntitlementStore
	mailer     mailer.Mailer
	signingKey string
	logger     *slog.Logger
	now        func() time.Time

	licensesIssued metric.Int64Counter
	emailsSent     metric.Int64Counter
	emailFailures  metric.Int64Counter
}

// NewIssuanceService creates the orchestrator. signingKey may be empty,
// in which case the signing engine falls back to its environment key.
func NewIssuanceService(entStore EntitlementStore, m mailer.Mailer, signingKey string, logger *slog.Logger) *IssuanceService {
	meter := otel.Meter("qoredb/services")
	licensesIssued, _ := meter.Int64Counter("qoredb_licenses_issued_total",
		metric.WithDescription("Licenses generated for completed checkouts"))
	emailsSent, _ := meter.Int64Counter("qoredb_license_emails_sent_total",
		metric.WithDescription("License emails delivered"))
	emailFailures, _ := meter.Int64Counter("qoredb_license_email_failures_total",
		metric.WithDescription("License email delivery failures"))

	return &IssuanceService{
		store:          entStore,
		mailer:         m,
		signingKey:     signingKey,
		logger:         logger.With(slog.String("component", "issuance")),
		now:            time.Now,
		licensesIssued: licensesIssued,
		emailsSent:     emailsSent,
		emailFailures:  emailFailures,
	}
}

// HandleCheckoutCompleted drives the full issuance flow for a completed
// checkout session: resolve the entitlement record, generate-or-reuse the
// license key, persist it, then attempt delivery at most once per record.
func (s *IssuanceService) HandleCheckoutCompleted(ctx context.Context, session *payments.CheckoutSession) error {
	if session.PaymentStatus != payments.SessionStatusPaid {
		s.logger.InfoContext(ctx, "checkout completed but not paid, skipping",
			slog.String("session_id", session.ID),
			slog.String("payment_status", session.PaymentStatus))
		return nil
	}

	email := license.NormalizeEmail(session.Email())
	if email == "" {
		return ErrMissingIdentity
	}

	rec, err := s.store.ResolveForSession(ctx, session)
	if err != nil {
		return err
	}

	licenseKey := rec.LicenseKey()
	if licenseKey == "" {
		licenseKey, err = license.Generate(license.GenerateInput{
			Email:            email,
			PaymentID:        rec.ID,
			PrivateKeyBase64: s.signingKey,
		})
		if err != nil {
			return err
		}
		s.licensesIssued.Add(ctx, 1)
		s.logger.InfoContext(ctx, "license generated",
			slog.String("reference", rec.ID),
			slog.String("email", email))
	} else {
		s.logger.InfoContext(ctx, "license already present, reusing",
			slog.String("reference", rec.ID))
	}

	if err := s.store.Write(ctx, rec, map[string]string{
		store.MetaLicenseKey:    licenseKey,
		store.MetaCustomerEmail: email,
		store.MetaPaymentStatus: store.StatusActive,
	}); err != nil {
		return err
	}

	if rec.Metadata[store.MetaLicenseSentAt] != "" {
		s.logger.InfoContext(ctx, "license already delivered, skipping send",
			slog.String("reference", rec.ID))
		return nil
	}

	return s.deliver(ctx, rec, email, licenseKey)
}

// deliver attempts the license email. A failure is recorded on the
// entitlement record and swallowed: the license key is already persisted
// and retrievable through self-service resend.
func (s *IssuanceService) deliver(ctx context.Context, rec *store.Record, email, licenseKey string) error {
	err := s.mailer.Send(ctx, email, licenseKey)
	if err == nil {
		s.emailsSent.Add(ctx, 1)
		s.logger.InfoContext(ctx, "license delivered",
			slog.String("reference", rec.ID),
			slog.String("email", email))
		return s.store.Write(ctx, rec, map[string]string{
			store.MetaLicenseSentAt:  s.now().UTC().Format(time.RFC3339),
			store.MetaLastEmailError: "",
		})
	}

	if errors.Is(err, mailer.ErrNotConfigured) {
		s.logger.WarnContext(ctx, "email delivery not configured, skipping send",
			slog.String("reference", rec.ID))
		return nil
	}

	s.emailFailures.Add(ctx, 1)
	s.logger.ErrorContext(ctx, "license email failed, license remains generated",
		slog.String("reference", rec.ID),
		slog.String("error", err.Error()))
	return s.store.Write(ctx, rec, map[string]string{
		store.MetaLastEmailError: truncate(err.Error(), maxStoredErrorLen),
	})
}

// HandlePaymentFailed marks the entitlement failed. License fields, if
// any, are left untouched.
func (s *IssuanceService) HandlePaymentFailed(ctx context.Context, intent *payments.PaymentIntent) error {
	s.logger.WarnContext(ctx, "payment failed", slog.String("payment_id", intent.ID))
	rec := &store.Record{Kind: store.KindPayment, ID: intent.ID, Metadata: map[string]string{}}
	return s.store.Write(ctx, rec, map[string]string{
		store.MetaPaymentStatus: store.StatusFailed,
	})
}

// HandleChargeRefunded marks the entitlement refunded. The issued license
// is not revoked; expiry enforcement is the consuming application's call.
func (s *IssuanceService) HandleChargeRefunded(ctx context.Context, charge *payments.Charge) error {
	if charge.PaymentIntent == "" {
		s.logger.InfoContext(ctx, "refund without payment reference, skipping",
			slog.String("charge_id", charge.ID))
		return nil
	}
	s.logger.InfoContext(ctx, "charge refunded", slog.String("payment_id", charge.PaymentIntent))
	rec := &store.Record{Kind: store.KindPayment, ID: charge.PaymentIntent, Metadata: map[string]string{}}
	return s.store.Write(ctx, rec, map[string]string{
		store.MetaPaymentStatus: store.StatusRefunded,
	})
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
