// Package store adapts the payment provider's metadata records into an
// entitlement store. Every read may be stale and every write is a
// read-modify-write without a conditional primitive; callers tolerate
// that by keeping their writes idempotent.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"qoredb/internal/license"
	"qoredb/internal/payments"
)

// Metadata keys on the external entitlement record.
const (
	MetaLicenseKey     = "qoredb_license_key"
	MetaCustomerEmail  = "qoredb_customer_email"
	MetaPaymentStatus  = "qoredb_payment_status"
	MetaLicenseSentAt  = "qoredb_license_sent_at"
	MetaLastEmailError = "qoredb_license_email_last_error"
)

// Entitlement status values stored under MetaPaymentStatus.
const (
	StatusActive   = "active"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
)

// fallbackScanLimit bounds the linear scan used when the provider's
// search index is unavailable.
const fallbackScanLimit = 100

// ErrRecordNotFound is returned by direct lookups when the reference
// does not exist at the provider.
var ErrRecordNotFound = errors.New("store: entitlement record not found")

// Kind tags where entitlement metadata lives: on a finalized payment
// record or, when none exists, on the checkout session itself.
type Kind string

const (
	KindPayment Kind = "payment"
	KindSession Kind = "session"
)

// Record is an entitlement record keyed by a payment or session
// reference. Metadata is the authoritative entitlement state; the other
// fields are read-side facts from the underlying provider object.
type Record struct {
	Kind     Kind
	ID       string
	Metadata map[string]string

	// Raw provider payment status (e.g. "succeeded", "paid").
	ProviderStatus string
	Amount         int64
	Currency       string
	Created        int64

	// Email derived from the provider object (receipt email, then
	// billing email), used when explicit metadata is absent.
	derivedEmail string
}

// Succeeded reports whether the underlying payment reached a paid state.
func (r *Record) Succeeded() bool {
	switch r.Kind {
	case KindSession:
		return r.ProviderStatus == payments.SessionStatusPaid
	default:
		return r.ProviderStatus == payments.IntentStatusSucceeded
	}
}

// LicenseKey returns the stored license key, if one was generated.
func (r *Record) LicenseKey() string {
	return r.Metadata[MetaLicenseKey]
}

// CustomerEmail returns the normalized purchaser email for the record:
// explicit metadata first, then the email derived from the provider object.
func (r *Record) CustomerEmail() string {
	if email := r.Metadata[MetaCustomerEmail]; email != "" {
		return license.NormalizeEmail(email)
	}
	if r.derivedEmail != "" {
		return license.NormalizeEmail(r.derivedEmail)
	}
	return ""
}

// Provider is the slice of the payments client the store depends on.
type Provider interface {
	RetrievePaymentIntent(ctx context.Context, id string) (*payments.PaymentIntent, error)
	UpdatePaymentIntentMetadata(ctx context.Context, id string, metadata map[string]string) (*payments.PaymentIntent, error)
	SearchPaymentIntents(ctx context.Context, query string, limit int) ([]*payments.PaymentIntent, error)
	ListPaymentIntents(ctx context.Context, limit int) ([]*payments.PaymentIntent, error)
	UpdateCheckoutSessionMetadata(ctx context.Context, id string, metadata map[string]string) (*payments.CheckoutSession, error)
}

// Store reads and writes entitlement records at the payment provider.
type Store struct {
	provider Provider
	logger   *slog.Logger
}

// New creates an entitlement store over a provider client.
func New(provider Provider, logger *slog.Logger) *Store {
	return &Store{provider: provider, logger: logger.With(slog.String("component", "entitlement_store"))}
}

func recordFromIntent(intent *payments.PaymentIntent) *Record {
	derived := intent.ReceiptEmail
	if derived == "" && intent.LatestCharge != nil && intent.LatestCharge.Charge != nil {
		derived = intent.LatestCharge.Charge.BillingDetails.Email
	}
	metadata := intent.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Record{
		Kind:           KindPayment,
		ID:             intent.ID,
		Metadata:       metadata,
		ProviderStatus: intent.Status,
		Amount:         intent.AmountReceived,
		Currency:       intent.Currency,
		Created:        intent.Created,
		derivedEmail:   derived,
	}
}

func recordFromSession(session *payments.CheckoutSession) *Record {
	metadata := session.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Record{
		Kind:           KindSession,
		ID:             session.ID,
		Metadata:       metadata,
		ProviderStatus: session.PaymentStatus,
		Amount:         session.AmountTotal,
		Currency:       session.Currency,
		Created:        session.Created,
		derivedEmail:   session.Email(),
	}
}

// escapeSearchValue sanitizes an email before it is embedded in the
// provider's search query syntax.
func escapeSearchValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

// FindByEmail locates the entitlement record for a purchaser email.
// Primary path is the provider's indexed metadata search; if that errors
// or misses, a bounded scan of recent payment records matches on metadata
// email or the derived receipt/billing email. Best-effort reconciliation:
// when search and scan disagree there is no strict recency guarantee.
// Returns (nil, nil) when no record matches.
func (s *Store) FindByEmail(ctx context.Context, email string) (*Record, error) {
	normalized := license.NormalizeEmail(email)
	query := fmt.Sprintf("metadata['%s']:'%s'", MetaCustomerEmail, escapeSearchValue(normalized))

	intents, err := s.provider.SearchPaymentIntents(ctx, query, 1)
	if err != nil {
		s.logger.WarnContext(ctx, "payment search failed, falling back to list scan",
			slog.String("error", err.Error()))
	} else if len(intents) > 0 {
		return recordFromIntent(intents[0]), nil
	}

	recent, err := s.provider.ListPaymentIntents(ctx, fallbackScanLimit)
	if err != nil {
		return nil, fmt.Errorf("store: fallback scan: %w", err)
	}
	for _, intent := range recent {
		rec := recordFromIntent(intent)
		if rec.Metadata[MetaCustomerEmail] == normalized || rec.CustomerEmail() == normalized {
			return rec, nil
		}
	}
	return nil, nil
}

// FindPaymentByID looks up an entitlement record by its payment reference.
func (s *Store) FindPaymentByID(ctx context.Context, id string) (*Record, error) {
	intent, err := s.provider.RetrievePaymentIntent(ctx, id)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return recordFromIntent(intent), nil
}

// ResolveForSession decides where entitlement metadata for a completed
// checkout lives. A session with a finalized payment reference resolves
// to that payment record; otherwise the session itself is the store.
func (s *Store) ResolveForSession(ctx context.Context, session *payments.CheckoutSession) (*Record, error) {
	if session.PaymentIntent != "" {
		return s.FindPaymentByID(ctx, session.PaymentIntent)
	}
	return recordFromSession(session), nil
}

// Write merges a metadata patch into the record and persists it. The
// provider merges per-key, so keys absent from the patch are preserved.
func (s *Store) Write(ctx context.Context, rec *Record, patch map[string]string) error {
	var err error
	switch rec.Kind {
	case KindSession:
		_, err = s.provider.UpdateCheckoutSessionMetadata(ctx, rec.ID, patch)
	default:
		_, err = s.provider.UpdatePaymentIntentMetadata(ctx, rec.ID, patch)
	}
	if err != nil {
		return fmt.Errorf("store: write %s %s: %w", rec.Kind, rec.ID, err)
	}

	for k, v := range patch {
		rec.Metadata[k] = v
	}
	return nil
}
