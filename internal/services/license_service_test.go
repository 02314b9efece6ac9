package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qoredb/internal/license"
	"qoredb/internal/mailer"
	"qoredb/internal/payments"
	"qoredb/internal/store"
)

func newLicenseService(t *testing.T, st *fakeStore, m *fakeMailer) (*LicenseService, string) {
	t.Helper()
	pub, priv := testSigningKey(t)
	return NewLicenseService(st, m, priv, slog.Default()), pub
}

func TestStatusReturnsPurchase(t *testing.T) {
	st := newFakeStore()
	rec := st.addPayment("pi_1", payments.IntentStatusSucceeded)
	rec.Metadata[store.MetaCustomerEmail] = "buyer@example.com"
	rec.Metadata[store.MetaPaymentStatus] = store.StatusActive
	rec.Metadata[store.MetaLicenseKey] = "lk_1"
	rec.Amount = 4900
	rec.Currency = "usd"
	rec.Created = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix()

	svc, _ := newLicenseService(t, st, &fakeMailer{})
	resp, err := svc.Status(context.Background(), "Buyer@Example.com ", "pi_1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusActive, resp.Status)
	assert.Equal(t, "pi_1", resp.PaymentID)
	require.NotNil(t, resp.LicenseKey)
	assert.Equal(t, "lk_1", *resp.LicenseKey)
	assert.Equal(t, int64(4900), resp.Amount)
	assert.Equal(t, "usd", resp.Currency)
	assert.Equal(t, "2025-06-01T12:00:00Z", resp.CreatedAt)
}

func TestStatusIndistinguishableNotFound(t *testing.T) {
	st := newFakeStore()
	rec := st.addPayment("pi_1", payments.IntentStatusSucceeded)
	rec.Metadata[store.MetaCustomerEmail] = "buyer@example.com"
	svc, _ := newLicenseService(t, st, &fakeMailer{})

	// Wrong email on an existing reference and a nonexistent reference
	// must be the same error.
	_, wrongEmail := svc.Status(context.Background(), "other@example.com", "pi_1")
	_, missing := svc.Status(context.Background(), "buyer@example.com", "pi_nope")

	assert.ErrorIs(t, wrongEmail, ErrNotFound)
	assert.ErrorIs(t, missing, ErrNotFound)
	assert.Equal(t, wrongEmail, missing)
}

func TestStatusRecordWithoutEmail(t *testing.T) {
	st := newFakeStore()
	st.addPayment("pi_1", payments.IntentStatusSucceeded)
	svc, _ := newLicenseService(t, st, &fakeMailer{})

	// A record that never got an email written cannot be claimed by
	// guessing addresses.
	_, err := svc.Status(context.Background(), "buyer@example.com", "pi_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusDerivesFromProviderState(t *testing.T) {
	tests := []struct {
		name           string
		providerStatus string
		want           string
	}{
		{"succeeded maps to active", payments.IntentStatusSucceeded, store.StatusActive},
		{"anything else maps to failed", "requires_payment_method", store.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			rec := st.addPayment("pi_1", tt.providerStatus)
			rec.Metadata[store.MetaCustomerEmail] = "buyer@example.com"
			svc, _ := newLicenseService(t, st, &fakeMailer{})

			resp, err := svc.Status(context.Background(), "buyer@example.com", "pi_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status)
			assert.Nil(t, resp.LicenseKey)
		})
	}
}

func TestResendDeliversExistingKey(t *testing.T) {
	st := newFakeStore()
	rec := st.addPayment("pi_1", payments.IntentStatusSucceeded)
	rec.Metadata[store.MetaCustomerEmail] = "buyer@example.com"
	rec.Metadata[store.MetaLicenseKey] = "lk_existing"
	rec.Metadata[store.MetaLicenseSentAt] = "2025-06-01T12:00:00Z"
	st.byEmail = rec

	m := &fakeMailer{}
	svc, _ := newLicenseService(t, st, m)

	// sent_at is already set; an explicit resend sends anyway.
	require.NoError(t, svc.Resend(context.Background(), "Buyer@Example.com"))
	assert.Equal(t, []string{"buyer@example.com"}, m.sent)
	assert.Zero(t, st.writes, "existing key is reused, nothing rewritten")
}

func TestResendGeneratesMissingKey(t *testing.T) {
	st := newFakeStore()
	rec := st.addPayment("pi_1", payments.IntentStatusSucceeded)
	rec.Metadata[store.MetaCustomerEmail] = "buyer@example.com"
	st.byEmail = rec

	m := &fakeMailer{}
	svc, pub := newLicenseService(t, st, m)

	require.NoError(t, svc.Resend(context.Background(), "buyer@example.com"))

	key := rec.Metadata[store.MetaLicenseKey]
	require.NotEmpty(t, key, "missing key generated and persisted before delivery")
	assert.Equal(t, store.StatusActive, rec.Metadata[store.MetaPaymentStatus])
	assert.Len(t, m.sent, 1)

	verification, err := license.Verify(key, pub)
	require.NoError(t, err)
	require.True(t, verification.Valid)
	assert.Equal(t, "pi_1", verification.Payload.PaymentID)
}

func TestResendUnknownEmail(t *testing.T) {
	st := newFakeStore()
	svc, _ := newLicenseService(t, st, &fakeMailer{})
	assert.ErrorIs(t, svc.Resend(context.Background(), "nobody@example.com"), ErrNotFound)
}

func TestResendUnpaidPurchase(t *testing.T) {
	st := newFakeStore()
	rec := st.addPayment("pi_1", "requires_payment_method")
	rec.Metadata[store.MetaCustomerEmail] = "buyer@example.com"
	st.byEmail = rec

	svc, _ := newLicenseService(t, st, &fakeMailer{})
	assert.ErrorIs(t, svc.Resend(context.Background(), "buyer@example.com"), ErrInvalidState)
}

func TestResendRefundedStatusMetadata(t *testing.T) {
	st := newFakeStore()
	rec := st.addPayment("pi_1", payments.IntentStatusSucceeded)
	rec.Metadata[store.MetaCustomerEmail] = "buyer@example.com"
	rec.Metadata[store.MetaPaymentStatus] = store.StatusRefunded
	st.byEmail = rec

	svc, _ := newLicenseService(t, st, &fakeMailer{})
	assert.ErrorIs(t, svc.Resend(context.Background(), "buyer@example.com"), ErrInvalidState)
}

func TestResendDeliveryFailurePropagates(t *testing.T) {
	st := newFakeStore()
	rec := st.addPayment("pi_1", payments.IntentStatusSucceeded)
	rec.Metadata[store.MetaCustomerEmail] = "buyer@example.com"
	rec.Metadata[store.MetaLicenseKey] = "lk_existing"
	st.byEmail = rec

	delivery := &mailer.DeliveryError{Err: errors.New("provider down")}
	svc, _ := newLicenseService(t, st, &fakeMailer{err: delivery})

	err := svc.Resend(context.Background(), "buyer@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, delivery)
}
