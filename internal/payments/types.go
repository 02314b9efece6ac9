package payments

import "encoding/json"

// PaymentIntent statuses we act on. The provider defines more; anything
// else is treated as not-succeeded.
const (
	IntentStatusSucceeded = "succeeded"
)

// Session payment statuses.
const (
	SessionStatusPaid = "paid"
)

// BillingDetails carries the purchaser identity attached to a charge.
type BillingDetails struct {
	Email string `json:"email"`
}

// Charge is the minimal slice of the provider's charge object.
type Charge struct {
	ID             string         `json:"id"`
	PaymentIntent  string         `json:"payment_intent"`
	BillingDetails BillingDetails `json:"billing_details"`
}

// ChargeRef is an expandable charge reference: the provider serializes it
// as either a bare id string or an embedded charge object depending on
// the expand parameters of the request.
type ChargeRef struct {
	ID     string
	Charge *Charge
}

// UnmarshalJSON accepts both the string and object forms.
func (r *ChargeRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		r.Charge = nil
		return nil
	}

	var charge Charge
	if err := json.Unmarshal(data, &charge); err != nil {
		return err
	}
	r.ID = charge.ID
	r.Charge = &charge
	return nil
}

// MarshalJSON emits the id form, which is what the provider accepts back.
func (r ChargeRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// PaymentIntent is the finalized-payment record. Metadata is the opaque
// key-value store the license flow writes entitlement state into.
type PaymentIntent struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Created        int64             `json:"created"`
	ReceiptEmail   string            `json:"receipt_email"`
	Metadata       map[string]string `json:"metadata"`
	LatestCharge   *ChargeRef        `json:"latest_charge"`
}

// CustomerDetails is the purchaser block on a checkout session.
type CustomerDetails struct {
	Email string `json:"email"`
}

// CheckoutSession is the pre-payment record. When a session finishes
// without producing a finalized payment record, its own metadata is used
// as entitlement storage instead.
type CheckoutSession struct {
	ID              string            `json:"id"`
	PaymentStatus   string            `json:"payment_status"`
	PaymentIntent   string            `json:"payment_intent"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *CustomerDetails  `json:"customer_details"`
	Metadata        map[string]string `json:"metadata"`
	URL             string            `json:"url"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	Created         int64             `json:"created"`
}

// Email returns the purchaser email on the session, preferring the
// collected customer details over the email passed at creation time.
func (s *CheckoutSession) Email() string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// Price is a catalog price entry.
type Price struct {
	ID         string `json:"id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
}

// Event is a provider-signed webhook event. Data.Object is left raw so
// each handler can decode the shape it expects.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Event types the issuance flow handles.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventChargeRefunded    = "charge.refunded"
)

// listResponse is the provider's envelope for list and search calls.
type listResponse struct {
	Data    []*PaymentIntent `json:"data"`
	HasMore bool             `json:"has_more"`
}
