// Package payments is a narrow REST client for the external payment
// provider. The provider doubles as the durable store for entitlement
// state: license metadata lives as string key-values on its payment and
// checkout-session records, and this package exposes just the calls the
// license flow needs (retrieve, metadata update, search, bounded list,
// webhook event verification). It is not a general payment SDK.
package payments
