package services

import "errors"

var (
	// ErrMissingIdentity means a completed checkout carried no
	// resolvable purchaser email. The webhook delivery fails so the
	// provider retries; no anonymous licenses are issued.
	ErrMissingIdentity = errors.New("services: checkout completed without a customer email")

	// ErrNotFound covers both a nonexistent payment reference and an
	// email mismatch on an existing one. The two cases are deliberately
	// indistinguishable to the caller.
	ErrNotFound = errors.New("services: license not found")

	// ErrInvalidState means the purchase exists but is not in a paid
	// state, so no license can be (re)sent for it.
	ErrInvalidState = errors.New("services: payment is not in a succeeded state")
)
