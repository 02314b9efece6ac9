// Package services holds the business logic between the HTTP transport
// and the external collaborators: the issuance orchestrator driven by
// payment webhook events, and the self-service license operations
// (status lookup, resend) purchasers trigger themselves.
package services
