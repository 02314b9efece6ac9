// Package http holds the HTTP handlers for the license API: the
// payment webhook receiver, the self-service license endpoints, the
// checkout and pricing endpoints, and the latest-release proxy.
//
// Handlers bind and validate requests with go-chi/render and
// go-playground/validator, call into the services layer, and render
// either the success payload or the structured error envelope from
// internal/errors.
package http
