// Package shield provides the HTTP middleware stack for the capture
// service: security headers, request body limits, request tracing, and
// SQLite-backed rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxBody(1 << 20))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db, "/healthz").Middleware)
//
// Or apply the default API stack in one call:
//
//	for _, mw := range shield.DefaultAPIStack(db) {
//	    r.Use(mw)
//	}
package shield

import (
	"database/sql"
	"net/http"
)

// DefaultAPIStack returns the standard middleware stack for the capture
// API. Middleware is ordered: SecurityHeaders → MaxBody → TraceID →
// RateLimiter. Health checks (/healthz) bypass rate limiting.
func DefaultAPIStack(db *sql.DB) []func(http.Handler) http.Handler {
	rl := NewRateLimiter(db, "/healthz")
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(1 << 20),
		TraceID,
		rl.Middleware,
	}
}
