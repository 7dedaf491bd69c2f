// Package shield provides the HTTP middleware in front of the pagewatch
// status surface: security headers, HEAD handling, request body limits,
// per-request logging and a fixed-window rate limiter.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger) {
//	    r.Use(mw)
//	}
//	r.With(shield.NewRateLimiter(6, time.Minute).Middleware).Post("/targets/{key}/check", h)
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// maxBody caps request bodies. The status surface takes no payloads.
const maxBody = 64 * 1024

// Stack returns the default middleware, outermost first:
// RequestLogger, HeadToGet, SecurityHeaders, MaxBody.
func Stack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestLogger(logger),
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
	}
}
