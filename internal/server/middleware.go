package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ireland-samantha/npc-relay/internal/metrics"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// MessageUnauthorized is returned when the bearer token does not match.
const MessageUnauthorized = "You are not authorized. Please provide a valid API token."

type contextKey int

const loggerKey contextKey = iota

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// chain applies middleware so the first listed runs first.
func chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// loggerFrom returns the request-scoped logger, or fallback.
func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return fallback
}

// RequestID tags each request with an ID, reusing the caller's when given,
// and stores a logger carrying it in the request context.
func RequestID(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), loggerKey, logger.With("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Observe logs each request and counts it by route and status code.
func Observe(route string, m *metrics.Metrics, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)

			m.ObserveRequest(route, rec.code)
			loggerFrom(r.Context(), logger).Info("handled request",
				"method", r.Method,
				"route", route,
				"code", rec.code,
				"duration", time.Since(start),
			)
		})
	}
}

// BearerAuth rejects requests whose Authorization token does not equal
// token. The token is the last space-separated part of the header, so
// both "Bearer <token>" and a bare token are accepted.
func BearerAuth(token string) Middleware {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := ""
			if fields := strings.Fields(r.Header.Get("Authorization")); len(fields) > 0 {
				provided = fields[len(fields)-1]
			}

			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				writeError(w, http.StatusUnauthorized, MessageUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
