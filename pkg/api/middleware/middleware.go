package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	authproviders "github.com/cbodonnell/flywheel-exchange/pkg/auth/providers"
	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
	"github.com/cbodonnell/flywheel-exchange/pkg/log"
	"github.com/google/uuid"
)

type ContextKey int

const (
	// CallerContextKey is the key used to store the verified caller in the request context
	CallerContextKey ContextKey = iota
	// RequestIDContextKey is the key used to store the request id in the request context
	RequestIDContextKey
)

const RequestIDHeader = "X-Request-ID"

// NewRequestIDMiddleware tags every request with an id, reusing the
// client's X-Request-ID when it is a valid UUID.
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func NewAuthMiddleware(authProvider authproviders.AuthProvider) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := Logger(r.Context())

			bearerToken, err := parseBearerToken(r)
			if err != nil {
				logger.Warn("failed to parse bearer token: %v", err)
				http.Error(w, "failed to parse bearer token", http.StatusUnauthorized)
				return
			}

			token, err := authProvider.VerifyToken(r.Context(), bearerToken)
			if err != nil {
				logger.Warn("failed to verify ID token: %v", err)
				http.Error(w, "failed to verify ID token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), CallerContextKey, exchange.Caller(token.UID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Caller returns the verified caller stored by the auth middleware.
func Caller(ctx context.Context) (exchange.Caller, bool) {
	caller, ok := ctx.Value(CallerContextKey).(exchange.Caller)
	return caller, ok
}

// Logger returns the default logger tagged with the request id, if any.
func Logger(ctx context.Context) *log.Logger {
	requestID, _ := ctx.Value(RequestIDContextKey).(string)
	return log.With("request_id", requestID)
}

// parseBearerToken parses the bearer token from the Authorization header.
// Browsers cannot set headers on WebSocket upgrades, so the access_token
// query parameter is accepted as well.
func parseBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	return parts[1], nil
}
