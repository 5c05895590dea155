package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/api/auth"
	"github.com/good-yellow-bee/blazealert/internal/api/response"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
)

// Context keys for storing caller information.
type contextKey string

const (
	actorKey  contextKey = "actor"
	claimsKey contextKey = "claims"
)

// JWTAuth returns middleware that requires a valid bearer token. The token
// subject becomes the request's actor. Read-only tokens are limited to GET
// and HEAD.
func JWTAuth(jwtService *auth.JWTService, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				response.JSONError(w, response.ErrInvalidToken)
				return
			}

			claims, err := jwtService.ValidateToken(parts[1])
			if err != nil {
				result := "failure"
				if errors.Is(err, auth.ErrTokenExpired) {
					result = "expired"
				}
				metrics.AuthAttemptsTotal.WithLabelValues(result).Inc()
				logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("bearer token rejected")
				response.JSONError(w, response.ErrInvalidToken)
				return
			}
			if claims.ReadOnly && r.Method != http.MethodGet && r.Method != http.MethodHead {
				metrics.AuthAttemptsTotal.WithLabelValues("forbidden").Inc()
				response.JSONError(w, response.ErrReadOnlyToken)
				return
			}
			metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()

			ctx := context.WithValue(r.Context(), actorKey, claims.Subject)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActor returns the authenticated actor, or "" when the API runs
// without authentication.
func GetActor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if c, ok := ctx.Value(claimsKey).(*auth.Claims); ok {
		return c
	}
	return nil
}
