package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/logger"
	"github.com/issuetracker/backend/internal/metrics"
	"github.com/issuetracker/backend/internal/models"
)

type contextKey string

const (
	userContextKey  contextKey = "user"
	tokenContextKey contextKey = "accessToken"
)

// Authenticator resolves an access token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.User, error)
}

// WithUser attaches the authenticated user to ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user or nil.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

// AccessTokenFromContext returns the token the request was authenticated with.
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// extractToken prefers the access cookie and falls back to a bearer header.
func extractToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}

	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware rejects requests without a valid session and otherwise
// continues with the user attached to the request context.
func Middleware(authn Authenticator, m *metrics.Metrics) func(http.Handler) http.Handler {
	log := logger.Default().WithComponent("session")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := apperrors.GetRequestID(ctx)

			token := extractToken(r)
			if token == "" {
				m.AuthOutcome("session", "missing")
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("Not authorized"))
				return
			}

			user, err := authn.Authenticate(ctx, token)
			switch {
			case err == nil:
			case errors.Is(err, ErrTokenExpired):
				m.AuthOutcome("session", "expired")
				apperrors.WriteError(w, requestID, apperrors.TokenExpired())
				return
			case errors.Is(err, ErrNotAuthorized):
				m.AuthOutcome("session", "rejected")
				log.Debug(ctx, "session rejected", zap.Error(err))
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("Not authorized"))
				return
			default:
				m.AuthOutcome("session", "error")
				log.Error(ctx, "session lookup failed", err)
				apperrors.WriteError(w, requestID, apperrors.DatabaseError("failed to resolve session"))
				return
			}

			m.AuthOutcome("session", "success")
			ctx = WithUser(ctx, user)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
