package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/models"
)

func protected(t *testing.T, authn Authenticator) (http.Handler, *bool, **models.User) {
	t.Helper()
	called := false
	var seen *models.User
	h := Middleware(authn, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &called, &seen
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestMiddleware_NoToken(t *testing.T) {
	env := newTestEnv(t)
	h, called, _ := protected(t, env.service)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *called)
	assert.Equal(t, "Not authorized", decodeError(t, w).Message)
}

func TestMiddleware_CookieToken(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	h, called, seen := protected(t, env.service)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: s.AccessToken.Value})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *called)
	require.NotNil(t, *seen)
	assert.Equal(t, s.User.ID, (*seen).ID)
}

func TestMiddleware_BearerFallback(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	h, called, _ := protected(t, env.service)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+s.AccessToken.Value)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *called)
}

func TestMiddleware_CookieWinsOverHeader(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a@x.com", "secret1")
	b := env.register(t, "b@x.com", "secret1")
	h, _, seen := protected(t, env.service)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: a.AccessToken.Value})
	req.Header.Set("Authorization", "Bearer "+b.AccessToken.Value)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.NotNil(t, *seen)
	assert.Equal(t, a.User.ID, (*seen).ID)
}

func TestMiddleware_Rejections(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")

	tests := []struct {
		name   string
		header string
	}{
		{"malformed token", "Bearer garbage"},
		{"refresh token as access", "Bearer " + s.RefreshToken.Value},
		{"wrong scheme", "Basic " + s.AccessToken.Value},
		{"scheme only", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, called, _ := protected(t, env.service)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.False(t, *called)
			assert.Equal(t, apperrors.CodeUnauthorized, decodeError(t, w).Code)
		})
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	env.issuer.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	h, called, _ := protected(t, env.service)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: s.AccessToken.Value})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *called)
	resp := decodeError(t, w)
	assert.Equal(t, apperrors.CodeTokenExpired, resp.Code)
	assert.Equal(t, "Token expired", resp.Message)
}

func TestMiddleware_DeletedUser(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	require.NoError(t, env.store.DeleteUser(context.Background(), s.User.ID))
	h, called, _ := protected(t, env.service)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: s.AccessToken.Value})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *called)
}

type failingAuthenticator struct{}

func (failingAuthenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	return nil, errors.New("connection refused")
}

func TestMiddleware_StoreFailureIsNotAuthenticated(t *testing.T) {
	h, called, _ := protected(t, failingAuthenticator{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, *called)
}
