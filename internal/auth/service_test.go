package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/issuetracker/backend/internal/db/memory"
)

// fakeRevocations is an in-process RevocationStore.
type fakeRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func newFakeRevocations() *fakeRevocations {
	return &fakeRevocations{revoked: make(map[string]time.Time)}
}

func (f *fakeRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.revoked[tokenID] = until
	return nil
}

func (f *fakeRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.revoked[tokenID]
	return ok, nil
}

type testEnv struct {
	store       *memory.Store
	issuer      *TokenIssuer
	revocations *fakeRevocations
	service     *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	hasher, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err)
	rev := newFakeRevocations()
	return &testEnv{
		store:       store,
		issuer:      issuer,
		revocations: rev,
		service:     NewService(store, hasher, issuer, rev),
	}
}

func (e *testEnv) register(t *testing.T, email, password string) *Session {
	t.Helper()
	s, err := e.service.Register(context.Background(), RegisterInput{
		Username: "user", Email: email, Password: password, Password2: password,
	})
	require.NoError(t, err)
	return s
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	s := env.register(t, "  A@X.com ", "secret1")
	assert.Equal(t, "a@x.com", s.User.Email)
	assert.NotEqual(t, "secret1", s.User.PasswordHash)
	assert.NotEmpty(t, s.AccessToken.Value)
	assert.NotEmpty(t, s.RefreshToken.Value)

	stored, err := env.store.GetUserByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, stored.ID)
}

func TestRegister_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "secret1")
	ctx := context.Background()

	_, err := env.service.Register(ctx, RegisterInput{Username: "u", Email: "a@x.com", Password: "secret1", Password2: "secret1"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = env.service.Register(ctx, RegisterInput{Username: "u", Email: "b@x.com", Password: "secret1", Password2: "secret2"})
	assert.ErrorIs(t, err, ErrPasswordMismatch)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "secret1")
	ctx := context.Background()

	_, err := env.service.Login(ctx, "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = env.service.Login(ctx, "a@x.com", "wrong-password")
	assert.ErrorIs(t, err, ErrWrongPassword)

	s, err := env.service.Login(ctx, "A@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", s.User.Email)
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	ctx := context.Background()

	user, err := env.service.Authenticate(ctx, s.AccessToken.Value)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, user.ID)

	_, err = env.service.Authenticate(ctx, s.RefreshToken.Value)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = env.service.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, env.store.DeleteUser(ctx, s.User.ID))
	_, err = env.service.Authenticate(ctx, s.AccessToken.Value)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestAuthenticate_Expired(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")

	env.issuer.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	_, err := env.service.Authenticate(context.Background(), s.AccessToken.Value)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.False(t, errors.Is(err, ErrNotAuthorized))
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	ctx := context.Background()

	access, err := env.service.Refresh(ctx, s.RefreshToken.Value)
	require.NoError(t, err)

	verified, err := env.issuer.Verify(access.Value, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, verified.UserID)
}

func TestRefresh_Failures(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	ctx := context.Background()

	_, err := env.service.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrRefreshTokenMissing)

	_, err = env.service.Refresh(ctx, s.AccessToken.Value)
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)

	_, err = env.service.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestRefresh_DeletedUser(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	ctx := context.Background()

	require.NoError(t, env.store.DeleteUser(ctx, s.User.ID))
	_, err := env.service.Refresh(ctx, s.RefreshToken.Value)
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")
	ctx := context.Background()

	require.NoError(t, env.service.Logout(ctx, s.RefreshToken.Value))

	_, err := env.service.Refresh(ctx, s.RefreshToken.Value)
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)

	// Logging out with junk is harmless.
	assert.NoError(t, env.service.Logout(ctx, "garbage"))
	assert.NoError(t, env.service.Logout(ctx, ""))
}

func TestRefresh_RevocationStoreFailureFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	s := env.register(t, "a@x.com", "secret1")

	env.revocations.err = errors.New("redis down")
	_, err := env.service.Refresh(context.Background(), s.RefreshToken.Value)
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestService_WithoutRevocationStore(t *testing.T) {
	env := newTestEnv(t)
	hasher, _ := NewHasher(bcrypt.MinCost)
	svc := NewService(env.store, hasher, env.issuer, nil)
	ctx := context.Background()

	s, err := svc.Register(ctx, RegisterInput{Username: "u", Email: "c@x.com", Password: "secret1", Password2: "secret1"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, s.RefreshToken.Value))
	_, err = svc.Refresh(ctx, s.RefreshToken.Value)
	assert.NoError(t, err, "without a revocation store logout cannot invalidate tokens")
}
