package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/issuetracker/backend/internal/db"
	"github.com/issuetracker/backend/internal/models"
)

var (
	ErrUserExists          = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user does not exist")
	ErrWrongPassword       = errors.New("wrong password")
	ErrPasswordMismatch    = errors.New("passwords do not match")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrRefreshTokenMissing = errors.New("refresh token not found")
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
)

// UserStore is the credential store the auth flows depend on.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	Password2 string
}

// Session is the outcome of a successful register or login.
type Session struct {
	User         *models.User
	AccessToken  IssuedToken
	RefreshToken IssuedToken
}

type Service struct {
	users       UserStore
	hasher      *Hasher
	tokens      *TokenIssuer
	revocations RevocationStore
}

// NewService wires the auth flows. revocations may be nil, in which case
// logout only clears cookies and refresh tokens live until they expire.
func NewService(users UserStore, hasher *Hasher, tokens *TokenIssuer, revocations RevocationStore) *Service {
	return &Service{
		users:       users,
		hasher:      hasher,
		tokens:      tokens,
		revocations: revocations,
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := models.NormalizeEmail(in.Email)

	_, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, db.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if in.Password != in.Password2 {
		return nil, ErrPasswordMismatch
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Username:     in.Username,
		Email:        email,
		PasswordHash: digest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, db.ErrEmailExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.newSession(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrWrongPassword
	}

	return s.newSession(user)
}

// Refresh mints a new access token from a refresh token. Every failure
// other than a user store outage collapses into ErrRefreshTokenInvalid,
// including an unreachable revocation store.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (IssuedToken, error) {
	if refreshToken == "" {
		return IssuedToken{}, ErrRefreshTokenMissing
	}

	verified, err := s.tokens.Verify(refreshToken, RefreshToken)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("%w: %v", ErrRefreshTokenInvalid, err)
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, verified.ID)
		if err != nil {
			return IssuedToken{}, fmt.Errorf("%w: revocation check: %v", ErrRefreshTokenInvalid, err)
		}
		if revoked {
			return IssuedToken{}, fmt.Errorf("%w: revoked", ErrRefreshTokenInvalid)
		}
	}

	if _, err := s.users.GetUserByID(ctx, verified.UserID); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return IssuedToken{}, fmt.Errorf("%w: user gone", ErrRefreshTokenInvalid)
		}
		return IssuedToken{}, fmt.Errorf("lookup user: %w", err)
	}

	return s.tokens.IssueAccess(verified.UserID)
}

// Logout revokes refreshToken when a revocation store is configured.
// Tokens that no longer verify are ignored since they are unusable anyway.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.revocations == nil || refreshToken == "" {
		return nil
	}

	verified, err := s.tokens.Verify(refreshToken, RefreshToken)
	if err != nil {
		return nil
	}

	return s.revocations.Revoke(ctx, verified.ID, verified.ExpiresAt)
}

// Authenticate resolves an access token to its user. Expired tokens yield
// ErrTokenExpired, every other failure ErrNotAuthorized.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	verified, err := s.tokens.Verify(accessToken, AccessToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}

	user, err := s.users.GetUserByID(ctx, verified.UserID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user gone", ErrNotAuthorized)
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	return user, nil
}

func (s *Service) newSession(user *models.User) (*Session, error) {
	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}
