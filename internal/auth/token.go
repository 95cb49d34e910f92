package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
)

// TokenClass selects the secret and lifetime of a token.
type TokenClass int

const (
	AccessToken TokenClass = iota
	RefreshToken
)

func (c TokenClass) String() string {
	switch c {
	case AccessToken:
		return "access"
	case RefreshToken:
		return "refresh"
	default:
		return "unknown"
	}
}

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed token together with the identifiers callers need
// for cookies and revocation.
type IssuedToken struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// VerifiedToken is the identity carried by a token that passed verification.
type VerifiedToken struct {
	UserID    uuid.UUID
	ID        string
	ExpiresAt time.Time
}

type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}, nil
}

// SetClock replaces the time source used for issuing and verifying.
func (i *TokenIssuer) SetClock(now func() time.Time) {
	i.now = now
}

func (i *TokenIssuer) secret(class TokenClass) []byte {
	if class == RefreshToken {
		return []byte(i.cfg.RefreshSecret)
	}
	return []byte(i.cfg.AccessSecret)
}

func (i *TokenIssuer) ttl(class TokenClass) time.Duration {
	if class == RefreshToken {
		return i.cfg.RefreshTTL
	}
	return i.cfg.AccessTTL
}

// IssueAccess signs a short-lived access token for userID.
func (i *TokenIssuer) IssueAccess(userID uuid.UUID) (IssuedToken, error) {
	return i.issue(userID, AccessToken)
}

// IssueRefresh signs a refresh token for userID.
func (i *TokenIssuer) IssueRefresh(userID uuid.UUID) (IssuedToken, error) {
	return i.issue(userID, RefreshToken)
}

func (i *TokenIssuer) issue(userID uuid.UUID, class TokenClass) (IssuedToken, error) {
	now := i.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(ceilSecond(now.Add(i.ttl(class))))

	claims := &Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret(class))
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", class, err)
	}

	return IssuedToken{Value: signed, ID: claims.ID, ExpiresAt: expiresAt.Time}, nil
}

// ceilSecond rounds t up to a whole second. NumericDate truncates, which
// would otherwise end a token's life early.
func ceilSecond(t time.Time) time.Time {
	if whole := t.Truncate(time.Second); whole.Before(t) {
		return whole.Add(time.Second)
	}
	return t
}

// Verify checks the signature with the secret of class, then the expiry.
// It never performs I/O.
func (i *TokenIssuer) Verify(tokenString string, class TokenClass) (*VerifiedToken, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) {
			return i.secret(class), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	return &VerifiedToken{
		UserID:    userID,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// The parser validates the signature before any claim, so an expired
// error implies the signature was good.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
