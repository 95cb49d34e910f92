package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"go.uber.org/zap"

	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/logger"
	"github.com/issuetracker/backend/internal/metrics"
	"github.com/issuetracker/backend/internal/models"
)

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

// Validate checks the request shape only; uniqueness and the password
// match are decided by the service.
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 24)),
		validation.Field(&r.Password2, validation.Required, validation.Length(6, 24)),
	)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 24)),
	)
}

type RegisterResponse struct {
	Message string            `json:"message"`
	User    models.PublicUser `json:"user"`
}

type LoginResponse struct {
	Message      string            `json:"message"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         models.PublicUser `json:"user"`
}

type MeResponse struct {
	IsLoggedIn  bool              `json:"isLoggedIn"`
	User        models.PublicUser `json:"user"`
	AccessToken string            `json:"accessToken"`
}

type RefreshResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"accessToken"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type Handlers struct {
	service *Service
	cookies CookieConfig
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewHandlers(service *Service, cookies CookieConfig, m *metrics.Metrics) *Handlers {
	return &Handlers{
		service: service,
		cookies: cookies,
		metrics: m,
		log:     logger.Default().WithComponent("auth"),
	}
}

// Mount registers the auth routes on mux. session guards the routes that
// need an authenticated user.
func (h *Handlers) Mount(mux *http.ServeMux, prefix string, session func(http.Handler) http.Handler) {
	mux.HandleFunc("POST "+prefix+"/register", apperrors.HandleFunc(h.Register))
	mux.HandleFunc("POST "+prefix+"/login", apperrors.HandleFunc(h.Login))
	mux.HandleFunc("GET "+prefix+"/logout", apperrors.HandleFunc(h.Logout))
	mux.HandleFunc("POST "+prefix+"/refresh-token", apperrors.HandleFunc(h.RefreshToken))
	mux.Handle("GET "+prefix+"/me", session(apperrors.HandleFunc(h.Me)))
	mux.Handle("GET "+prefix+"/get-log-in-user", session(apperrors.HandleFunc(h.Me)))
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Validate() != nil {
		h.metrics.AuthOutcome("register", "invalid")
		return apperrors.ValidationError("Invalid data")
	}

	session, err := h.service.Register(r.Context(), RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Password2: req.Password2,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrUserExists):
		h.metrics.AuthOutcome("register", "exists")
		return apperrors.Conflict("User already exists")
	case errors.Is(err, ErrPasswordMismatch):
		h.metrics.AuthOutcome("register", "mismatch")
		return apperrors.ValidationError("Passwords do not match")
	default:
		h.metrics.AuthOutcome("register", "error")
		h.log.Error(r.Context(), "register failed", err)
		return apperrors.DatabaseError("failed to create user").WithCause(err)
	}

	h.metrics.AuthOutcome("register", "success")
	h.setSessionCookies(w, session)
	h.log.Info(r.Context(), "user registered", zap.String("user_id", session.User.ID.String()))

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, RegisterResponse{
		Message: "User registered successfully",
		User:    session.User.Public(),
	})
	return nil
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Validate() != nil {
		h.metrics.AuthOutcome("login", "invalid")
		return apperrors.ValidationError("Invalid data")
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserNotFound):
		h.metrics.AuthOutcome("login", "unknown_user")
		return apperrors.InvalidCredentials("User does not exist")
	case errors.Is(err, ErrWrongPassword):
		h.metrics.AuthOutcome("login", "wrong_password")
		return apperrors.InvalidCredentials("Wrong password")
	default:
		h.metrics.AuthOutcome("login", "error")
		h.log.Error(r.Context(), "login failed", err)
		return apperrors.DatabaseError("login failed").WithCause(err)
	}

	h.metrics.AuthOutcome("login", "success")
	h.setSessionCookies(w, session)

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, LoginResponse{
		Message:      "Login successfully",
		AccessToken:  session.AccessToken.Value,
		RefreshToken: session.RefreshToken.Value,
		User:         session.User.Public(),
	})
	return nil
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	h.cookies.clear(w, AccessTokenCookie)
	h.cookies.clear(w, RefreshTokenCookie)

	// Cookies are cleared regardless; a failed revocation only shortens
	// what logout can guarantee server-side.
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		if err := h.service.Logout(r.Context(), c.Value); err != nil {
			h.log.Error(r.Context(), "refresh token revocation failed", err)
		}
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, MessageResponse{
		Message: "Logout successfully",
	})
	return nil
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	user := UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("Not authorized")
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, MeResponse{
		IsLoggedIn:  true,
		User:        user.Public(),
		AccessToken: AccessTokenFromContext(r.Context()),
	})
	return nil
}

func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) error {
	var token string
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		token = c.Value
	}

	access, err := h.service.Refresh(r.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, ErrRefreshTokenMissing):
		h.metrics.AuthOutcome("refresh", "missing")
		return apperrors.BadRequest("Refresh token not found")
	case errors.Is(err, ErrRefreshTokenInvalid):
		h.metrics.AuthOutcome("refresh", "invalid")
		h.log.Debug(r.Context(), "refresh rejected", zap.Error(err))
		return apperrors.InvalidToken("Refresh token invalid")
	default:
		h.metrics.AuthOutcome("refresh", "error")
		h.log.Error(r.Context(), "refresh failed", err)
		return apperrors.DatabaseError("refresh failed").WithCause(err)
	}

	h.metrics.AuthOutcome("refresh", "success")
	h.metrics.TokenIssued(AccessToken.String())
	h.cookies.set(w, AccessTokenCookie, access.Value, access.ExpiresAt)

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, RefreshResponse{
		Message:     "Refresh token successfully",
		AccessToken: access.Value,
	})
	return nil
}

func (h *Handlers) setSessionCookies(w http.ResponseWriter, s *Session) {
	h.metrics.TokenIssued(AccessToken.String())
	h.metrics.TokenIssued(RefreshToken.String())
	h.cookies.set(w, AccessTokenCookie, s.AccessToken.Value, s.AccessToken.ExpiresAt)
	h.cookies.set(w, RefreshTokenCookie, s.RefreshToken.Value, s.RefreshToken.ExpiresAt)
}
