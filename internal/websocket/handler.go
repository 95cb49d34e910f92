package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/issuetracker/backend/internal/auth"
	"github.com/issuetracker/backend/internal/db"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/policy"
)

// Authorizer decides whether a user may watch a project.
type Authorizer interface {
	Authorize(ctx context.Context, userID, projectID uuid.UUID, action policy.Action) error
}

// Handler handles WebSocket connections.
type Handler struct {
	hub      *Hub
	authz    Authorizer
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. Browser origins must be in
// allowedOrigins since the session cookie rides along on the upgrade.
func NewHandler(hub *Hub, authz Authorizer, allowedOrigins []string) *Handler {
	return &Handler{
		hub:   hub,
		authz: authz,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser client
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWS upgrades a session-authenticated request to an event stream for
// the project in the path. Only members of the project may subscribe.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) error {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("Not authorized")
	}

	projectID, err := uuid.Parse(r.PathValue("projectId"))
	if err != nil {
		return apperrors.ValidationError("Invalid project id")
	}

	if err := h.authz.Authorize(r.Context(), user.ID, projectID, policy.ActionViewProject); err != nil {
		if errors.Is(err, db.ErrProjectNotFound) || errors.Is(err, policy.ErrForbidden) {
			return apperrors.NotFound("Project")
		}
		return apperrors.DatabaseError("failed to resolve membership").WithCause(err)
	}

	// Upgrade writes its own error response on failure.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return nil
	}

	client := NewClient(h.hub, conn, projectID, user.ID)
	if !h.hub.Register(client) {
		conn.Close()
		return nil
	}

	go client.WritePump()
	go client.ReadPump()
	return nil
}
