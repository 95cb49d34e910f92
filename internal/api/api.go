package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/issuetracker/backend/internal/auth"
	"github.com/issuetracker/backend/internal/db"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/logger"
	"github.com/issuetracker/backend/internal/models"
	"github.com/issuetracker/backend/internal/policy"
	"github.com/issuetracker/backend/internal/storage"
	"github.com/issuetracker/backend/internal/websocket"
)

type ProjectStore interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjectsForUser(ctx context.Context, userID uuid.UUID) ([]models.Project, error)
	ListMembers(ctx context.Context, projectID uuid.UUID) ([]models.Member, error)
}

type IssueStore interface {
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id uuid.UUID) (*models.Issue, error)
	ListIssues(ctx context.Context, projectID uuid.UUID) ([]models.Issue, error)
	UpdateIssue(ctx context.Context, id uuid.UUID, upd models.IssueUpdate) (*models.Issue, error)
	DeleteIssue(ctx context.Context, id uuid.UUID) ([]string, error)
}

type CommentStore interface {
	CreateComment(ctx context.Context, c *models.Comment) error
	ListComments(ctx context.Context, issueID uuid.UUID) ([]models.Comment, error)
	GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error)
	UpdateComment(ctx context.Context, id uuid.UUID, text string) (*models.Comment, error)
	DeleteComment(ctx context.Context, id uuid.UUID) error
}

type AttachmentStore interface {
	CreateAttachment(ctx context.Context, a *models.Attachment) error
	GetAttachment(ctx context.Context, id uuid.UUID) (*models.Attachment, error)
	ListAttachments(ctx context.Context, issueID uuid.UUID) ([]models.Attachment, error)
	DeleteAttachment(ctx context.Context, id uuid.UUID) error
}

// Store is everything the resource handlers read and write. Both
// *db.Store and *memory.Store satisfy it.
type Store interface {
	ProjectStore
	IssueStore
	CommentStore
	AttachmentStore
}

// Authorizer is the project policy as seen by the handlers.
type Authorizer interface {
	RoleOf(ctx context.Context, userID, projectID uuid.UUID) (models.Role, error)
	Authorize(ctx context.Context, userID, projectID uuid.UUID, action policy.Action) error
	Check(role models.Role, action policy.Action) error
	ChangeRole(ctx context.Context, actorID, projectID, targetID uuid.UUID, role models.Role) error
	RevokeMembership(ctx context.Context, actorID, projectID, targetID uuid.UUID) error
	DeleteProject(ctx context.Context, actorID, projectID uuid.UUID) ([]string, error)
}

// Handlers serves the project, issue, comment and attachment routes. Every
// route expects the session middleware to have run.
type Handlers struct {
	store     Store
	authz     Authorizer
	blobs     storage.BlobStore
	events    websocket.Publisher
	maxUpload int64
	log       *logger.Logger
	now       func() time.Time
}

type HandlersConfig struct {
	Store  Store
	Authz  Authorizer
	Blobs  storage.BlobStore
	Events websocket.Publisher
	// MaxUploadBytes caps attachment request bodies.
	MaxUploadBytes int64
}

func NewHandlers(cfg HandlersConfig) *Handlers {
	events := cfg.Events
	if events == nil {
		events = websocket.Discard{}
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Handlers{
		store:     cfg.Store,
		authz:     cfg.Authz,
		blobs:     cfg.Blobs,
		events:    events,
		maxUpload: maxUpload,
		log:       logger.Default().WithComponent("api"),
		now:       time.Now,
	}
}

type MessageResponse struct {
	Message string `json:"message"`
}

func currentUser(r *http.Request) (*models.User, error) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return nil, apperrors.Unauthorized("Not authorized")
	}
	return user, nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("Invalid " + name)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.ValidationError("Invalid data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), status, v)
}

// authzError maps a policy failure. missing is returned when the project
// does not exist and denied when the caller lacks the role.
func authzError(err error, missing, denied *apperrors.AppError) error {
	switch {
	case errors.Is(err, db.ErrProjectNotFound):
		return missing
	case errors.Is(err, policy.ErrForbidden):
		return denied
	default:
		return apperrors.DatabaseError("failed to resolve membership").WithCause(err)
	}
}

func notMember() *apperrors.AppError {
	return apperrors.Forbidden("You are not a member of this project")
}

// issueFor loads an issue and checks action against its project. A caller
// who may not see the project gets the same 404 as for a missing issue.
func (h *Handlers) issueFor(ctx context.Context, userID, issueID uuid.UUID, action policy.Action, denied *apperrors.AppError) (*models.Issue, error) {
	issue, err := h.store.GetIssue(ctx, issueID)
	if err != nil {
		if errors.Is(err, db.ErrIssueNotFound) {
			return nil, apperrors.NotFound("Issue")
		}
		return nil, apperrors.DatabaseError("failed to load issue").WithCause(err)
	}

	role, err := h.authz.RoleOf(ctx, userID, issue.ProjectID)
	if err != nil {
		return nil, authzError(err, apperrors.NotFound("Issue"), apperrors.NotFound("Issue"))
	}
	if err := h.authz.Check(role, policy.ActionViewProject); err != nil {
		return nil, apperrors.NotFound("Issue")
	}
	if action != policy.ActionViewProject {
		if err := h.authz.Check(role, action); err != nil {
			return nil, denied
		}
	}
	return issue, nil
}

// deleteBlobs removes attachment bodies whose rows are already gone. A
// failure leaves orphaned objects, which is logged but not reported.
func (h *Handlers) deleteBlobs(ctx context.Context, keys []string) {
	if len(keys) == 0 || h.blobs == nil {
		return
	}
	if err := storage.DeleteAll(ctx, h.blobs, keys); err != nil {
		h.log.Error(ctx, "failed to delete attachment objects", err)
	}
}
