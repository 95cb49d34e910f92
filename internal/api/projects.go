package api

import (
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/issuetracker/backend/internal/db"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/models"
	"github.com/issuetracker/backend/internal/policy"
	"github.com/issuetracker/backend/internal/websocket"
)

type CreateProjectRequest struct {
	Title string `json:"title"`
	Key   string `json:"key"`
}

func (r CreateProjectRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Key, validation.Required),
	)
}

// ChangeRoleRequest sets a user's role. Role "none" removes the membership.
type ChangeRoleRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (r ChangeRoleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, is.UUID),
		validation.Field(&r.Role, validation.Required, validation.In("admin", "member", "none")),
	)
}

type ProjectResponse struct {
	Message string          `json:"message"`
	Project *models.Project `json:"project"`
}

type ProjectListResponse struct {
	Message  string           `json:"message"`
	Projects []models.Project `json:"projects"`
}

type ProjectUsersResponse struct {
	Message string          `json:"message"`
	Users   []models.Member `json:"users"`
}

func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var req CreateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return apperrors.ValidationError("Invalid data")
	}

	project := &models.Project{
		ID:        uuid.New(),
		Title:     strings.TrimSpace(req.Title),
		Key:       models.NormalizeProjectKey(req.Key),
		OwnerID:   user.ID,
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.Unauthorized("Not authorized")
		}
		return apperrors.DatabaseError("failed to create project").WithCause(err)
	}

	h.log.Info(r.Context(), "project created",
		zap.String("project_id", project.ID.String()),
		zap.String("owner_id", user.ID.String()),
	)
	writeJSON(w, r, http.StatusCreated, ProjectResponse{
		Message: "Project created successfully",
		Project: project,
	})
	return nil
}

func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	projects, err := h.store.ListProjectsForUser(r.Context(), user.ID)
	if err != nil {
		return apperrors.DatabaseError("failed to list projects").WithCause(err)
	}

	writeJSON(w, r, http.StatusOK, ProjectListResponse{
		Message:  "Projects retrieved successfully",
		Projects: projects,
	})
	return nil
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "id")
	if err != nil {
		return err
	}

	if err := h.authz.Authorize(r.Context(), user.ID, projectID, policy.ActionViewProject); err != nil {
		return authzError(err, apperrors.NotFound("Project"), apperrors.NotFound("Project"))
	}

	project, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, db.ErrProjectNotFound) {
			return apperrors.NotFound("Project")
		}
		return apperrors.DatabaseError("failed to load project").WithCause(err)
	}

	writeJSON(w, r, http.StatusOK, ProjectResponse{
		Message: "Project retrieved successfully",
		Project: project,
	})
	return nil
}

func (h *Handlers) GetProjectUsers(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "id")
	if err != nil {
		return err
	}

	if err := h.authz.Authorize(r.Context(), user.ID, projectID, policy.ActionViewProject); err != nil {
		return authzError(err, apperrors.NotFound("Project"), apperrors.NotFound("Project"))
	}

	project, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		return apperrors.DatabaseError("failed to load project").WithCause(err)
	}
	members, err := h.store.ListMembers(r.Context(), projectID)
	if err != nil {
		return apperrors.DatabaseError("failed to list project users").WithCause(err)
	}

	// The owner is stored as an admin; report the resolved role.
	for i := range members {
		if members[i].User.ID == project.OwnerID {
			members[i].Role = models.RoleOwner
		}
	}

	writeJSON(w, r, http.StatusOK, ProjectUsersResponse{
		Message: "Project users retrieved successfully",
		Users:   members,
	})
	return nil
}

func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "id")
	if err != nil {
		return err
	}

	keys, err := h.authz.DeleteProject(r.Context(), user.ID, projectID)
	if err != nil {
		return authzError(err, apperrors.NotFound("Project"), apperrors.Forbidden("Only owner can delete project"))
	}
	h.deleteBlobs(r.Context(), keys)
	h.events.Publish(websocket.Event{Type: websocket.ProjectDeleted, ProjectID: projectID})

	h.log.Info(r.Context(), "project deleted",
		zap.String("project_id", projectID.String()),
		zap.Int("attachments", len(keys)),
	)
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "Project deleted successfully"})
	return nil
}

func (h *Handlers) ChangeRole(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return err
	}

	var req ChangeRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return apperrors.ValidationError("Invalid data")
	}
	targetID := uuid.MustParse(req.UserID)

	if req.Role == "none" {
		err = h.authz.RevokeMembership(r.Context(), user.ID, projectID, targetID)
	} else {
		role, perr := models.ParseRole(req.Role)
		if perr != nil {
			return apperrors.ValidationError("Invalid data")
		}
		err = h.authz.ChangeRole(r.Context(), user.ID, projectID, targetID, role)
	}

	switch {
	case err == nil:
	case errors.Is(err, policy.ErrOwnerMembership):
		return apperrors.BadRequest("Owner role cannot be changed")
	case errors.Is(err, policy.ErrInvalidRole):
		return apperrors.ValidationError("Invalid data")
	case errors.Is(err, db.ErrUserNotFound):
		return apperrors.BadRequest("User does not exist")
	default:
		return authzError(err, apperrors.NotFound("Project"), apperrors.BadRequest("Only admin can change roles"))
	}

	if req.Role == "none" {
		h.events.Publish(websocket.Event{Type: websocket.MemberRemoved, ProjectID: projectID, UserID: &targetID})
	}

	h.log.Info(r.Context(), "project role changed",
		zap.String("project_id", projectID.String()),
		zap.String("user_id", targetID.String()),
		zap.String("role", req.Role),
	)
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "Role changed successfully"})
	return nil
}
