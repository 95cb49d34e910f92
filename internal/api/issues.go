package api

import (
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"

	"github.com/issuetracker/backend/internal/db"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/models"
	"github.com/issuetracker/backend/internal/policy"
	"github.com/issuetracker/backend/internal/websocket"
)

const invalidStatus = "Invalid status, use 'todo', 'inprogress' or 'done'"

type CreateIssueRequest struct {
	Title       string `json:"title"`
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (r CreateIssueRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Key, validation.Required),
	)
}

// UpdateIssueRequest is a partial update; absent fields are unchanged.
type UpdateIssueRequest struct {
	Title       *string `json:"title,omitempty"`
	Key         *string `json:"key,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

func (r UpdateIssueRequest) Validate() error {
	if blank(r.Title) || blank(r.Key) {
		return errors.New("title and key may not be blank")
	}
	return nil
}

func blank(s *string) bool {
	return s != nil && strings.TrimSpace(*s) == ""
}

type IssueResponse struct {
	Message string        `json:"message"`
	Issue   *models.Issue `json:"issue"`
}

type IssueListResponse struct {
	Message string         `json:"message"`
	Issues  []models.Issue `json:"issues"`
}

func parseStatus(s string) (models.IssueStatus, error) {
	if s == "" {
		return models.StatusTodo, nil
	}
	status := models.IssueStatus(s)
	if !status.Valid() {
		return "", apperrors.ValidationError(invalidStatus)
	}
	return status, nil
}

func (h *Handlers) CreateIssue(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return err
	}

	var req CreateIssueRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return apperrors.ValidationError("Invalid data")
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		return err
	}

	if err := h.authz.Authorize(r.Context(), user.ID, projectID, policy.ActionContribute); err != nil {
		return authzError(err, apperrors.BadRequest("Project does not exist"), notMember())
	}

	now := h.now().UTC()
	issue := &models.Issue{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Title:       strings.TrimSpace(req.Title),
		Key:         strings.TrimSpace(req.Key),
		Description: req.Description,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateIssue(r.Context(), issue); err != nil {
		if errors.Is(err, db.ErrProjectNotFound) {
			return apperrors.BadRequest("Project does not exist")
		}
		return apperrors.DatabaseError("failed to create issue").WithCause(err)
	}

	h.events.Publish(websocket.Event{Type: websocket.IssueCreated, ProjectID: projectID, IssueID: issue.ID})
	writeJSON(w, r, http.StatusCreated, IssueResponse{
		Message: "Issue created successfully",
		Issue:   issue,
	})
	return nil
}

func (h *Handlers) GetIssue(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	issueID, err := pathID(r, "issueId")
	if err != nil {
		return err
	}

	issue, err := h.issueFor(r.Context(), user.ID, issueID, policy.ActionViewProject, nil)
	if err != nil {
		return err
	}

	writeJSON(w, r, http.StatusOK, IssueResponse{
		Message: "Issue retrieved successfully",
		Issue:   issue,
	})
	return nil
}

func (h *Handlers) ListIssues(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return err
	}

	if err := h.authz.Authorize(r.Context(), user.ID, projectID, policy.ActionViewProject); err != nil {
		return authzError(err, apperrors.NotFound("Project"), apperrors.NotFound("Project"))
	}

	issues, err := h.store.ListIssues(r.Context(), projectID)
	if err != nil {
		return apperrors.DatabaseError("failed to list issues").WithCause(err)
	}

	writeJSON(w, r, http.StatusOK, IssueListResponse{
		Message: "Issues retrieved successfully",
		Issues:  issues,
	})
	return nil
}

func (h *Handlers) UpdateIssue(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	issueID, err := pathID(r, "issueId")
	if err != nil {
		return err
	}

	var req UpdateIssueRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return apperrors.ValidationError("Invalid data")
	}

	upd := models.IssueUpdate{
		Title:       trimmed(req.Title),
		Key:         trimmed(req.Key),
		Description: req.Description,
	}
	if req.Status != nil {
		status := models.IssueStatus(*req.Status)
		if !status.Valid() {
			return apperrors.ValidationError(invalidStatus)
		}
		upd.Status = &status
	}

	if _, err := h.issueFor(r.Context(), user.ID, issueID, policy.ActionContribute, notMember()); err != nil {
		return err
	}

	issue, err := h.store.UpdateIssue(r.Context(), issueID, upd)
	if err != nil {
		if errors.Is(err, db.ErrIssueNotFound) {
			return apperrors.NotFound("Issue")
		}
		return apperrors.DatabaseError("failed to update issue").WithCause(err)
	}

	h.events.Publish(websocket.Event{Type: websocket.IssueUpdated, ProjectID: issue.ProjectID, IssueID: issue.ID})
	writeJSON(w, r, http.StatusOK, IssueResponse{
		Message: "Issue updated successfully",
		Issue:   issue,
	})
	return nil
}

func (h *Handlers) DeleteIssue(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	issueID, err := pathID(r, "issueId")
	if err != nil {
		return err
	}

	issue, err := h.issueFor(r.Context(), user.ID, issueID, policy.ActionContribute, notMember())
	if err != nil {
		return err
	}

	keys, err := h.store.DeleteIssue(r.Context(), issueID)
	if err != nil {
		if errors.Is(err, db.ErrIssueNotFound) {
			return apperrors.NotFound("Issue")
		}
		return apperrors.DatabaseError("failed to delete issue").WithCause(err)
	}
	h.deleteBlobs(r.Context(), keys)

	h.events.Publish(websocket.Event{Type: websocket.IssueDeleted, ProjectID: issue.ProjectID, IssueID: issueID})
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "Issue deleted successfully"})
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
