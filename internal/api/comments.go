package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/issuetracker/backend/internal/db"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/models"
	"github.com/issuetracker/backend/internal/policy"
	"github.com/issuetracker/backend/internal/websocket"
)

const notAuthorMessage = "Comment does not exists or you are not the author of this comment"

type CommentRequest struct {
	Text string `json:"text"`
}

type CommentResponse struct {
	Message string          `json:"message"`
	Comment *models.Comment `json:"comment"`
}

type CommentListResponse struct {
	Message  string           `json:"message"`
	Comments []models.Comment `json:"comments"`
}

func (h *Handlers) CreateComment(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	issueID, err := pathID(r, "issueId")
	if err != nil {
		return err
	}

	var req CommentRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		return apperrors.ValidationError("Invalid data")
	}

	issue, err := h.issueFor(r.Context(), user.ID, issueID, policy.ActionContribute, notMember())
	if err != nil {
		return err
	}

	now := h.now().UTC()
	author := user.Public()
	comment := &models.Comment{
		ID:        uuid.New(),
		IssueID:   issueID,
		UserID:    user.ID,
		Text:      req.Text,
		User:      &author,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateComment(r.Context(), comment); err != nil {
		if errors.Is(err, db.ErrIssueNotFound) {
			return apperrors.NotFound("Issue")
		}
		return apperrors.DatabaseError("failed to create comment").WithCause(err)
	}

	h.events.Publish(websocket.Event{
		Type: websocket.CommentCreated, ProjectID: issue.ProjectID, IssueID: issueID, CommentID: &comment.ID,
	})
	writeJSON(w, r, http.StatusCreated, CommentResponse{
		Message: "Comment created successfully",
		Comment: comment,
	})
	return nil
}

func (h *Handlers) ListComments(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	issueID, err := pathID(r, "issueId")
	if err != nil {
		return err
	}

	if _, err := h.issueFor(r.Context(), user.ID, issueID, policy.ActionViewProject, nil); err != nil {
		return err
	}

	comments, err := h.store.ListComments(r.Context(), issueID)
	if err != nil {
		return apperrors.DatabaseError("failed to list comments").WithCause(err)
	}

	writeJSON(w, r, http.StatusOK, CommentListResponse{
		Message:  "Comments retrieved successfully",
		Comments: comments,
	})
	return nil
}

// commentFor loads a comment and the issue it belongs to, checking that
// the caller can see the issue's project.
func (h *Handlers) commentFor(r *http.Request, userID, commentID uuid.UUID) (*models.Comment, *models.Issue, error) {
	comment, err := h.store.GetComment(r.Context(), commentID)
	if err != nil {
		if errors.Is(err, db.ErrCommentNotFound) {
			return nil, nil, apperrors.NotFound("Comment")
		}
		return nil, nil, apperrors.DatabaseError("failed to load comment").WithCause(err)
	}

	issue, err := h.issueFor(r.Context(), userID, comment.IssueID, policy.ActionViewProject, nil)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeNotFound {
			return nil, nil, apperrors.NotFound("Comment")
		}
		return nil, nil, err
	}
	return comment, issue, nil
}

func (h *Handlers) GetComment(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	commentID, err := pathID(r, "commentId")
	if err != nil {
		return err
	}

	comment, _, err := h.commentFor(r, user.ID, commentID)
	if err != nil {
		return err
	}

	writeJSON(w, r, http.StatusOK, CommentResponse{
		Message: "Comment retrieved successfully",
		Comment: comment,
	})
	return nil
}

func (h *Handlers) UpdateComment(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	commentID, err := pathID(r, "commentId")
	if err != nil {
		return err
	}

	var req CommentRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		return apperrors.ValidationError("Comment body could not be empty")
	}

	existing, err := h.store.GetComment(r.Context(), commentID)
	if err != nil {
		if errors.Is(err, db.ErrCommentNotFound) {
			return apperrors.BadRequest(notAuthorMessage)
		}
		return apperrors.DatabaseError("failed to load comment").WithCause(err)
	}
	if existing.UserID != user.ID {
		return apperrors.BadRequest(notAuthorMessage)
	}
	issue, err := h.issueFor(r.Context(), user.ID, existing.IssueID, policy.ActionContribute, notMember())
	if err != nil {
		return err
	}

	comment, err := h.store.UpdateComment(r.Context(), commentID, req.Text)
	if err != nil {
		if errors.Is(err, db.ErrCommentNotFound) {
			return apperrors.BadRequest(notAuthorMessage)
		}
		return apperrors.DatabaseError("failed to update comment").WithCause(err)
	}

	h.events.Publish(websocket.Event{
		Type: websocket.CommentUpdated, ProjectID: issue.ProjectID, IssueID: issue.ID, CommentID: &comment.ID,
	})
	writeJSON(w, r, http.StatusOK, CommentResponse{
		Message: "Comment updated successfully",
		Comment: comment,
	})
	return nil
}

// DeleteComment lets the author, or an admin of the project, remove a comment.
func (h *Handlers) DeleteComment(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	commentID, err := pathID(r, "commentId")
	if err != nil {
		return err
	}

	comment, issue, err := h.commentFor(r, user.ID, commentID)
	if err != nil {
		return err
	}

	role, err := h.authz.RoleOf(r.Context(), user.ID, issue.ProjectID)
	if err != nil {
		return authzError(err, apperrors.NotFound("Comment"), notMember())
	}
	isAuthor := comment.UserID == user.ID
	if !(isAuthor && role.AtLeast(models.RoleMember)) && !role.AtLeast(models.RoleAdmin) {
		return apperrors.Forbidden("Only the author or a project admin can delete this comment")
	}

	if err := h.store.DeleteComment(r.Context(), commentID); err != nil {
		if errors.Is(err, db.ErrCommentNotFound) {
			return apperrors.NotFound("Comment")
		}
		return apperrors.DatabaseError("failed to delete comment").WithCause(err)
	}

	h.events.Publish(websocket.Event{
		Type: websocket.CommentDeleted, ProjectID: issue.ProjectID, IssueID: issue.ID, CommentID: &commentID,
	})
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "Comment deleted successfully"})
	return nil
}
