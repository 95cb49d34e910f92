package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/issuetracker/backend/internal/db"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/models"
	"github.com/issuetracker/backend/internal/policy"
	"github.com/issuetracker/backend/internal/storage"
	"github.com/issuetracker/backend/internal/websocket"
)

// attachmentField is the multipart form field carrying the file.
const attachmentField = "attachment"

type AttachmentResponse struct {
	Message    string             `json:"message"`
	Attachment *models.Attachment `json:"attachment"`
}

type AttachmentListResponse struct {
	Message     string              `json:"message"`
	Attachments []models.Attachment `json:"attachments"`
}

func adminOnly() *apperrors.AppError {
	return apperrors.Forbidden("Only admin can manage attachments")
}

func (h *Handlers) UploadAttachment(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	issueID, err := pathID(r, "issueId")
	if err != nil {
		return err
	}

	issue, err := h.issueFor(r.Context(), user.ID, issueID, policy.ActionManageAttachments, adminOnly())
	if err != nil {
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile(attachmentField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.ValidationError("File too large")
		}
		return apperrors.ValidationError("No file uploaded")
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachment := &models.Attachment{
		ID:          uuid.New(),
		IssueID:     issueID,
		UploadedBy:  user.ID,
		FileName:    filepath.Base(header.Filename),
		ContentType: contentType,
		Size:        header.Size,
		CreatedAt:   h.now().UTC(),
	}
	attachment.StorageKey = storage.AttachmentKey(issueID, attachment.ID)

	if err := h.blobs.Put(r.Context(), attachment.StorageKey, file, header.Size, contentType); err != nil {
		return apperrors.StorageError("failed to store attachment").WithCause(err)
	}

	if err := h.store.CreateAttachment(r.Context(), attachment); err != nil {
		h.deleteBlobs(r.Context(), []string{attachment.StorageKey})
		if errors.Is(err, db.ErrIssueNotFound) {
			return apperrors.NotFound("Issue")
		}
		return apperrors.DatabaseError("failed to save attachment").WithCause(err)
	}

	h.log.Info(r.Context(), "attachment uploaded",
		zap.String("attachment_id", attachment.ID.String()),
		zap.Int64("size", attachment.Size),
	)
	h.events.Publish(websocket.Event{
		Type: websocket.AttachmentAdded, ProjectID: issue.ProjectID, IssueID: issueID, AttachmentID: &attachment.ID,
	})
	writeJSON(w, r, http.StatusCreated, AttachmentResponse{
		Message:    "Attachment uploaded successfully",
		Attachment: attachment,
	})
	return nil
}

func (h *Handlers) ListAttachments(w http.ResponseWriter, r *http.Request) error {
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

	attachments, err := h.store.ListAttachments(r.Context(), issueID)
	if err != nil {
		return apperrors.DatabaseError("failed to list attachments").WithCause(err)
	}

	writeJSON(w, r, http.StatusOK, AttachmentListResponse{
		Message:     "Attachments retrieved successfully",
		Attachments: attachments,
	})
	return nil
}

// DownloadAttachment streams the stored body to any member of the project.
func (h *Handlers) DownloadAttachment(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	attachmentID, err := pathID(r, "attachmentId")
	if err != nil {
		return err
	}

	attachment, err := h.store.GetAttachment(r.Context(), attachmentID)
	if err != nil {
		if errors.Is(err, db.ErrAttachmentNotFound) {
			return apperrors.NotFound("Attachment")
		}
		return apperrors.DatabaseError("failed to load attachment").WithCause(err)
	}
	if _, err := h.issueFor(r.Context(), user.ID, attachment.IssueID, policy.ActionViewProject, nil); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeNotFound {
			return apperrors.NotFound("Attachment")
		}
		return err
	}

	body, info, err := h.blobs.Get(r.Context(), attachment.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return apperrors.NotFound("Attachment")
		}
		return apperrors.StorageError("failed to read attachment").WithCause(err)
	}
	defer body.Close()

	w.Header().Set("Content-Type", attachment.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": attachment.FileName,
	}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		// headers are gone; nothing to report to the client
		h.log.Warn(r.Context(), "attachment stream interrupted", zap.Error(err))
	}
	return nil
}

func (h *Handlers) DeleteAttachment(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	issueID, err := pathID(r, "issueId")
	if err != nil {
		return err
	}
	attachmentID, err := pathID(r, "attachmentId")
	if err != nil {
		return err
	}

	issue, err := h.issueFor(r.Context(), user.ID, issueID, policy.ActionManageAttachments, adminOnly())
	if err != nil {
		return err
	}

	attachment, err := h.store.GetAttachment(r.Context(), attachmentID)
	if err != nil || attachment.IssueID != issueID {
		if err == nil || errors.Is(err, db.ErrAttachmentNotFound) {
			return apperrors.NotFound("Attachment")
		}
		return apperrors.DatabaseError("failed to load attachment").WithCause(err)
	}

	if err := h.store.DeleteAttachment(r.Context(), attachmentID); err != nil {
		if errors.Is(err, db.ErrAttachmentNotFound) {
			return apperrors.NotFound("Attachment")
		}
		return apperrors.DatabaseError("failed to delete attachment").WithCause(err)
	}
	h.deleteBlobs(r.Context(), []string{attachment.StorageKey})

	h.events.Publish(websocket.Event{
		Type: websocket.AttachmentRemoved, ProjectID: issue.ProjectID, IssueID: issueID, AttachmentID: &attachmentID,
	})
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "Attachment deleted successfully"})
	return nil
}
