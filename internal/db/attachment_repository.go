package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/issuetracker/backend/internal/models"
)

type AttachmentRepository struct {
	db *DB
}

func NewAttachmentRepository(db *DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

const attachmentColumns = `id, issue_id, uploaded_by, file_name, content_type, size, storage_key, created_at`

func scanAttachment(row rowScanner) (*models.Attachment, error) {
	a := &models.Attachment{}
	err := row.Scan(&a.ID, &a.IssueID, &a.UploadedBy, &a.FileName, &a.ContentType, &a.Size, &a.StorageKey, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *AttachmentRepository) CreateAttachment(ctx context.Context, a *models.Attachment) error {
	query := `
		INSERT INTO attachments (` + attachmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.IssueID, a.UploadedBy, a.FileName, a.ContentType, a.Size, a.StorageKey, a.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrIssueNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *AttachmentRepository) GetAttachment(ctx context.Context, id uuid.UUID) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1`
	return scanAttachment(r.db.QueryRowContext(ctx, query, id))
}

func (r *AttachmentRepository) ListAttachments(ctx context.Context, issueID uuid.UUID) ([]models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE issue_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, issueID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	attachments := []models.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, *a)
	}
	return attachments, rows.Err()
}

func (r *AttachmentRepository) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectAffected(res, ErrAttachmentNotFound)
}
