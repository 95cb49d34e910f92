package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/issuetracker/backend/internal/models"
)

type IssueRepository struct {
	db *DB
}

func NewIssueRepository(db *DB) *IssueRepository {
	return &IssueRepository{db: db}
}

const issueColumns = `id, project_id, title, key, description, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	i := &models.Issue{}
	err := row.Scan(&i.ID, &i.ProjectID, &i.Title, &i.Key, &i.Description, &i.Status, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return i, nil
}

func (r *IssueRepository) CreateIssue(ctx context.Context, issue *models.Issue) error {
	query := `
		INSERT INTO issues (` + issueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		issue.ID, issue.ProjectID, issue.Title, issue.Key, issue.Description, issue.Status,
		issue.CreatedAt, issue.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *IssueRepository) GetIssue(ctx context.Context, id uuid.UUID) (*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id = $1`
	return scanIssue(r.db.QueryRowContext(ctx, query, id))
}

func (r *IssueRepository) ListIssues(ctx context.Context, projectID uuid.UUID) ([]models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE project_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	issues := []models.Issue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

// UpdateIssue applies the non-nil fields of upd and returns the new row.
func (r *IssueRepository) UpdateIssue(ctx context.Context, id uuid.UUID, upd models.IssueUpdate) (*models.Issue, error) {
	query := `
		UPDATE issues SET
			title = COALESCE($2, title),
			key = COALESCE($3, key),
			description = COALESCE($4, description),
			status = COALESCE($5, status),
			updated_at = $6
		WHERE id = $1
		RETURNING ` + issueColumns

	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}

	return scanIssue(r.db.QueryRowContext(ctx, query,
		id, upd.Title, upd.Key, upd.Description, status, time.Now().UTC(),
	))
}

// DeleteIssue removes the issue with its comments and attachment rows and
// returns the storage keys of the removed attachments.
func (r *IssueRepository) DeleteIssue(ctx context.Context, id uuid.UUID) ([]string, error) {
	var keys []string
	err := r.db.WithTx(ctx, func(ctx context.Context, tx DBTX) error {
		var err error
		keys, err = selectStorageKeys(ctx, tx, `SELECT storage_key FROM attachments WHERE issue_id = $1`, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE issue_id = $1`, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE issue_id = $1`, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return expectAffected(res, ErrIssueNotFound)
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
