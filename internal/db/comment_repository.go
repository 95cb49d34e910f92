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

type CommentRepository struct {
	db *DB
}

func NewCommentRepository(db *DB) *CommentRepository {
	return &CommentRepository{db: db}
}

func (r *CommentRepository) CreateComment(ctx context.Context, c *models.Comment) error {
	query := `
		INSERT INTO comments (id, issue_id, user_id, text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query, c.ID, c.IssueID, c.UserID, c.Text, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrIssueNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListComments returns the comments of an issue with their authors.
func (r *CommentRepository) ListComments(ctx context.Context, issueID uuid.UUID) ([]models.Comment, error) {
	query := `
		SELECT c.id, c.issue_id, c.user_id, c.text, c.created_at, c.updated_at,
			u.id, u.username, u.email
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.issue_id = $1
		ORDER BY c.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, issueID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		author := &models.PublicUser{}
		if err := rows.Scan(&c.ID, &c.IssueID, &c.UserID, &c.Text, &c.CreatedAt, &c.UpdatedAt,
			&author.ID, &author.Username, &author.Email); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		c.User = author
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (r *CommentRepository) GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	query := `
		SELECT id, issue_id, user_id, text, created_at, updated_at
		FROM comments
		WHERE id = $1
	`

	c := &models.Comment{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.IssueID, &c.UserID, &c.Text, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommentNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *CommentRepository) UpdateComment(ctx context.Context, id uuid.UUID, text string) (*models.Comment, error) {
	query := `
		UPDATE comments SET text = $2, updated_at = $3
		WHERE id = $1
		RETURNING id, issue_id, user_id, text, created_at, updated_at
	`

	c := &models.Comment{}
	err := r.db.QueryRowContext(ctx, query, id, text, time.Now().UTC()).Scan(
		&c.ID, &c.IssueID, &c.UserID, &c.Text, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommentNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *CommentRepository) DeleteComment(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectAffected(res, ErrCommentNotFound)
}
