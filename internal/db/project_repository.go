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

type ProjectRepository struct {
	db *DB
}

func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// CreateProject inserts the project and the owner's admin membership in one
// transaction.
func (r *ProjectRepository) CreateProject(ctx context.Context, project *models.Project) error {
	return r.db.WithTx(ctx, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, title, key, owner_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, project.ID, project.Title, project.Key, project.OwnerID, project.CreatedAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrUserNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_members (user_id, project_id, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
		`, project.OwnerID, project.ID, models.RoleAdmin, project.CreatedAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (r *ProjectRepository) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `
		SELECT id, title, key, owner_id, created_at
		FROM projects
		WHERE id = $1
	`

	p := &models.Project{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Title, &p.Key, &p.OwnerID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

// ListProjectsForUser returns the projects userID is a member of.
func (r *ProjectRepository) ListProjectsForUser(ctx context.Context, userID uuid.UUID) ([]models.Project, error) {
	query := `
		SELECT p.id, p.title, p.key, p.owner_id, p.created_at
		FROM projects p
		JOIN project_members m ON m.project_id = p.id
		WHERE m.user_id = $1
		ORDER BY p.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Key, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes the project and everything under it in one
// transaction, children first. It returns the storage keys of the removed
// attachments so the caller can delete the blobs after commit.
func (r *ProjectRepository) DeleteProject(ctx context.Context, id uuid.UUID) ([]string, error) {
	var keys []string
	err := r.db.WithTx(ctx, func(ctx context.Context, tx DBTX) error {
		var err error
		keys, err = selectStorageKeys(ctx, tx, `
			SELECT a.storage_key
			FROM attachments a
			JOIN issues i ON i.id = a.issue_id
			WHERE i.project_id = $1
		`, id)
		if err != nil {
			return err
		}

		statements := []string{
			`DELETE FROM comments WHERE issue_id IN (SELECT id FROM issues WHERE project_id = $1)`,
			`DELETE FROM attachments WHERE issue_id IN (SELECT id FROM issues WHERE project_id = $1)`,
			`DELETE FROM issues WHERE project_id = $1`,
			`DELETE FROM project_members WHERE project_id = $1`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return expectAffected(res, ErrProjectNotFound)
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// UpsertMembership creates the membership or updates its role, keeping a
// single row per (user, project).
func (r *ProjectRepository) UpsertMembership(ctx context.Context, m *models.Membership) error {
	query := `
		INSERT INTO project_members (user_id, project_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, project_id)
		DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at
	`

	now := m.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query, m.UserID, m.ProjectID, m.Role, now)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetMembership(ctx context.Context, userID, projectID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT user_id, project_id, role, created_at, updated_at
		FROM project_members
		WHERE user_id = $1 AND project_id = $2
	`

	m := &models.Membership{}
	err := r.db.QueryRowContext(ctx, query, userID, projectID).Scan(
		&m.UserID, &m.ProjectID, &m.Role, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *ProjectRepository) DeleteMembership(ctx context.Context, userID, projectID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE user_id = $1 AND project_id = $2`, userID, projectID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectAffected(res, ErrMembershipNotFound)
}

func (r *ProjectRepository) ListMembers(ctx context.Context, projectID uuid.UUID) ([]models.Member, error) {
	query := `
		SELECT u.id, u.username, u.email, m.role
		FROM project_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.project_id = $1
		ORDER BY m.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.User.ID, &m.User.Username, &m.User.Email, &m.Role); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func selectStorageKeys(ctx context.Context, q DBTX, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
