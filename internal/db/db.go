package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrProjectNotFound    = errors.New("project not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrIssueNotFound      = errors.New("issue not found")
	ErrCommentNotFound    = errors.New("comment not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// Postgres error codes we react to.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type DB struct {
	*sql.DB
}

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open prepares a lib/pq handle. It does not contact the server; callers
// ping with their own retry policy.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{db}, nil
}

// WithTx runs fn inside a transaction and commits when it returns nil.
// Errors and panics roll back; panics are rethrown.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

func (db *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS projects (
		id UUID PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		key VARCHAR(64) NOT NULL,
		owner_id UUID NOT NULL REFERENCES users(id),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_projects_owner_id ON projects(owner_id);

	CREATE TABLE IF NOT EXISTS project_members (
		user_id UUID NOT NULL REFERENCES users(id),
		project_id UUID NOT NULL REFERENCES projects(id),
		role VARCHAR(16) NOT NULL CHECK (role IN ('admin', 'member')),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE (user_id, project_id)
	);

	CREATE INDEX IF NOT EXISTS idx_project_members_project_id ON project_members(project_id);

	CREATE TABLE IF NOT EXISTS issues (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		title VARCHAR(255) NOT NULL,
		key VARCHAR(64) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'todo' CHECK (status IN ('todo', 'inprogress', 'done')),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_issues_project_id ON issues(project_id);

	CREATE TABLE IF NOT EXISTS comments (
		id UUID PRIMARY KEY,
		issue_id UUID NOT NULL REFERENCES issues(id),
		user_id UUID NOT NULL REFERENCES users(id),
		text TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_comments_issue_id ON comments(issue_id);

	CREATE TABLE IF NOT EXISTS attachments (
		id UUID PRIMARY KEY,
		issue_id UUID NOT NULL REFERENCES issues(id),
		uploaded_by UUID NOT NULL REFERENCES users(id),
		file_name VARCHAR(255) NOT NULL,
		content_type VARCHAR(255) NOT NULL,
		size BIGINT NOT NULL,
		storage_key VARCHAR(512) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_attachments_issue_id ON attachments(issue_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pqCode(err) == pqForeignKeyViolation
}

// Store aggregates every repository over one database handle.
type Store struct {
	*UserRepository
	*ProjectRepository
	*IssueRepository
	*CommentRepository
	*AttachmentRepository
}

func NewStore(db *DB) *Store {
	return &Store{
		UserRepository:       NewUserRepository(db),
		ProjectRepository:    NewProjectRepository(db),
		IssueRepository:      NewIssueRepository(db),
		CommentRepository:    NewCommentRepository(db),
		AttachmentRepository: NewAttachmentRepository(db),
	}
}
