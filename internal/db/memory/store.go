// Package memory is a mutex-guarded in-process implementation of the
// repositories in package db. It backs tests and the memory driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/issuetracker/backend/internal/db"
	"github.com/issuetracker/backend/internal/models"
)

type membershipKey struct {
	userID    uuid.UUID
	projectID uuid.UUID
}

type Store struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*models.User
	emails      map[string]uuid.UUID
	projects    map[uuid.UUID]*models.Project
	memberships map[membershipKey]*models.Membership
	issues      map[uuid.UUID]*models.Issue
	comments    map[uuid.UUID]*models.Comment
	attachments map[uuid.UUID]*models.Attachment
}

func New() *Store {
	return &Store{
		users:       make(map[uuid.UUID]*models.User),
		emails:      make(map[string]uuid.UUID),
		projects:    make(map[uuid.UUID]*models.Project),
		memberships: make(map[membershipKey]*models.Membership),
		issues:      make(map[uuid.UUID]*models.Issue),
		comments:    make(map[uuid.UUID]*models.Comment),
		attachments: make(map[uuid.UUID]*models.Attachment),
	}
}

// Ping always succeeds; it lets the store stand in for a database in
// readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[user.Email]; ok {
		return db.ErrEmailExists
	}
	u := *user
	s.users[u.ID] = &u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// DeleteUser removes a user record. Only tests use it; the service never
// deletes users.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return db.ErrUserNotFound
	}
	delete(s.emails, u.Email)
	delete(s.users, id)
	return nil
}

// Projects and memberships

func (s *Store) CreateProject(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[project.OwnerID]; !ok {
		return db.ErrUserNotFound
	}
	p := *project
	s.projects[p.ID] = &p
	s.memberships[membershipKey{p.OwnerID, p.ID}] = &models.Membership{
		UserID:    p.OwnerID,
		ProjectID: p.ID,
		Role:      models.RoleAdmin,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.CreatedAt,
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, db.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProjectsForUser(ctx context.Context, userID uuid.UUID) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := []models.Project{}
	for key := range s.memberships {
		if key.userID == userID {
			if p, ok := s.projects[key.projectID]; ok {
				projects = append(projects, *p)
			}
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].CreatedAt.Before(projects[j].CreatedAt) })
	return projects, nil
}

func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return nil, db.ErrProjectNotFound
	}

	var keys []string
	for issueID, issue := range s.issues {
		if issue.ProjectID == id {
			keys = append(keys, s.deleteIssueTreeLocked(issueID)...)
		}
	}
	for key := range s.memberships {
		if key.projectID == id {
			delete(s.memberships, key)
		}
	}
	delete(s.projects, id)
	return keys, nil
}

func (s *Store) UpsertMembership(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[m.UserID]; !ok {
		return db.ErrUserNotFound
	}
	if _, ok := s.projects[m.ProjectID]; !ok {
		return db.ErrProjectNotFound
	}

	now := m.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	key := membershipKey{m.UserID, m.ProjectID}
	if existing, ok := s.memberships[key]; ok {
		existing.Role = m.Role
		existing.UpdatedAt = now
		return nil
	}
	s.memberships[key] = &models.Membership{
		UserID:    m.UserID,
		ProjectID: m.ProjectID,
		Role:      m.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *Store) GetMembership(ctx context.Context, userID, projectID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[membershipKey{userID, projectID}]
	if !ok {
		return nil, db.ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) DeleteMembership(ctx context.Context, userID, projectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{userID, projectID}
	if _, ok := s.memberships[key]; !ok {
		return db.ErrMembershipNotFound
	}
	delete(s.memberships, key)
	return nil
}

func (s *Store) ListMembers(ctx context.Context, projectID uuid.UUID) ([]models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		member  models.Member
		created time.Time
	}
	var rows []row
	for key, m := range s.memberships {
		if key.projectID != projectID {
			continue
		}
		u, ok := s.users[key.userID]
		if !ok {
			continue
		}
		rows = append(rows, row{models.Member{User: u.Public(), Role: m.Role}, m.CreatedAt})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].created.Before(rows[j].created) })

	members := make([]models.Member, 0, len(rows))
	for _, r := range rows {
		members = append(members, r.member)
	}
	return members, nil
}

// Issues

func (s *Store) CreateIssue(ctx context.Context, issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[issue.ProjectID]; !ok {
		return db.ErrProjectNotFound
	}
	cp := *issue
	s.issues[cp.ID] = &cp
	return nil
}

func (s *Store) GetIssue(ctx context.Context, id uuid.UUID) (*models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.issues[id]
	if !ok {
		return nil, db.ErrIssueNotFound
	}
	cp := *i
	return &cp, nil
}

func (s *Store) ListIssues(ctx context.Context, projectID uuid.UUID) ([]models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issues := []models.Issue{}
	for _, i := range s.issues {
		if i.ProjectID == projectID {
			issues = append(issues, *i)
		}
	}
	sort.Slice(issues, func(a, b int) bool { return issues[a].CreatedAt.Before(issues[b].CreatedAt) })
	return issues, nil
}

func (s *Store) UpdateIssue(ctx context.Context, id uuid.UUID, upd models.IssueUpdate) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.issues[id]
	if !ok {
		return nil, db.ErrIssueNotFound
	}
	if upd.Title != nil {
		i.Title = *upd.Title
	}
	if upd.Key != nil {
		i.Key = *upd.Key
	}
	if upd.Description != nil {
		i.Description = *upd.Description
	}
	if upd.Status != nil {
		i.Status = *upd.Status
	}
	i.UpdatedAt = time.Now().UTC()
	cp := *i
	return &cp, nil
}

func (s *Store) DeleteIssue(ctx context.Context, id uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issues[id]; !ok {
		return nil, db.ErrIssueNotFound
	}
	return s.deleteIssueTreeLocked(id), nil
}

// deleteIssueTreeLocked removes an issue, its comments and attachments and
// returns the attachment storage keys. s.mu must be held.
func (s *Store) deleteIssueTreeLocked(issueID uuid.UUID) []string {
	for id, c := range s.comments {
		if c.IssueID == issueID {
			delete(s.comments, id)
		}
	}
	var keys []string
	for id, a := range s.attachments {
		if a.IssueID == issueID {
			keys = append(keys, a.StorageKey)
			delete(s.attachments, id)
		}
	}
	delete(s.issues, issueID)
	return keys
}

// Comments

func (s *Store) CreateComment(ctx context.Context, c *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issues[c.IssueID]; !ok {
		return db.ErrIssueNotFound
	}
	cp := *c
	cp.User = nil
	s.comments[cp.ID] = &cp
	return nil
}

func (s *Store) ListComments(ctx context.Context, issueID uuid.UUID) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	comments := []models.Comment{}
	for _, c := range s.comments {
		if c.IssueID != issueID {
			continue
		}
		cp := *c
		if u, ok := s.users[c.UserID]; ok {
			author := u.Public()
			cp.User = &author
		}
		comments = append(comments, cp)
	}
	sort.Slice(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	return comments, nil
}

func (s *Store) GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, db.ErrCommentNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateComment(ctx context.Context, id uuid.UUID, text string) (*models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, db.ErrCommentNotFound
	}
	c.Text = text
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	return &cp, nil
}

func (s *Store) DeleteComment(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[id]; !ok {
		return db.ErrCommentNotFound
	}
	delete(s.comments, id)
	return nil
}

// Attachments

func (s *Store) CreateAttachment(ctx context.Context, a *models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issues[a.IssueID]; !ok {
		return db.ErrIssueNotFound
	}
	cp := *a
	s.attachments[cp.ID] = &cp
	return nil
}

func (s *Store) GetAttachment(ctx context.Context, id uuid.UUID) (*models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attachments[id]
	if !ok {
		return nil, db.ErrAttachmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAttachments(ctx context.Context, issueID uuid.UUID) ([]models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attachments := []models.Attachment{}
	for _, a := range s.attachments {
		if a.IssueID == issueID {
			attachments = append(attachments, *a)
		}
	}
	sort.Slice(attachments, func(i, j int) bool { return attachments[i].CreatedAt.Before(attachments[j].CreatedAt) })
	return attachments, nil
}

func (s *Store) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attachments[id]; !ok {
		return db.ErrAttachmentNotFound
	}
	delete(s.attachments, id)
	return nil
}
