// Package policy decides what a user may do inside a project.
//
// A user's role in a project is resolved from the project's owner field
// first and the membership relation second. Every gated operation names an
// Action, and the action table maps each one to the minimum role it needs.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/issuetracker/backend/internal/db"
	"github.com/issuetracker/backend/internal/metrics"
	"github.com/issuetracker/backend/internal/models"
)

type Action string

const (
	ActionViewProject       Action = "view_project"
	ActionContribute        Action = "contribute"
	ActionManageAttachments Action = "manage_attachments"
	ActionChangeRole        Action = "change_role"
	ActionDeleteProject     Action = "delete_project"
)

var requiredRole = map[Action]models.Role{
	ActionViewProject:       models.RoleMember,
	ActionContribute:        models.RoleMember,
	ActionManageAttachments: models.RoleAdmin,
	ActionChangeRole:        models.RoleAdmin,
	ActionDeleteProject:     models.RoleOwner,
}

var (
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidRole     = errors.New("invalid role")
	ErrOwnerMembership = errors.New("owner membership cannot be changed")
)

// DeniedError reports which action was refused and the role the caller had.
type DeniedError struct {
	Action Action
	Role   models.Role
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

func (e *DeniedError) Unwrap() error {
	return ErrForbidden
}

// Store is the slice of persistence the policy reads and mutates.
type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetMembership(ctx context.Context, userID, projectID uuid.UUID) (*models.Membership, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpsertMembership(ctx context.Context, m *models.Membership) error
	DeleteMembership(ctx context.Context, userID, projectID uuid.UUID) error
	DeleteProject(ctx context.Context, id uuid.UUID) ([]string, error)
}

type Policy struct {
	store   Store
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store Store, m *metrics.Metrics) *Policy {
	return &Policy{store: store, metrics: m, now: time.Now}
}

// RoleOf resolves userID's role in projectID. The zero Role means the user
// has no access. A missing project returns db.ErrProjectNotFound.
func (p *Policy) RoleOf(ctx context.Context, userID, projectID uuid.UUID) (models.Role, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	return p.roleIn(ctx, userID, project)
}

func (p *Policy) roleIn(ctx context.Context, userID uuid.UUID, project *models.Project) (models.Role, error) {
	if project.OwnerID == userID {
		return models.RoleOwner, nil
	}

	m, err := p.store.GetMembership(ctx, userID, project.ID)
	if err != nil {
		if errors.Is(err, db.ErrMembershipNotFound) {
			return "", nil
		}
		return "", err
	}
	return m.Role, nil
}

// Authorize returns nil when userID may perform action in projectID and a
// *DeniedError when it may not. Unknown actions are always denied.
func (p *Policy) Authorize(ctx context.Context, userID, projectID uuid.UUID, action Action) error {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	_, err = p.authorize(ctx, userID, project, action)
	return err
}

func (p *Policy) authorize(ctx context.Context, userID uuid.UUID, project *models.Project, action Action) (models.Role, error) {
	role, err := p.roleIn(ctx, userID, project)
	if err != nil {
		return "", err
	}

	return role, p.Check(role, action)
}

// Check decides action for an already resolved role without touching the
// store. Callers that test several actions resolve the role once with RoleOf.
func (p *Policy) Check(role models.Role, action Action) error {
	need, known := requiredRole[action]
	if !known || !role.AtLeast(need) {
		p.metrics.AuthzDenied(string(action))
		return &DeniedError{Action: action, Role: role}
	}
	return nil
}

// ChangeRole sets target's role in projectID, creating the membership if
// absent. The caller must hold admin. Repeating the call is a no-op.
func (p *Policy) ChangeRole(ctx context.Context, actorID, projectID, targetID uuid.UUID, role models.Role) error {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := p.authorize(ctx, actorID, project, ActionChangeRole); err != nil {
		return err
	}

	if !role.Assignable() {
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	if targetID == project.OwnerID {
		return ErrOwnerMembership
	}
	if _, err := p.store.GetUserByID(ctx, targetID); err != nil {
		return err
	}

	return p.store.UpsertMembership(ctx, &models.Membership{
		UserID:    targetID,
		ProjectID: projectID,
		Role:      role,
		UpdatedAt: p.now().UTC(),
	})
}

// RevokeMembership removes target from projectID. Revoking a user who is
// not a member succeeds.
func (p *Policy) RevokeMembership(ctx context.Context, actorID, projectID, targetID uuid.UUID) error {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := p.authorize(ctx, actorID, project, ActionChangeRole); err != nil {
		return err
	}
	if targetID == project.OwnerID {
		return ErrOwnerMembership
	}

	err = p.store.DeleteMembership(ctx, targetID, projectID)
	if errors.Is(err, db.ErrMembershipNotFound) {
		return nil
	}
	return err
}

// DeleteProject removes the project and all of its descendants. Only the
// owner may do so. The returned storage keys belong to deleted attachments.
func (p *Policy) DeleteProject(ctx context.Context, actorID, projectID uuid.UUID) ([]string, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := p.authorize(ctx, actorID, project, ActionDeleteProject); err != nil {
		return nil, err
	}
	return p.store.DeleteProject(ctx, projectID)
}
