package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuetracker/backend/internal/db"
	"github.com/issuetracker/backend/internal/db/memory"
	"github.com/issuetracker/backend/internal/models"
)

type fixture struct {
	store   *memory.Store
	policy  *Policy
	owner   *models.User
	admin   *models.User
	member  *models.User
	outside *models.User
	project *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	mk := func(email string) *models.User {
		u := &models.User{ID: uuid.New(), Username: email, Email: email, CreatedAt: time.Now()}
		require.NoError(t, s.CreateUser(ctx, u))
		return u
	}

	f := &fixture{
		store:   s,
		policy:  New(s, nil),
		owner:   mk("owner@x.com"),
		admin:   mk("admin@x.com"),
		member:  mk("member@x.com"),
		outside: mk("outside@x.com"),
	}
	f.project = &models.Project{ID: uuid.New(), Title: "P", Key: "KEY", OwnerID: f.owner.ID, CreatedAt: time.Now()}
	require.NoError(t, s.CreateProject(ctx, f.project))
	require.NoError(t, s.UpsertMembership(ctx, &models.Membership{UserID: f.admin.ID, ProjectID: f.project.ID, Role: models.RoleAdmin}))
	require.NoError(t, s.UpsertMembership(ctx, &models.Membership{UserID: f.member.ID, ProjectID: f.project.ID, Role: models.RoleMember}))
	return f
}

func TestRoleOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		user *models.User
		want models.Role
	}{
		{"owner resolved from project", f.owner, models.RoleOwner},
		{"admin membership", f.admin, models.RoleAdmin},
		{"member membership", f.member, models.RoleMember},
		{"non-member", f.outside, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := f.policy.RoleOf(ctx, tt.user.ID, f.project.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, role)
		})
	}
}

func TestRoleOf_MissingProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.policy.RoleOf(context.Background(), f.owner.ID, uuid.New())
	assert.ErrorIs(t, err, db.ErrProjectNotFound)
}

func TestAuthorize_Table(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		action  Action
		user    *models.User
		allowed bool
	}{
		{ActionViewProject, f.member, true},
		{ActionViewProject, f.outside, false},
		{ActionContribute, f.member, true},
		{ActionContribute, f.outside, false},
		{ActionManageAttachments, f.admin, true},
		{ActionManageAttachments, f.owner, true},
		{ActionManageAttachments, f.member, false},
		{ActionChangeRole, f.admin, true},
		{ActionChangeRole, f.member, false},
		{ActionDeleteProject, f.owner, true},
		{ActionDeleteProject, f.admin, false},
		{Action("unknown"), f.owner, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+tt.user.Email, func(t *testing.T) {
			err := f.policy.Authorize(ctx, tt.user.ID, f.project.ID, tt.action)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			var denied *DeniedError
			require.True(t, errors.As(err, &denied), "expected DeniedError, got %v", err)
			assert.Equal(t, tt.action, denied.Action)
			assert.ErrorIs(t, err, ErrForbidden)
		})
	}
}

func TestCheck(t *testing.T) {
	p := New(memory.New(), nil)

	assert.NoError(t, p.Check(models.RoleAdmin, ActionManageAttachments))
	assert.NoError(t, p.Check(models.RoleOwner, ActionDeleteProject))
	assert.ErrorIs(t, p.Check(models.RoleMember, ActionManageAttachments), ErrForbidden)
	assert.ErrorIs(t, p.Check("", ActionViewProject), ErrForbidden)
	assert.ErrorIs(t, p.Check(models.RoleOwner, Action("unknown")), ErrForbidden)
}

func TestChangeRole_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, f.policy.ChangeRole(ctx, f.admin.ID, f.project.ID, f.outside.ID, models.RoleAdmin))
	}

	members, err := f.store.ListMembers(ctx, f.project.ID)
	require.NoError(t, err)

	count := 0
	for _, m := range members {
		if m.User.ID == f.outside.ID {
			count++
			assert.Equal(t, models.RoleAdmin, m.Role)
		}
	}
	assert.Equal(t, 1, count)
}

func TestChangeRole_UpdatesExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.policy.ChangeRole(ctx, f.owner.ID, f.project.ID, f.member.ID, models.RoleAdmin))

	role, err := f.policy.RoleOf(ctx, f.member.ID, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)
}

func TestChangeRole_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.policy.ChangeRole(ctx, f.member.ID, f.project.ID, f.outside.ID, models.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.policy.ChangeRole(ctx, f.admin.ID, f.project.ID, f.outside.ID, models.RoleOwner)
	assert.ErrorIs(t, err, ErrInvalidRole)

	err = f.policy.ChangeRole(ctx, f.admin.ID, f.project.ID, f.owner.ID, models.RoleMember)
	assert.ErrorIs(t, err, ErrOwnerMembership)

	err = f.policy.ChangeRole(ctx, f.admin.ID, f.project.ID, uuid.New(), models.RoleMember)
	assert.ErrorIs(t, err, db.ErrUserNotFound)
}

func TestRevokeMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.policy.RevokeMembership(ctx, f.admin.ID, f.project.ID, f.member.ID))

	role, err := f.policy.RoleOf(ctx, f.member.ID, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Role(""), role)

	// Revoking again is not an error.
	require.NoError(t, f.policy.RevokeMembership(ctx, f.admin.ID, f.project.ID, f.member.ID))

	err = f.policy.RevokeMembership(ctx, f.admin.ID, f.project.ID, f.owner.ID)
	assert.ErrorIs(t, err, ErrOwnerMembership)
}

func TestDeleteProject_OwnerOnlyAndCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue := &models.Issue{ID: uuid.New(), ProjectID: f.project.ID, Status: models.StatusTodo}
	require.NoError(t, f.store.CreateIssue(ctx, issue))
	require.NoError(t, f.store.CreateComment(ctx, &models.Comment{ID: uuid.New(), IssueID: issue.ID, UserID: f.member.ID}))

	_, err := f.policy.DeleteProject(ctx, f.admin.ID, f.project.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.policy.DeleteProject(ctx, f.owner.ID, f.project.ID)
	require.NoError(t, err)

	issues, err := f.store.ListIssues(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, issues)

	members, err := f.store.ListMembers(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	comments, err := f.store.ListComments(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}
