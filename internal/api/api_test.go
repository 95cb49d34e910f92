package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuetracker/backend/internal/db/memory"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/models"
	"github.com/issuetracker/backend/internal/policy"
)

// countingStore counts the lookups the policy makes.
type countingStore struct {
	*memory.Store
	projects    atomic.Int32
	memberships atomic.Int32
}

func (s *countingStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	s.projects.Add(1)
	return s.Store.GetProject(ctx, id)
}

func (s *countingStore) GetMembership(ctx context.Context, userID, projectID uuid.UUID) (*models.Membership, error) {
	s.memberships.Add(1)
	return s.Store.GetMembership(ctx, userID, projectID)
}

func TestIssueFor_ResolvesRoleOnce(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: memory.New()}

	owner := &models.User{ID: uuid.New(), Email: "o@x.com"}
	member := &models.User{ID: uuid.New(), Email: "m@x.com"}
	outsider := &models.User{ID: uuid.New(), Email: "c@x.com"}
	for _, u := range []*models.User{owner, member, outsider} {
		require.NoError(t, store.CreateUser(ctx, u))
	}
	project := &models.Project{ID: uuid.New(), Title: "P", Key: "KEY", OwnerID: owner.ID, CreatedAt: time.Now()}
	require.NoError(t, store.CreateProject(ctx, project))
	require.NoError(t, store.UpsertMembership(ctx, &models.Membership{UserID: member.ID, ProjectID: project.ID, Role: models.RoleMember}))
	issue := &models.Issue{ID: uuid.New(), ProjectID: project.ID, Title: "Bug", Key: "B-1", Status: models.StatusTodo}
	require.NoError(t, store.CreateIssue(ctx, issue))

	h := NewHandlers(HandlersConfig{Store: store.Store, Authz: policy.New(store, nil)})
	denied := apperrors.Forbidden("Only admin can manage attachments")

	tests := []struct {
		name   string
		user   uuid.UUID
		action policy.Action
		status int
	}{
		{"member contributes", member.ID, policy.ActionContribute, 0},
		{"member manages attachments", member.ID, policy.ActionManageAttachments, http.StatusForbidden},
		{"outsider", outsider.ID, policy.ActionContribute, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.projects.Store(0)
			store.memberships.Store(0)

			got, err := h.issueFor(ctx, tt.user, issue.ID, tt.action, denied)
			if tt.status == 0 {
				require.NoError(t, err)
				assert.Equal(t, issue.ID, got.ID)
			} else {
				var appErr *apperrors.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, tt.status, appErr.HTTPStatus)
			}
			assert.Equal(t, int32(1), store.projects.Load())
			assert.Equal(t, int32(1), store.memberships.Load())
		})
	}
}
