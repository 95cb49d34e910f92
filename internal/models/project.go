package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Project struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Key       string    `json:"key"`
	OwnerID   uuid.UUID `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Role is a project membership role. RoleOwner is never stored; it is
// resolved from Project.OwnerID.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// rank orders roles by privilege. The zero Role (no membership) ranks 0.
func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r.rank() > 0 && r.rank() >= min.rank()
}

// Assignable reports whether r may be stored on a membership row.
func (r Role) Assignable() bool {
	return r == RoleAdmin || r == RoleMember
}

func (r Role) String() string {
	if r == "" {
		return "none"
	}
	return string(r)
}

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleMember:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role: %q", s)
}

// Membership ties a user to a project with an assignable role. Exactly one
// row exists per (UserID, ProjectID).
type Membership struct {
	UserID    uuid.UUID `json:"userId"`
	ProjectID uuid.UUID `json:"projectId"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Member is a membership joined with its user, as listed to project members.
type Member struct {
	User PublicUser `json:"user"`
	Role Role       `json:"role"`
}
