package models

import (
	"time"

	"github.com/google/uuid"
)

type IssueStatus string

const (
	StatusTodo       IssueStatus = "todo"
	StatusInProgress IssueStatus = "inprogress"
	StatusDone       IssueStatus = "done"
)

func (s IssueStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Issue struct {
	ID          uuid.UUID   `json:"id"`
	ProjectID   uuid.UUID   `json:"projectId"`
	Title       string      `json:"title"`
	Key         string      `json:"key"`
	Description string      `json:"description"`
	Status      IssueStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// IssueUpdate carries a partial update; nil fields are left unchanged.
type IssueUpdate struct {
	Title       *string
	Key         *string
	Description *string
	Status      *IssueStatus
}

type Comment struct {
	ID        uuid.UUID   `json:"id"`
	IssueID   uuid.UUID   `json:"issueId"`
	UserID    uuid.UUID   `json:"userId"`
	Text      string      `json:"text"`
	User      *PublicUser `json:"user,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type Attachment struct {
	ID          uuid.UUID `json:"id"`
	IssueID     uuid.UUID `json:"issueId"`
	UploadedBy  uuid.UUID `json:"uploadedBy"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}
