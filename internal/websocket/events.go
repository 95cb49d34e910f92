package websocket

import "github.com/google/uuid"

// EventType names a change to a project or its issues.
type EventType string

const (
	IssueCreated      EventType = "issue.created"
	IssueUpdated      EventType = "issue.updated"
	IssueDeleted      EventType = "issue.deleted"
	CommentCreated    EventType = "comment.created"
	CommentUpdated    EventType = "comment.updated"
	CommentDeleted    EventType = "comment.deleted"
	AttachmentAdded   EventType = "attachment.added"
	AttachmentRemoved EventType = "attachment.removed"

	// MemberRemoved also disconnects the removed user's streams.
	MemberRemoved EventType = "member.removed"
	// ProjectDeleted also closes every stream of the project.
	ProjectDeleted EventType = "project.deleted"
)

// Event is the message sent to project subscribers. It carries ids only;
// clients refetch what they display.
type Event struct {
	Type         EventType  `json:"type"`
	ProjectID    uuid.UUID  `json:"projectId"`
	IssueID      uuid.UUID  `json:"issueId,omitzero"`
	CommentID    *uuid.UUID `json:"commentId,omitempty"`
	AttachmentID *uuid.UUID `json:"attachmentId,omitempty"`
	UserID       *uuid.UUID `json:"userId,omitempty"`
}

// Publisher accepts project events.
type Publisher interface {
	Publish(event Event)
}

// Discard drops every event. It stands in when no hub is running.
type Discard struct{}

func (Discard) Publish(Event) {}
