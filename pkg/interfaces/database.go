package interfaces

import (
	"context"
	"time"

	"schoolchat/pkg/types"
)

// DirectoryStore reads the school directory owned by the wider backend.
// IncrementCurseCount is the only write this service makes to it.
type DirectoryStore interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetSection(ctx context.Context, sectionID string) (*types.Section, error)
	GetGradeLevel(ctx context.Context, gradeLevelID string) (*types.GradeLevel, error)

	// ListSectionMemberIDs returns the users enrolled in a section.
	ListSectionMemberIDs(ctx context.Context, sectionID string) ([]string, error)

	// ListGradeLevelMembers returns the distinct members of every section
	// in the grade level.
	ListGradeLevelMembers(ctx context.Context, gradeLevelID string) ([]*types.User, error)

	IncrementCurseCount(ctx context.Context, userID string) error
}

// MessageStore persists the three message kinds. Lists are ascending by
// creation time. Missing records return ErrNotFound.
type MessageStore interface {
	CreateDirectMessage(ctx context.Context, msg *types.DirectMessage) error
	GetDirectMessage(ctx context.Context, id string) (*types.DirectMessage, error)
	// ListConversation returns messages exchanged between a and b in either direction.
	ListConversation(ctx context.Context, a, b string) ([]*types.DirectMessage, error)
	ListUnreadDirectMessages(ctx context.Context, receiverID string) ([]*types.DirectMessage, error)
	MarkDirectMessageSeen(ctx context.Context, id string) (*types.DirectMessage, error)
	// MarkConversationSeen flags every message from otherID to readerID as seen.
	MarkConversationSeen(ctx context.Context, readerID, otherID string) error
	DeleteDirectMessage(ctx context.Context, id string) error

	CreateSectionMessage(ctx context.Context, msg *types.SectionMessage) error
	GetSectionMessage(ctx context.Context, id string) (*types.SectionMessage, error)
	ListSectionMessages(ctx context.Context, sectionID string) ([]*types.SectionMessage, error)
	UpdateSectionMessage(ctx context.Context, msg *types.SectionMessage) error
	DeleteSectionMessage(ctx context.Context, id string) error

	CreateGradeLevelMessage(ctx context.Context, msg *types.GradeLevelMessage) error
	GetGradeLevelMessage(ctx context.Context, id string) (*types.GradeLevelMessage, error)
	ListGradeLevelMessages(ctx context.Context, gradeLevelID string) ([]*types.GradeLevelMessage, error)
	UpdateGradeLevelMessage(ctx context.Context, msg *types.GradeLevelMessage) error
	DeleteGradeLevelMessage(ctx context.Context, id string) error
}

// NotificationStore persists notifications produced by the side-channel.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *types.Notification) error
	// ListNotifications returns newest first.
	ListNotifications(ctx context.Context, userID string, limit int) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
	PurgeReadNotifications(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store is the full persistence adapter.
type Store interface {
	DirectoryStore
	MessageStore
	NotificationStore

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	Close() error
}
