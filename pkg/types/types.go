package types

import (
	"time"

	"gorm.io/datatypes"
)

// User roles as stored by the school directory.
const (
	RoleDirector = "director"
	RoleTeacher  = "teacher"
	RoleParent   = "parent"
	RoleStudent  = "student"
)

// User is the subset of the school directory record the chat layer reads.
// CurseCount is the only field this service writes.
type User struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	FirstName  string    `gorm:"size:100" json:"firstName"`
	LastName   string    `gorm:"size:100" json:"lastName"`
	Email      string    `gorm:"size:255;index" json:"email"`
	Role       string    `gorm:"size:32" json:"role"`
	CurseCount int       `gorm:"not null;default:0" json:"curseCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type GradeLevel struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:100" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Section struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Name         string    `gorm:"size:100" json:"name"`
	GradeLevelID string    `gorm:"size:64;index" json:"gradeLevelId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SectionMember links a student or teacher to a section.
type SectionMember struct {
	SectionID string    `gorm:"primaryKey;size:64" json:"sectionId"`
	UserID    string    `gorm:"primaryKey;size:64;index" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// DirectMessage is one message between two users.
type DirectMessage struct {
	ID         string                      `gorm:"primaryKey;size:64" json:"id"`
	Content    *string                     `gorm:"type:text" json:"content"`
	SenderID   string                      `gorm:"size:64;index:idx_direct_pair,priority:1" json:"senderId"`
	ReceiverID string                      `gorm:"size:64;index:idx_direct_pair,priority:2" json:"receiverId"`
	Images     datatypes.JSONSlice[string] `json:"images"`
	Seen       bool                        `gorm:"not null;default:false" json:"seen"`
	CreatedAt  time.Time                   `gorm:"index" json:"createdAt"`
	UpdatedAt  time.Time                   `json:"updatedAt"`
}

// SectionMessage is addressed to every member of a section.
type SectionMessage struct {
	ID        string                      `gorm:"primaryKey;size:64" json:"id"`
	Content   *string                     `gorm:"type:text" json:"content"`
	SenderID  string                      `gorm:"size:64;index" json:"senderId"`
	SectionID string                      `gorm:"size:64;index" json:"sectionId"`
	Images    datatypes.JSONSlice[string] `json:"images"`
	Seen      bool                        `gorm:"not null;default:false" json:"seen"`
	CreatedAt time.Time                   `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time                   `json:"updatedAt"`
}

// GradeLevelMessage is addressed to every member of every section in a grade level.
type GradeLevelMessage struct {
	ID           string                      `gorm:"primaryKey;size:64" json:"id"`
	Content      *string                     `gorm:"type:text" json:"content"`
	SenderID     string                      `gorm:"size:64;index" json:"senderId"`
	GradeLevelID string                      `gorm:"size:64;index" json:"gradeLevelId"`
	Images       datatypes.JSONSlice[string] `json:"images"`
	Seen         bool                        `gorm:"not null;default:false" json:"seen"`
	CreatedAt    time.Time                   `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time                   `json:"updatedAt"`
}

type Notification struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"userId"`
	Topic     string    `gorm:"size:200" json:"topic"`
	Message   string    `gorm:"type:text" json:"message"`
	Link      string    `gorm:"size:500" json:"link,omitempty"`
	Read      bool      `gorm:"not null;default:false;index" json:"read"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// NotificationRequest is handed to the notification side-channel, one per recipient.
type NotificationRequest struct {
	TargetUserID string `json:"targetUserId"`
	Topic        string `json:"topic"`
	Message      string `json:"message"`
	Link         string `json:"link,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Images normalizes an optional image list so it is never persisted as null.
func Images(in []string) datatypes.JSONSlice[string] {
	if in == nil {
		return datatypes.JSONSlice[string]{}
	}
	return datatypes.JSONSlice[string](in)
}
