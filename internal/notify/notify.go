// Package notify creates notification rows off the message path. Two
// backends share one contract: an in-process worker pool and a Redis stream
// consumed by a worker group.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

const (
	TopicNewMessage   = "New Message"
	TopicSectionPost  = "New Section Message"
	TopicGradeLevel   = "New Grade Level Message"
	defaultWriteLimit = 5 * time.Second
)

// DirectMessage builds the notification sent to the receiver of a direct message.
func DirectMessage(receiverID, senderFirstName string) types.NotificationRequest {
	return types.NotificationRequest{
		TargetUserID: receiverID,
		Topic:        TopicNewMessage,
		Message:      senderFirstName + " sent you a message",
	}
}

// SectionMessage builds the notification sent to one member of a section.
func SectionMessage(memberID, senderFirstName, sectionName string) types.NotificationRequest {
	return types.NotificationRequest{
		TargetUserID: memberID,
		Topic:        TopicSectionPost,
		Message:      senderFirstName + " posted in " + sectionName,
	}
}

// GradeLevelMessage builds the notification sent to one member of a grade level.
func GradeLevelMessage(memberID, senderFirstName, gradeName string) types.NotificationRequest {
	return types.NotificationRequest{
		TargetUserID: memberID,
		Topic:        TopicGradeLevel,
		Message:      senderFirstName + " posted in " + gradeName,
	}
}

// persist writes one request as an unread notification.
func persist(ctx context.Context, store interfaces.NotificationStore, req types.NotificationRequest) error {
	if strings.TrimSpace(req.TargetUserID) == "" {
		return ErrMissingTarget
	}
	n := &types.Notification{
		UserID:  req.TargetUserID,
		Topic:   req.Topic,
		Message: req.Message,
		Link:    req.Link,
	}
	if err := store.CreateNotification(ctx, n); err != nil {
		return errors.Wrapf(err, "create notification for %s", req.TargetUserID)
	}
	return nil
}
