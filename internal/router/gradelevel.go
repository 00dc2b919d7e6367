package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"schoolchat/internal/audience"
	"schoolchat/internal/moderation"
	"schoolchat/internal/notify"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// SendGradeLevel routes a grade-level message submitted over REST.
func (r *Router) SendGradeLevel(ctx context.Context, callerID string, req types.GradeLevelMessageRequest) (*types.GradeLevelMessage, error) {
	msg, err := r.routeGradeLevel(ctx, moderation.ChannelREST, nil, callerID, req)
	if err != nil {
		r.rejected(kindGradeLevel, err)
	}
	return msg, err
}

func (r *Router) routeGradeLevel(ctx context.Context, channel string, origin interfaces.Connection, callerID string, req types.GradeLevelMessageRequest) (*types.GradeLevelMessage, error) {
	if err := types.Validate(req); err != nil {
		return nil, reject(StageValidation, err.Error(), err)
	}
	sender, err := r.checkSender(ctx, kindGradeLevel, callerID, req.SenderID, msgSendGradeFailed)
	if err != nil {
		return nil, err
	}
	grade, err := r.store.GetGradeLevel(ctx, req.GradeLevelID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, reject(StageNotFound, msgGradeMissing, err)
		}
		return nil, reject(StagePersistence, msgSendGradeFailed, err)
	}
	if err := r.moderate(ctx, kindGradeLevel, channel, req.SenderID, req.Content); err != nil {
		return nil, err
	}

	var images []string
	if req.Image != nil && strings.TrimSpace(*req.Image) != "" {
		images = []string{*req.Image}
	}
	msg := &types.GradeLevelMessage{
		Content:      req.Content,
		SenderID:     req.SenderID,
		GradeLevelID: req.GradeLevelID,
		Images:       types.Images(images),
	}
	if err := r.store.CreateGradeLevelMessage(ctx, msg); err != nil {
		r.logger.Error("persist_failed", "kind", kindGradeLevel, "grade_level_id", req.GradeLevelID, "error", err)
		return nil, reject(StagePersistence, msgSendGradeFailed, err)
	}

	members, err := r.audience.GradeLevelMembers(ctx, grade.ID)
	if err != nil {
		r.logger.Error("audience_failed", "kind", kindGradeLevel, "grade_level_id", grade.ID, "error", err)
	}
	delivered := r.deliver(audience.WithSender(members, msg.SenderID), origin, types.EventGradeLevelReceiveMessage, types.GradeLevelResult{
		Success:      true,
		GradeLevelID: msg.GradeLevelID,
		Data:         msg,
	})
	r.metrics.MessageRouted(kindGradeLevel, channel)
	r.logger.Info("message_routed", "kind", kindGradeLevel, "channel", channel, "message_id", msg.ID, "grade_level_id", grade.ID, "delivered", delivered)

	recipients := audience.Without(members, msg.SenderID)
	reqs := make([]types.NotificationRequest, 0, len(recipients))
	for _, userID := range recipients {
		reqs = append(reqs, notify.GradeLevelMessage(userID, sender.FirstName, grade.Name))
	}
	r.notify(ctx, reqs)
	return msg, nil
}

// GradeLevelHistory returns a grade level's messages, oldest first.
func (r *Router) GradeLevelHistory(ctx context.Context, gradeLevelID string) ([]*types.GradeLevelMessage, error) {
	if _, err := r.store.GetGradeLevel(ctx, gradeLevelID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, reject(StageNotFound, msgGradeMissing, err)
		}
		return nil, reject(StagePersistence, msgFetchGradeFailed, err)
	}
	msgs, err := r.store.ListGradeLevelMessages(ctx, gradeLevelID)
	if err != nil {
		r.logger.Error("history_failed", "kind", kindGradeLevel, "grade_level_id", gradeLevelID, "error", err)
		return nil, reject(StagePersistence, msgFetchGradeFailed, err)
	}
	return msgs, nil
}

// GradeLevelMembers lists the users reached by a grade-level message.
func (r *Router) GradeLevelMembers(ctx context.Context, gradeLevelID string) ([]*types.User, error) {
	if _, err := r.store.GetGradeLevel(ctx, gradeLevelID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, reject(StageNotFound, msgGradeMissing, err)
		}
		return nil, reject(StagePersistence, msgFetchGradeFailed, err)
	}
	users, err := r.store.ListGradeLevelMembers(ctx, gradeLevelID)
	if err != nil {
		return nil, reject(StagePersistence, msgFetchGradeFailed, err)
	}
	return users, nil
}

// UpdateGradeLevel edits a grade-level message. Only its sender may do so
// and the new content is moderated again.
func (r *Router) UpdateGradeLevel(ctx context.Context, callerID, messageID string, req types.MessageUpdateRequest) (*types.GradeLevelMessage, error) {
	if err := types.Validate(req); err != nil {
		return nil, reject(StageValidation, err.Error(), err)
	}
	msg, err := r.store.GetGradeLevelMessage(ctx, messageID)
	if err != nil {
		return nil, storeRejection(err, msgUpdateFailed)
	}
	if msg.SenderID != callerID {
		return nil, reject(StageForbidden, msgNotSender, interfaces.ErrForbidden)
	}
	if err := r.moderate(ctx, kindGradeLevel, moderation.ChannelREST, callerID, req.Content); err != nil {
		r.rejected(kindGradeLevel, err)
		return nil, err
	}
	msg.Content = req.Content
	if req.Images != nil {
		msg.Images = types.Images(req.Images)
	}
	if err := r.store.UpdateGradeLevelMessage(ctx, msg); err != nil {
		return nil, storeRejection(err, msgUpdateFailed)
	}
	return msg, nil
}

// DeleteGradeLevel removes a grade-level message. Only its sender may do so.
func (r *Router) DeleteGradeLevel(ctx context.Context, callerID, messageID string) error {
	msg, err := r.store.GetGradeLevelMessage(ctx, messageID)
	if err != nil {
		return storeRejection(err, msgDeleteFailed)
	}
	if msg.SenderID != callerID {
		return reject(StageForbidden, msgNotSender, interfaces.ErrForbidden)
	}
	if err := r.store.DeleteGradeLevelMessage(ctx, messageID); err != nil {
		return storeRejection(err, msgDeleteFailed)
	}
	return nil
}

func (r *Router) onGradeLevelSendMessage(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var req types.GradeLevelMessageRequest
	if err := types.DecodePayload(data, &req); err != nil {
		r.rejected(kindGradeLevel, reject(StageValidation, err.Error(), err))
		r.write(conn, types.EventGradeLevelReceiveMessage, types.GradeLevelResult{GradeLevelID: req.GradeLevelID, Error: clientMessage(err, msgSendGradeFailed)})
		return
	}
	if _, err := r.routeGradeLevel(ctx, moderation.ChannelSocket, conn, conn.UserID(), req); err != nil {
		r.rejected(kindGradeLevel, err)
		r.write(conn, types.EventGradeLevelReceiveMessage, types.GradeLevelResult{
			GradeLevelID: req.GradeLevelID,
			Error:        clientMessage(err, msgSendGradeFailed),
		})
	}
}

func (r *Router) onGradeLevelAllMessages(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	gradeLevelID, err := types.DecodeID(data, "gradeLevelId")
	if err != nil {
		r.write(conn, types.EventGradeLevelAllMessagesResponse, types.GradeLevelHistoryResult{Error: clientMessage(err, msgFetchGradeFailed)})
		return
	}
	if conn.UserID() == "" {
		r.write(conn, types.EventGradeLevelAllMessagesResponse, types.GradeLevelHistoryResult{GradeLevelID: gradeLevelID, Error: types.StringPtr(msgNotAuthenticated)})
		return
	}
	msgs, err := r.GradeLevelHistory(ctx, gradeLevelID)
	if err != nil {
		r.write(conn, types.EventGradeLevelAllMessagesResponse, types.GradeLevelHistoryResult{GradeLevelID: gradeLevelID, Error: clientMessage(err, msgFetchGradeFailed)})
		return
	}
	r.write(conn, types.EventGradeLevelAllMessagesResponse, types.GradeLevelHistoryResult{Success: true, GradeLevelID: gradeLevelID, Data: msgs})
}
