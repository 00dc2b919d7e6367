package router

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"schoolchat/internal/audience"
	"schoolchat/internal/moderation"
	"schoolchat/internal/notify"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// SendSection routes a section message submitted over REST.
func (r *Router) SendSection(ctx context.Context, callerID string, req types.SectionMessageRequest) (*types.SectionMessage, error) {
	msg, err := r.routeSection(ctx, moderation.ChannelREST, nil, callerID, req)
	if err != nil {
		r.rejected(kindSection, err)
	}
	return msg, err
}

func (r *Router) routeSection(ctx context.Context, channel string, origin interfaces.Connection, callerID string, req types.SectionMessageRequest) (*types.SectionMessage, error) {
	if err := types.Validate(req); err != nil {
		return nil, reject(StageValidation, err.Error(), err)
	}
	sender, err := r.checkSender(ctx, kindSection, callerID, req.SenderID, msgSendSectionFailed)
	if err != nil {
		return nil, err
	}
	section, err := r.store.GetSection(ctx, req.SectionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, reject(StageNotFound, msgSectionMissing, err)
		}
		return nil, reject(StagePersistence, msgSendSectionFailed, err)
	}
	if err := r.moderate(ctx, kindSection, channel, req.SenderID, req.Content); err != nil {
		return nil, err
	}

	msg := &types.SectionMessage{
		Content:   req.Content,
		SenderID:  req.SenderID,
		SectionID: req.SectionID,
		Images:    types.Images(req.Images),
	}
	if err := r.store.CreateSectionMessage(ctx, msg); err != nil {
		r.logger.Error("persist_failed", "kind", kindSection, "section_id", req.SectionID, "error", err)
		return nil, reject(StagePersistence, msgSendSectionFailed, err)
	}

	members, err := r.audience.SectionMembers(ctx, section.ID)
	if err != nil {
		// The message is stored; only the sender hears about it live.
		r.logger.Error("audience_failed", "kind", kindSection, "section_id", section.ID, "error", err)
	}
	delivered := r.deliver(audience.WithSender(members, msg.SenderID), origin, types.EventSectionReceiveMessage, types.SectionResult{
		Success:   true,
		SectionID: msg.SectionID,
		Data:      msg,
	})
	r.metrics.MessageRouted(kindSection, channel)
	r.logger.Info("message_routed", "kind", kindSection, "channel", channel, "message_id", msg.ID, "section_id", section.ID, "delivered", delivered)

	recipients := audience.Without(members, msg.SenderID)
	reqs := make([]types.NotificationRequest, 0, len(recipients))
	for _, userID := range recipients {
		reqs = append(reqs, notify.SectionMessage(userID, sender.FirstName, section.Name))
	}
	r.notify(ctx, reqs)
	return msg, nil
}

// SectionHistory returns a section's messages, oldest first.
func (r *Router) SectionHistory(ctx context.Context, sectionID string) ([]*types.SectionMessage, error) {
	if _, err := r.store.GetSection(ctx, sectionID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, reject(StageNotFound, msgSectionMissing, err)
		}
		return nil, reject(StagePersistence, msgFetchSectionFail, err)
	}
	msgs, err := r.store.ListSectionMessages(ctx, sectionID)
	if err != nil {
		r.logger.Error("history_failed", "kind", kindSection, "section_id", sectionID, "error", err)
		return nil, reject(StagePersistence, msgFetchSectionFail, err)
	}
	return msgs, nil
}

// UpdateSection edits a section message. Only its sender may do so and the
// new content is moderated again.
func (r *Router) UpdateSection(ctx context.Context, callerID, messageID string, req types.MessageUpdateRequest) (*types.SectionMessage, error) {
	if err := types.Validate(req); err != nil {
		return nil, reject(StageValidation, err.Error(), err)
	}
	msg, err := r.store.GetSectionMessage(ctx, messageID)
	if err != nil {
		return nil, storeRejection(err, msgUpdateFailed)
	}
	if msg.SenderID != callerID {
		return nil, reject(StageForbidden, msgNotSender, interfaces.ErrForbidden)
	}
	if err := r.moderate(ctx, kindSection, moderation.ChannelREST, callerID, req.Content); err != nil {
		r.rejected(kindSection, err)
		return nil, err
	}
	msg.Content = req.Content
	if req.Images != nil {
		msg.Images = types.Images(req.Images)
	}
	if err := r.store.UpdateSectionMessage(ctx, msg); err != nil {
		return nil, storeRejection(err, msgUpdateFailed)
	}
	return msg, nil
}

// DeleteSection removes a section message. Only its sender may do so.
func (r *Router) DeleteSection(ctx context.Context, callerID, messageID string) error {
	msg, err := r.store.GetSectionMessage(ctx, messageID)
	if err != nil {
		return storeRejection(err, msgDeleteFailed)
	}
	if msg.SenderID != callerID {
		return reject(StageForbidden, msgNotSender, interfaces.ErrForbidden)
	}
	if err := r.store.DeleteSectionMessage(ctx, messageID); err != nil {
		return storeRejection(err, msgDeleteFailed)
	}
	return nil
}

func (r *Router) onSectionSendMessage(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var req types.SectionMessageRequest
	if err := types.DecodePayload(data, &req); err != nil {
		r.rejected(kindSection, reject(StageValidation, err.Error(), err))
		r.write(conn, types.EventSectionReceiveMessage, types.SectionResult{SectionID: req.SectionID, Error: clientMessage(err, msgSendSectionFailed)})
		return
	}
	if _, err := r.routeSection(ctx, moderation.ChannelSocket, conn, conn.UserID(), req); err != nil {
		r.rejected(kindSection, err)
		r.write(conn, types.EventSectionReceiveMessage, types.SectionResult{
			SectionID: req.SectionID,
			Error:     clientMessage(err, msgSendSectionFailed),
		})
	}
}

func (r *Router) onSectionAllMessages(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	sectionID, err := types.DecodeID(data, "sectionId")
	if err != nil {
		r.write(conn, types.EventSectionAllMessagesResponse, types.SectionHistoryResult{Error: clientMessage(err, msgFetchSectionFail)})
		return
	}
	if conn.UserID() == "" {
		r.write(conn, types.EventSectionAllMessagesResponse, types.SectionHistoryResult{SectionID: sectionID, Error: types.StringPtr(msgNotAuthenticated)})
		return
	}
	msgs, err := r.SectionHistory(ctx, sectionID)
	if err != nil {
		r.write(conn, types.EventSectionAllMessagesResponse, types.SectionHistoryResult{SectionID: sectionID, Error: clientMessage(err, msgFetchSectionFail)})
		return
	}
	r.write(conn, types.EventSectionAllMessagesResponse, types.SectionHistoryResult{Success: true, SectionID: sectionID, Data: msgs})
}
