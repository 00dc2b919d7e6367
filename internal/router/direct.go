package router

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"schoolchat/internal/moderation"
	"schoolchat/internal/notify"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// SendDirect routes a direct message submitted over REST. Live delivery uses
// new_message.
func (r *Router) SendDirect(ctx context.Context, callerID string, req types.SendMessageRequest) (*types.DirectMessage, error) {
	return r.sendDirect(ctx, moderation.ChannelREST, nil, callerID, req)
}

func (r *Router) sendDirect(ctx context.Context, channel string, origin interfaces.Connection, callerID string, req types.SendMessageRequest) (*types.DirectMessage, error) {
	msg, err := r.routeDirect(ctx, channel, origin, callerID, req)
	if err != nil {
		r.rejected(kindDirect, err)
		return nil, err
	}
	return msg, nil
}

func (r *Router) routeDirect(ctx context.Context, channel string, origin interfaces.Connection, callerID string, req types.SendMessageRequest) (*types.DirectMessage, error) {
	if err := types.Validate(req); err != nil {
		return nil, reject(StageValidation, err.Error(), err)
	}
	sender, err := r.checkSender(ctx, kindDirect, callerID, req.SenderID, msgSendDirectFailed)
	if err != nil {
		return nil, err
	}
	if err := r.moderate(ctx, kindDirect, channel, req.SenderID, req.Content); err != nil {
		return nil, err
	}

	msg := &types.DirectMessage{
		Content:    req.Content,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Images:     types.Images(req.Images),
	}
	if err := r.store.CreateDirectMessage(ctx, msg); err != nil {
		r.logger.Error("persist_failed", "kind", kindDirect, "sender_id", req.SenderID, "error", err)
		return nil, reject(StagePersistence, msgSendDirectFailed, err)
	}

	audience := []string{msg.SenderID, msg.ReceiverID}
	var delivered int
	if channel == moderation.ChannelSocket {
		delivered = r.deliver(audience, origin, types.EventReceiveMessage, types.DirectResult{
			Success:    true,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			Data:       msg,
		})
	} else {
		delivered = r.deliver(audience, origin, types.EventNewMessage, msg)
	}
	r.metrics.MessageRouted(kindDirect, channel)
	r.logger.Info("message_routed", "kind", kindDirect, "channel", channel, "message_id", msg.ID, "delivered", delivered)

	if msg.ReceiverID != msg.SenderID {
		r.notify(ctx, []types.NotificationRequest{notify.DirectMessage(msg.ReceiverID, sender.FirstName)})
	}
	return msg, nil
}

// Conversation returns the messages exchanged between a and b, oldest first.
// The caller must be one of them.
func (r *Router) Conversation(ctx context.Context, callerID, a, b string) ([]*types.DirectMessage, error) {
	if callerID == "" {
		return nil, reject(StageAuth, msgNotAuthenticated, interfaces.ErrUnauthorized)
	}
	if callerID != a && callerID != b {
		return nil, reject(StageForbidden, msgNotParticipant, interfaces.ErrForbidden)
	}
	msgs, err := r.store.ListConversation(ctx, a, b)
	if err != nil {
		r.logger.Error("history_failed", "kind", kindDirect, "error", err)
		return nil, reject(StagePersistence, msgFetchDirectFailed, err)
	}
	return msgs, nil
}

// ReadConversation is Conversation for a reader: messages the caller received
// in it are flagged as seen. A failed flag update still returns the history.
func (r *Router) ReadConversation(ctx context.Context, callerID, a, b string) ([]*types.DirectMessage, error) {
	msgs, err := r.Conversation(ctx, callerID, a, b)
	if err != nil {
		return nil, err
	}
	other := a
	if other == callerID {
		other = b
	}
	if err := r.store.MarkConversationSeen(ctx, callerID, other); err != nil {
		r.logger.Warn("mark_conversation_seen_failed", "reader_id", callerID, "other_id", other, "error", err)
		return msgs, nil
	}
	for _, m := range msgs {
		if m.ReceiverID == callerID {
			m.Seen = true
		}
	}
	return msgs, nil
}

// UnreadMessages lists the direct messages userID has not seen yet. Users can
// only read their own inbox.
func (r *Router) UnreadMessages(ctx context.Context, callerID, userID string) ([]*types.DirectMessage, error) {
	if callerID == "" {
		return nil, reject(StageAuth, msgNotAuthenticated, interfaces.ErrUnauthorized)
	}
	if callerID != userID {
		return nil, reject(StageForbidden, msgNotParticipant, interfaces.ErrForbidden)
	}
	msgs, err := r.store.ListUnreadDirectMessages(ctx, userID)
	if err != nil {
		r.logger.Error("unread_failed", "user_id", userID, "error", err)
		return nil, reject(StagePersistence, msgFetchDirectFailed, err)
	}
	return msgs, nil
}

// MarkSeen marks a direct message as seen by its receiver and tells the
// sender over message_seen.
func (r *Router) MarkSeen(ctx context.Context, callerID, messageID string) (*types.DirectMessage, error) {
	return r.markSeen(ctx, nil, callerID, messageID)
}

func (r *Router) markSeen(ctx context.Context, origin interfaces.Connection, callerID, messageID string) (*types.DirectMessage, error) {
	if callerID == "" {
		return nil, reject(StageAuth, msgNotAuthenticated, interfaces.ErrUnauthorized)
	}
	msg, err := r.store.GetDirectMessage(ctx, messageID)
	if err != nil {
		return nil, storeRejection(err, msgSeenFailed)
	}
	if msg.ReceiverID != callerID {
		return nil, reject(StageForbidden, msgNotReceiver, interfaces.ErrForbidden)
	}
	if !msg.Seen {
		if msg, err = r.store.MarkDirectMessageSeen(ctx, messageID); err != nil {
			return nil, storeRejection(err, msgSeenFailed)
		}
	}
	r.deliver([]string{msg.SenderID}, origin, types.EventMessageSeen, types.SeenResult{Success: true, Data: msg})
	return msg, nil
}

// DeleteDirect removes a direct message. Only its sender may do so.
func (r *Router) DeleteDirect(ctx context.Context, callerID, messageID string) error {
	msg, err := r.store.GetDirectMessage(ctx, messageID)
	if err != nil {
		return storeRejection(err, msgDeleteFailed)
	}
	if msg.SenderID != callerID {
		return reject(StageForbidden, msgNotSender, interfaces.ErrForbidden)
	}
	if err := r.store.DeleteDirectMessage(ctx, messageID); err != nil {
		return storeRejection(err, msgDeleteFailed)
	}
	return nil
}

func (r *Router) onSendMessage(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var req types.SendMessageRequest
	if err := types.DecodePayload(data, &req); err != nil {
		r.rejected(kindDirect, reject(StageValidation, err.Error(), err))
		r.write(conn, types.EventReceiveMessage, types.DirectResult{
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			Error:      clientMessage(err, msgSendDirectFailed),
		})
		return
	}

	_, err := r.sendDirect(ctx, moderation.ChannelSocket, conn, conn.UserID(), req)
	if err == nil {
		return
	}
	result := types.DirectResult{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Error:      clientMessage(err, msgSendDirectFailed),
	}
	// Moderation rejections are shown on both sides of the conversation.
	if rej, ok := AsRejection(err); ok && rej.Stage == StageModeration {
		r.deliver([]string{req.ReceiverID}, conn, types.EventReceiveMessage, result)
		return
	}
	r.write(conn, types.EventReceiveMessage, result)
}

func (r *Router) onAllMessages(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var req types.ConversationRequest
	if err := types.DecodePayload(data, &req); err != nil {
		r.write(conn, types.EventAllMessagesResponse, types.HistoryResult{Error: clientMessage(err, msgFetchDirectFailed)})
		return
	}
	msgs, err := r.Conversation(ctx, conn.UserID(), req.SenderID, req.ReceiverID)
	if err != nil {
		r.write(conn, types.EventAllMessagesResponse, types.HistoryResult{Error: clientMessage(err, msgFetchDirectFailed)})
		return
	}
	r.write(conn, types.EventAllMessagesResponse, types.HistoryResult{Success: true, Data: msgs})
}

func (r *Router) onMessageSeen(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	messageID, err := types.DecodeID(data, "messageId")
	if err == nil {
		_, err = r.markSeen(ctx, conn, conn.UserID(), messageID)
	}
	if err != nil {
		r.write(conn, types.EventMessageSeen, types.SeenResult{Error: clientMessage(err, msgSeenFailed)})
	}
}

func (r *Router) onTyping(conn interfaces.Connection, data json.RawMessage) {
	var req types.TypingRequest
	if err := types.DecodePayload(data, &req); err != nil {
		r.write(conn, types.EventError, types.ErrorNotice{Error: err.Error()})
		return
	}
	if conn.UserID() == "" {
		r.write(conn, types.EventError, types.ErrorNotice{Error: msgNotAuthenticated})
		return
	}
	if target, ok := r.presence.Lookup(req.ReceiverID); ok {
		r.write(target, types.EventUserTyping, types.TypingNotice{UserID: conn.UserID(), IsTyping: req.IsTyping})
	}
}

// storeRejection maps a store error to not-found or a generic failure.
func storeRejection(err error, failMsg string) error {
	if errors.Is(err, interfaces.ErrNotFound) {
		return reject(StageNotFound, msgMessageMissing, err)
	}
	return reject(StagePersistence, failMsg, err)
}
