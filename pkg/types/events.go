package types

import "encoding/json"

// Socket event names.
const (
	EventAuthenticate = "authenticate"
	EventError        = "error"
	EventUserOffline  = "user_offline"

	EventSendMessage         = "send_message"
	EventReceiveMessage      = "receive_message"
	EventAllMessages         = "all_messages"
	EventAllMessagesResponse = "all_messages_response"
	EventNewMessage          = "new_message"
	EventMessageSeen         = "message_seen"
	EventTyping              = "typing"
	EventUserTyping          = "user_typing"

	EventSectionSendMessage         = "section_send_message"
	EventSectionReceiveMessage      = "section_receive_message"
	EventSectionAllMessages         = "section_all_messages"
	EventSectionAllMessagesResponse = "section_all_messages_response"

	EventGradeLevelSendMessage         = "grade_level_send_message"
	EventGradeLevelReceiveMessage      = "grade_level_receive_message"
	EventGradeLevelAllMessages         = "grade_level_all_messages"
	EventGradeLevelAllMessagesResponse = "grade_level_all_messages_response"
)

// Envelope is the frame format in both directions: {"event": "...", "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is used for server-to-client frames.
type OutboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SendMessageRequest is the payload of send_message and POST /message.
type SendMessageRequest struct {
	Content    *string  `json:"content" validate:"required"`
	SenderID   string   `json:"senderId" validate:"required,entityid"`
	ReceiverID string   `json:"receiverId" validate:"required,entityid"`
	Images     []string `json:"images" validate:"omitempty,dive,required"`
}

// ConversationRequest is the payload of all_messages.
type ConversationRequest struct {
	SenderID   string `json:"senderId" validate:"required,entityid"`
	ReceiverID string `json:"receiverId" validate:"required,entityid"`
}

// SectionMessageRequest is the payload of section_send_message and POST /section-message.
type SectionMessageRequest struct {
	Content   *string  `json:"content" validate:"required"`
	SectionID string   `json:"sectionId" validate:"required,entityid"`
	SenderID  string   `json:"senderId" validate:"required,entityid"`
	Images    []string `json:"images" validate:"omitempty,dive,required"`
}

// GradeLevelMessageRequest is the payload of grade_level_send_message and
// POST /grade-level-message.
type GradeLevelMessageRequest struct {
	Content      *string `json:"content" validate:"required"`
	GradeLevelID string  `json:"gradeLevelId" validate:"required,entityid"`
	SenderID     string  `json:"senderId" validate:"required,entityid"`
	Image        *string `json:"image,omitempty"`
}

// MessageUpdateRequest edits the content of a section or grade-level message.
type MessageUpdateRequest struct {
	Content *string  `json:"content" validate:"required"`
	Images  []string `json:"images" validate:"omitempty,dive,required"`
}

// TypingRequest is the payload of typing.
type TypingRequest struct {
	ReceiverID string `json:"receiverId" validate:"required,entityid"`
	IsTyping   bool   `json:"isTyping"`
}

// DirectResult is the payload of receive_message.
type DirectResult struct {
	Success    bool           `json:"success"`
	SenderID   string         `json:"senderId"`
	ReceiverID string         `json:"receiverId"`
	Data       *DirectMessage `json:"data"`
	Error      *string        `json:"error"`
}

// HistoryResult is the payload of all_messages_response.
type HistoryResult struct {
	Success bool             `json:"success"`
	Data    []*DirectMessage `json:"data"`
	Error   *string          `json:"error"`
}

// SectionResult is the payload of section_receive_message.
type SectionResult struct {
	Success   bool            `json:"success"`
	SectionID string          `json:"sectionId"`
	Data      *SectionMessage `json:"data"`
	Error     *string         `json:"error"`
}

// SectionHistoryResult is the payload of section_all_messages_response.
type SectionHistoryResult struct {
	Success   bool              `json:"success"`
	SectionID string            `json:"sectionId"`
	Data      []*SectionMessage `json:"data"`
	Error     *string           `json:"error"`
}

// GradeLevelResult is the payload of grade_level_receive_message.
type GradeLevelResult struct {
	Success      bool               `json:"success"`
	GradeLevelID string             `json:"gradeLevelId"`
	Data         *GradeLevelMessage `json:"data"`
	Error        *string            `json:"error"`
}

// GradeLevelHistoryResult is the payload of grade_level_all_messages_response.
type GradeLevelHistoryResult struct {
	Success      bool                 `json:"success"`
	GradeLevelID string               `json:"gradeLevelId"`
	Data         []*GradeLevelMessage `json:"data"`
	Error        *string              `json:"error"`
}

// SeenResult is the payload of message_seen sent to clients.
type SeenResult struct {
	Success bool           `json:"success"`
	Data    *DirectMessage `json:"data"`
	Error   *string        `json:"error"`
}

// TypingNotice is the payload of user_typing.
type TypingNotice struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorNotice is the payload of the generic error event.
type ErrorNotice struct {
	Error string `json:"error"`
}
