package router

import "github.com/pkg/errors"

// Stage names the step of the pipeline that rejected a request.
type Stage string

const (
	StageValidation  Stage = "validation"
	StageAuth        Stage = "auth"
	StageForbidden   Stage = "forbidden"
	StageRateLimit   Stage = "rate_limit"
	StageNotFound    Stage = "not_found"
	StageModeration  Stage = "moderation"
	StagePersistence Stage = "persistence"
)

// RejectionError carries the client-facing message of a rejected request.
type RejectionError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Unwrap() error { return e.Err }

func reject(stage Stage, msg string, err error) *RejectionError {
	return &RejectionError{Stage: stage, Message: msg, Err: err}
}

// AsRejection extracts a RejectionError from err's chain.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

var ErrUnknownEvent = errors.New("unknown event")

// Client-facing texts.
const (
	msgNotAuthenticated = "Authentication required"
	msgSenderMismatch   = "Sender ID does not match the authenticated user"
	msgRateLimited      = "Too many messages, please slow down"
	msgSenderMissing    = "Sender doesn't exist"
	msgSectionMissing   = "Section not found"
	msgGradeMissing     = "Grade level not found"
	msgMessageMissing   = "Message not found"
	msgNotParticipant   = "You are not a participant in this conversation"
	msgNotSender        = "Only the sender can change this message"
	msgNotReceiver      = "Only the receiver can mark a message as seen"

	msgSendDirectFailed  = "Failed to send message"
	msgSendSectionFailed = "Failed to send section message"
	msgSendGradeFailed   = "Failed to send grade level message"
	msgFetchDirectFailed = "Failed to fetch messages"
	msgFetchSectionFail  = "Failed to fetch section messages"
	msgFetchGradeFailed  = "Failed to fetch grade level messages"
	msgSeenFailed        = "Failed to update message status"
	msgUpdateFailed      = "Failed to update message"
	msgDeleteFailed      = "Failed to delete message"
)
