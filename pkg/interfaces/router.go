package interfaces

import (
	"context"
	"encoding/json"

	"schoolchat/pkg/types"
)

// EventRouter handles every inbound socket event other than authenticate.
// Calls for one connection are made sequentially in receipt order.
type EventRouter interface {
	HandleEvent(ctx context.Context, conn Connection, event string, data json.RawMessage)
}

// Notifier is the fire-and-forget notification side-channel.
type Notifier interface {
	Notify(ctx context.Context, req types.NotificationRequest) error
}
