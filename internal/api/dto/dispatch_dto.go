package dto

import (
	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// DispatchRequest payload.
type DispatchRequest struct {
	ChannelNumberID string            `json:"channel_number_id"`
	UserID          string            `json:"user_id"`
	Descriptor      domain.Descriptor `json:"descriptor"`
	Async           bool              `json:"async"`
}

// DispatchResponse reports the outcome of a synchronous dispatch, or only
// the request id when queued.
type DispatchResponse struct {
	RequestID  string   `json:"request_id"`
	Outcome    string   `json:"outcome,omitempty"`
	WindowID   string   `json:"window_id,omitempty"`
	MessageIDs []string `json:"message_ids,omitempty"`
}
