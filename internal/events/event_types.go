package events

import (
	"time"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventMessageSent         EventType = "message_sent"
	EventAdmissionRefused    EventType = "admission_refused"
	EventDispatchFailed      EventType = "dispatch_failed"
	EventWindowOpened        EventType = "window_opened"
	EventSnapshotPersisted   EventType = "snapshot_persisted"
	EventInboundFailed       EventType = "inbound_failed"
	EventTenantRefreshFailed EventType = "tenant_refresh_failed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID              string      `json:"id"`
	Type            EventType   `json:"type"`
	ChannelNumberID string      `json:"channel_number_id"`
	UserID          string      `json:"user_id,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
	Payload         interface{} `json:"payload"`
}

// MessageSentPayload payload.
type MessageSentPayload struct {
	MessageID string                  `json:"message_id"`
	WindowID  string                  `json:"window_id"`
	Kind      domain.DescriptorKind   `json:"kind"`
	Category  domain.ConversationKind `json:"category"`
}

// AdmissionRefusedPayload payload. Reason is "quota" or "ineligible".
type AdmissionRefusedPayload struct {
	TenantID string                  `json:"tenant_id"`
	Reason   string                  `json:"reason"`
	Category domain.ConversationKind `json:"category"`
}

// DispatchFailedPayload payload.
type DispatchFailedPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// WindowOpenedPayload payload.
type WindowOpenedPayload struct {
	WindowID string                  `json:"window_id"`
	TenantID string                  `json:"tenant_id"`
	Category domain.ConversationKind `json:"category"`
}

// SnapshotPersistedPayload payload.
type SnapshotPersistedPayload struct {
	State   string `json:"state"`
	Created bool   `json:"created"`
}

// InboundFailedPayload payload.
type InboundFailedPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// TenantRefreshFailedPayload payload.
type TenantRefreshFailedPayload struct {
	Resource string `json:"resource"`
	Key      string `json:"key"`
	Error    string `json:"error"`
}
