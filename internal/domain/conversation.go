package domain

import (
	"encoding/json"
	"time"
)

// ConversationWindowDuration is how long a conversation window stays open after creation.
const ConversationWindowDuration = 24 * time.Hour

// QuotaResetInterval is the rolling period after which a quota counter is treated as zero.
const QuotaResetInterval = 24 * time.Hour

// ConversationKind enumerates billing categories of conversation windows.
type ConversationKind string

const (
	ConversationKindService   ConversationKind = "service"
	ConversationKindMarketing ConversationKind = "marketing"
)

// Valid reports whether k is a known kind.
func (k ConversationKind) Valid() bool {
	return k == ConversationKindService || k == ConversationKindMarketing
}

// ConversationWindow is a time-boxed session within which messages to a user
// may be sent without opening a new conversation.
type ConversationWindow struct {
	ID              string
	ChannelNumberID string
	UserID          string
	Kind            ConversationKind
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Open reports whether the window has not expired at now.
func (w *ConversationWindow) Open(now time.Time) bool {
	return w != nil && now.Before(w.ExpiresAt)
}

// RunningQuotaCounter counts conversations started for a tenant on one channel number.
type RunningQuotaCounter struct {
	TenantID        string
	ChannelNumberID string
	Count           int
	LastResetTime   time.Time
}

// Stale reports whether the counter is due for a lazy reset.
func (c RunningQuotaCounter) Stale(now time.Time) bool {
	return now.Sub(c.LastResetTime) > QuotaResetInterval
}

// Effective returns the count that applies at now.
func (c RunningQuotaCounter) Effective(now time.Time) int {
	if c.Stale(now) {
		return 0
	}
	return c.Count
}

// SentMessageRecord links a message accepted by the channel to its conversation window.
type SentMessageRecord struct {
	ExternalID           string
	ConversationWindowID string
	ChannelNumberID      string
	UserID               string
	Status               string
	Payload              json.RawMessage
	CreatedAt            time.Time
}
