package dto

import (
	"time"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// WebhookObject is the object type of channel webhook notifications.
const WebhookObject = "whatsapp_business_account"

// WebhookPayload is the notification envelope posted by the channel.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups changes of one business account.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is one change notification.
type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue carries the messages and statuses of a change.
type WebhookValue struct {
	MessagingProduct string                  `json:"messaging_product"`
	Metadata         domain.ChannelMetadata  `json:"metadata"`
	Contacts         []domain.ContactProfile `json:"contacts"`
	Messages         []domain.InboundMessage `json:"messages"`
	Statuses         []MessageStatus         `json:"statuses"`
}

// MessageStatus reports the delivery state of a previously sent message.
type MessageStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// InboundEvents demultiplexes the envelope into one event per message, in
// the order the channel listed them.
func (p WebhookPayload) InboundEvents(receivedAt time.Time) []domain.InboundEvent {
	var out []domain.InboundEvent
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			v := change.Value
			for _, msg := range v.Messages {
				if msg.Type == "" {
					msg.Type = domain.MessageTypeUnknown
				}
				out = append(out, domain.InboundEvent{
					ChannelNumberID: v.Metadata.PhoneNumberID,
					UserID:          msg.From,
					Contact:         contactFor(v.Contacts, msg.From),
					Metadata:        v.Metadata,
					Message:         msg,
					ReceivedAt:      receivedAt,
				})
			}
		}
	}
	return out
}

// Statuses returns every delivery status in the envelope.
func (p WebhookPayload) Statuses() []MessageStatus {
	var out []MessageStatus
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Statuses...)
		}
	}
	return out
}

func contactFor(contacts []domain.ContactProfile, waID string) domain.ContactProfile {
	for _, c := range contacts {
		if c.WaID == waID {
			return c
		}
	}
	return domain.ContactProfile{WaID: waID}
}
