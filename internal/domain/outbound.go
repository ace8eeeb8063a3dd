package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pondem87/thuso-monorepo-sub000/internal/whatsapp"
)

// DescriptorKind enumerates outbound payload kinds.
type DescriptorKind string

const (
	DescriptorText    DescriptorKind = "text"
	DescriptorImage   DescriptorKind = "image"
	DescriptorRawBody DescriptorKind = "raw-body"
	DescriptorMenu    DescriptorKind = "menu"
)

// Valid reports whether k is a known kind.
func (k DescriptorKind) Valid() bool {
	switch k {
	case DescriptorText, DescriptorImage, DescriptorRawBody, DescriptorMenu:
		return true
	}
	return false
}

// ImageRef points at media to upload before sending.
type ImageRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Descriptor is a channel-agnostic description of what to send. Exactly one
// payload field is meaningful, selected by Kind.
type Descriptor struct {
	Kind             DescriptorKind    `json:"kind"`
	Text             string            `json:"text,omitempty"`
	Image            *ImageRef         `json:"image,omitempty"`
	Body             *whatsapp.Message `json:"body,omitempty"`
	Menu             string            `json:"menu,omitempty"`
	ConversationKind ConversationKind  `json:"conversation_kind,omitempty"`
}

// TextDescriptor describes a service text message.
func TextDescriptor(text string) Descriptor {
	return Descriptor{Kind: DescriptorText, Text: text, ConversationKind: ConversationKindService}
}

// ImageDescriptor describes a service image message.
func ImageDescriptor(url, mimeType, caption string) Descriptor {
	return Descriptor{
		Kind:             DescriptorImage,
		Image:            &ImageRef{URL: url, MimeType: mimeType, Caption: caption},
		ConversationKind: ConversationKindService,
	}
}

// RawBodyDescriptor wraps a fully formed message body.
func RawBodyDescriptor(body whatsapp.Message) Descriptor {
	return Descriptor{Kind: DescriptorRawBody, Body: &body, ConversationKind: ConversationKindService}
}

// MenuDescriptor refers to a named menu.
func MenuDescriptor(name string) Descriptor {
	return Descriptor{Kind: DescriptorMenu, Menu: name, ConversationKind: ConversationKindService}
}

// OutboundRequest asks for a descriptor to be delivered to a user.
type OutboundRequest struct {
	ID              string     `json:"id"`
	ChannelNumberID string     `json:"channel_number_id"`
	UserID          string     `json:"user_id"`
	Descriptor      Descriptor `json:"descriptor"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewOutboundRequest stamps a request with a sortable id.
func NewOutboundRequest(channelNumberID, userID string, d Descriptor) OutboundRequest {
	now := time.Now().UTC()
	return OutboundRequest{
		ID:              ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		ChannelNumberID: channelNumberID,
		UserID:          userID,
		Descriptor:      d,
		CreatedAt:       now,
	}
}
