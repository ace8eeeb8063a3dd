package domain

import "time"

// MessageType enumerates inbound message payload kinds.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeButton      MessageType = "button"
	MessageTypeImage       MessageType = "image"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeVideo       MessageType = "video"
	MessageTypeDocument    MessageType = "document"
	MessageTypeLocation    MessageType = "location"
	MessageTypeSticker     MessageType = "sticker"
	MessageTypeUnknown     MessageType = "unknown"
)

// InteractiveType enumerates interactive reply kinds.
type InteractiveType string

const (
	InteractiveListReply   InteractiveType = "list_reply"
	InteractiveButtonReply InteractiveType = "button_reply"
)

// InboundMessage is the subset of a channel message consumed by the dialogue.
type InboundMessage struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Type        MessageType         `json:"type"`
	Text        *TextContent        `json:"text,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Button      *ButtonContent      `json:"button,omitempty"`
	Image       *MediaContent       `json:"image,omitempty"`
}

// TextContent holds a free-text body.
type TextContent struct {
	Body string `json:"body"`
}

// InteractiveContent holds a list or button reply.
type InteractiveContent struct {
	Type        InteractiveType `json:"type"`
	ListReply   *Reply          `json:"list_reply,omitempty"`
	ButtonReply *Reply          `json:"button_reply,omitempty"`
}

// Reply identifies the selected list row or reply button.
type Reply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ButtonContent is a quick-reply button press on a template message.
type ButtonContent struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// MediaContent references inbound media.
type MediaContent struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Selection returns the selected item for interactive and button messages.
func (m InboundMessage) Selection() (*Reply, bool) {
	switch m.Type {
	case MessageTypeInteractive:
		if m.Interactive == nil {
			return nil, false
		}
		if m.Interactive.ListReply != nil {
			return m.Interactive.ListReply, true
		}
		if m.Interactive.ButtonReply != nil {
			return m.Interactive.ButtonReply, true
		}
	case MessageTypeButton:
		if m.Button != nil && m.Button.Payload != "" {
			return &Reply{ID: m.Button.Payload, Title: m.Button.Text}, true
		}
	}
	return nil, false
}

// TextBody returns the text body, if any.
func (m InboundMessage) TextBody() (string, bool) {
	if m.Type != MessageTypeText || m.Text == nil {
		return "", false
	}
	return m.Text.Body, true
}

// Profile is the contact's public profile.
type Profile struct {
	Name string `json:"name"`
}

// ContactProfile identifies the user who sent a message.
type ContactProfile struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

// ChannelMetadata describes the receiving channel number.
type ChannelMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// InboundEvent is a demultiplexed webhook message for one user.
type InboundEvent struct {
	ChannelNumberID string          `json:"channel_number_id"`
	UserID          string          `json:"user_id"`
	Contact         ContactProfile  `json:"contact"`
	Metadata        ChannelMetadata `json:"metadata"`
	Message         InboundMessage  `json:"message"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// Key identifies the dialogue the event belongs to.
func (e InboundEvent) Key() string {
	return SnapshotKey(e.ChannelNumberID, e.UserID)
}
