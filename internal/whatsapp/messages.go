package whatsapp

import "strings"

// Channel limits on message bodies.
const (
	MaxTextLength        = 4096
	MaxInteractiveBody   = 1024
	MaxHeaderText        = 60
	MaxFooterText        = 60
	MaxListButtonText    = 20
	MaxListRows          = 10
	MaxRowTitle          = 24
	MaxRowDescription    = 72
	MaxSectionTitle      = 24
	messagingProduct     = "whatsapp"
	recipientIndividual  = "individual"
	interactiveTypeList  = "list"
	interactiveHeaderTxt = "text"
)

// Message is a send API request body.
type Message struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *Text        `json:"text,omitempty"`
	Image            *Media       `json:"image,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
	Template         *Template    `json:"template,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// Media references uploaded media by id or a public link.
type Media struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Interactive is a list or button message.
type Interactive struct {
	Type   string             `json:"type"`
	Header *InteractiveHeader `json:"header,omitempty"`
	Body   InteractiveText    `json:"body"`
	Footer *InteractiveText   `json:"footer,omitempty"`
	Action InteractiveAction  `json:"action"`
}

// InteractiveHeader is the optional header line of an interactive message.
type InteractiveHeader struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InteractiveText is a plain text element of an interactive message.
type InteractiveText struct {
	Text string `json:"text"`
}

// InteractiveAction holds the list button label and its sections.
type InteractiveAction struct {
	Button   string    `json:"button,omitempty"`
	Sections []Section `json:"sections,omitempty"`
}

// Section groups list rows under an optional title.
type Section struct {
	Title string `json:"title,omitempty"`
	Rows  []Row  `json:"rows"`
}

// Row is one selectable list entry.
type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Template sends a pre-approved message template.
type Template struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

// TemplateLanguage selects the template translation.
type TemplateLanguage struct {
	Code string `json:"code"`
}

// TemplateComponent fills one component of a template.
type TemplateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

// TemplateParameter is a value substituted into a template component.
type TemplateParameter struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// NewTextMessage builds a text body addressed to a user.
func NewTextMessage(to, body string) Message {
	return Message{
		MessagingProduct: messagingProduct,
		RecipientType:    recipientIndividual,
		To:               to,
		Type:             "text",
		Text:             &Text{Body: body},
	}
}

// NewImageMessage builds an image body referencing uploaded media.
func NewImageMessage(to, mediaID, caption string) Message {
	return Message{
		MessagingProduct: messagingProduct,
		RecipientType:    recipientIndividual,
		To:               to,
		Type:             "image",
		Image:            &Media{ID: mediaID, Caption: caption},
	}
}

// ListMessage describes a selectable list before it is cropped to channel limits.
type ListMessage struct {
	Header   string
	Body     string
	Footer   string
	Button   string
	Sections []Section
}

// NewListMessage builds an interactive list body, cropping every text field to
// its channel limit and dropping rows beyond MaxListRows.
func NewListMessage(to string, list ListMessage) Message {
	interactive := &Interactive{
		Type: interactiveTypeList,
		Body: InteractiveText{Text: Crop(list.Body, MaxInteractiveBody)},
		Action: InteractiveAction{
			Button: Crop(list.Button, MaxListButtonText),
		},
	}
	if list.Header != "" {
		interactive.Header = &InteractiveHeader{Type: interactiveHeaderTxt, Text: Crop(list.Header, MaxHeaderText)}
	}
	if list.Footer != "" {
		interactive.Footer = &InteractiveText{Text: Crop(list.Footer, MaxFooterText)}
	}

	remaining := MaxListRows
	for _, section := range list.Sections {
		if remaining == 0 {
			break
		}
		rows := make([]Row, 0, len(section.Rows))
		for _, row := range section.Rows {
			if remaining == 0 {
				break
			}
			rows = append(rows, Row{
				ID:          row.ID,
				Title:       Crop(row.Title, MaxRowTitle),
				Description: Crop(row.Description, MaxRowDescription),
			})
			remaining--
		}
		if len(rows) == 0 {
			continue
		}
		interactive.Action.Sections = append(interactive.Action.Sections, Section{
			Title: Crop(section.Title, MaxSectionTitle),
			Rows:  rows,
		})
	}

	return Message{
		MessagingProduct: messagingProduct,
		RecipientType:    recipientIndividual,
		To:               to,
		Type:             "interactive",
		Interactive:      interactive,
	}
}

// Normalize fills envelope fields a caller may have left empty.
func (m *Message) Normalize(to string) {
	if m.MessagingProduct == "" {
		m.MessagingProduct = messagingProduct
	}
	if m.To == "" {
		m.To = to
	}
}

// Crop shortens s to at most limit characters.
func Crop(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
