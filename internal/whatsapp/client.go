package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultBaseURL = "https://graph.facebook.com/v20.0"

// SentMessage is one unit acknowledged by the send API.
type SentMessage struct {
	ID            string `json:"id"`
	MessageStatus string `json:"message_status,omitempty"`
}

// SendResponse is the send API response body.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []SentMessage `json:"messages"`
}

type mediaResponse struct {
	ID string `json:"id"`
}

type graphErrorBody struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// HTTPStatusError captures non-2xx responses from the graph API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Code       int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s (code %d)", e.StatusCode, e.URL, e.Message, e.Code)
}

// Client calls the channel's send and media endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client. Tokens are supplied per call since every
// channel number belongs to a tenant with its own credentials.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage posts one message body on behalf of a channel number.
func (c *Client) SendMessage(ctx context.Context, channelNumberID, token string, msg Message) (*SendResponse, error) {
	if channelNumberID == "" {
		return nil, errors.New("whatsapp: channel number id is required")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, channelNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var out SendResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, errors.New("whatsapp: send response contained no messages")
	}
	return &out, nil
}

// UploadMedia streams media to the channel and returns the media handle.
func (c *Client) UploadMedia(ctx context.Context, channelNumberID, token, fileName, mimeType string, content io.Reader) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("messaging_product", messagingProduct); err != nil {
		return "", fmt.Errorf("whatsapp: write form: %w", err)
	}
	if err := writer.WriteField("type", mimeType); err != nil {
		return "", fmt.Errorf("whatsapp: write form: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("whatsapp: create file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("whatsapp: copy media: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("whatsapp: close form: %w", err)
	}

	url := fmt.Sprintf("%s/%s/media", c.baseURL, channelNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	var out mediaResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("whatsapp: media response missing id")
	}
	return out.ID, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("whatsapp: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, URL: req.URL.String(), Message: strings.TrimSpace(string(data))}
		var graphErr graphErrorBody
		if json.Unmarshal(data, &graphErr) == nil && graphErr.Error.Message != "" {
			statusErr.Message = graphErr.Error.Message
			statusErr.Code = graphErr.Error.Code
		}
		return statusErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("whatsapp: decode response: %w", err)
	}
	return nil
}
