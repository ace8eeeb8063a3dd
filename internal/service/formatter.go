package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/menu"
	"github.com/pondem87/thuso-monorepo-sub000/internal/whatsapp"
)

// UnknownKindError is returned for descriptors whose kind has no formatter.
type UnknownKindError struct {
	Kind domain.DescriptorKind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown descriptor kind %q", e.Kind)
}

// MediaUploader stores media with the channel and returns its handle.
type MediaUploader interface {
	UploadMedia(ctx context.Context, channelNumberID, token, fileName, mimeType string, content io.Reader) (string, error)
}

// MediaSource opens the media an image descriptor refers to.
type MediaSource interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

// Formatter turns descriptors into wire-ready message bodies.
type Formatter struct {
	menus    *menu.Registry
	uploader MediaUploader
	media    MediaSource
	logger   *zap.Logger
}

// NewFormatter constructs a formatter. A nil registry falls back to the
// default menus.
func NewFormatter(menus *menu.Registry, uploader MediaUploader, media MediaSource, logger *zap.Logger) *Formatter {
	if menus == nil {
		menus = menu.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{menus: menus, uploader: uploader, media: media, logger: logger}
}

// Format renders d for recipient to on behalf of tenant. Bodies are returned
// in send order.
func (f *Formatter) Format(ctx context.Context, tenant *domain.TenantMetadata, to string, d domain.Descriptor) ([]whatsapp.Message, error) {
	switch d.Kind {
	case domain.DescriptorText:
		chunks := ChunkText(d.Text, whatsapp.MaxTextLength)
		out := make([]whatsapp.Message, 0, len(chunks))
		for _, chunk := range chunks {
			out = append(out, whatsapp.NewTextMessage(to, chunk))
		}
		return out, nil
	case domain.DescriptorImage:
		msg, err := f.formatImage(ctx, tenant, to, d.Image)
		if err != nil {
			return nil, err
		}
		return []whatsapp.Message{msg}, nil
	case domain.DescriptorRawBody:
		if d.Body == nil {
			return nil, errors.New("raw-body descriptor has no body")
		}
		msg := *d.Body
		msg.Normalize(to)
		return []whatsapp.Message{msg}, nil
	case domain.DescriptorMenu:
		msg, err := f.menus.Compile(d.Menu, to, menu.Branding{
			BusinessName: tenant.BusinessName,
			Tagline:      tenant.Tagline,
		})
		if err != nil {
			return nil, err
		}
		return []whatsapp.Message{msg}, nil
	default:
		err := &UnknownKindError{Kind: d.Kind}
		f.logger.Error("cannot format descriptor",
			zap.String("channel_number_id", tenant.ChannelNumberID),
			zap.String("user_id", to),
			zap.Error(err),
		)
		return nil, err
	}
}

func (f *Formatter) formatImage(ctx context.Context, tenant *domain.TenantMetadata, to string, ref *domain.ImageRef) (whatsapp.Message, error) {
	if ref == nil || ref.URL == "" {
		return whatsapp.Message{}, errors.New("image descriptor has no url")
	}
	if f.media == nil || f.uploader == nil {
		return whatsapp.Message{}, errors.New("image upload not configured")
	}

	content, contentType, err := f.media.Open(ctx, ref.URL)
	if err != nil {
		return whatsapp.Message{}, fmt.Errorf("open media: %w", err)
	}
	defer content.Close()

	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = contentType
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	fileName := path.Base(ref.URL)
	if u, err := url.Parse(ref.URL); err == nil && u.Path != "" {
		fileName = path.Base(u.Path)
	}

	mediaID, err := f.uploader.UploadMedia(ctx, tenant.ChannelNumberID, tenant.AccessToken, fileName, mimeType, content)
	if err != nil {
		return whatsapp.Message{}, fmt.Errorf("upload media: %w", err)
	}
	return whatsapp.NewImageMessage(to, mediaID, ref.Caption), nil
}

// ChunkText splits text into ordered pieces of at most limit characters whose
// concatenation is text. Empty text yields no pieces.
func ChunkText(text string, limit int) []string {
	if text == "" || limit <= 0 {
		return nil
	}
	var chunks []string
	start, count := 0, 0
	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		if count == limit {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		i += size
		count++
	}
	return append(chunks, text[start:])
}

// HTTPMediaSource downloads media over HTTP. Relative references are resolved
// against a base URL.
type HTTPMediaSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPMediaSource constructs a media source.
func NewHTTPMediaSource(baseURL string, timeout time.Duration) *HTTPMediaSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPMediaSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Open fetches ref and returns its body and content type.
func (s *HTTPMediaSource) Open(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		if s.baseURL == "" {
			return nil, "", fmt.Errorf("relative media reference %q without base url", ref)
		}
		target = s.baseURL + "/" + strings.TrimLeft(ref, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
