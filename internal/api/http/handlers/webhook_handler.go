package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/api/dto"
	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	apperrors "github.com/pondem87/thuso-monorepo-sub000/pkg/util/errorutil"
)

const signatureHeader = "X-Hub-Signature-256"

// InboundSink accepts demultiplexed webhook events for processing.
type InboundSink interface {
	Submit(ctx context.Context, ev domain.InboundEvent) error
}

// WebhookHandler receives channel webhook notifications.
type WebhookHandler struct {
	sink        InboundSink
	verifyToken string
	appSecret   string
	logger      *zap.Logger
	now         func() time.Time
}

// NewWebhookHandler constructs handler. An empty appSecret disables
// signature verification.
func NewWebhookHandler(sink InboundSink, verifyToken, appSecret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		sink:        sink,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      logger,
		now:         time.Now,
	}
}

// Verify GET /webhook subscription handshake.
func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	if h.verifyToken == "" ||
		c.Query("hub.mode") != "subscribe" ||
		!hmac.Equal([]byte(c.Query("hub.verify_token")), []byte(h.verifyToken)) {
		return apperrors.NewForbidden("webhook verification failed")
	}
	return c.SendString(c.Query("hub.challenge"))
}

// Receive POST /webhook.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	body := c.Body()
	if h.appSecret != "" && !validSignature(body, c.Get(signatureHeader), h.appSecret) {
		return apperrors.NewUnauthorized("invalid webhook signature")
	}

	var payload dto.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if payload.Object != dto.WebhookObject {
		h.logger.Debug("ignoring webhook object", zap.String("object", payload.Object))
		return c.SendStatus(fiber.StatusOK)
	}

	if statuses := payload.Statuses(); len(statuses) > 0 {
		h.logger.Debug("delivery statuses received", zap.Int("count", len(statuses)))
	}

	failed := 0
	for _, ev := range payload.InboundEvents(h.now().UTC()) {
		if ev.ChannelNumberID == "" || ev.UserID == "" {
			h.logger.Warn("dropping inbound message without channel or sender", zap.String("message_id", ev.Message.ID))
			continue
		}
		if err := h.sink.Submit(c.UserContext(), ev); err != nil {
			failed++
			h.logger.Error("inbound event not accepted",
				zap.String("channel_number_id", ev.ChannelNumberID),
				zap.String("user_id", ev.UserID),
				zap.String("message_id", ev.Message.ID),
				zap.Error(err),
			)
		}
	}
	if failed > 0 {
		return apperrors.NewUnavailable("inbound events not accepted", nil)
	}
	return c.SendStatus(fiber.StatusOK)
}

func validSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
