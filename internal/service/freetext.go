package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/dialogue"
	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// MessageWriter is the subset of *kafka.Writer used to publish.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaFreeTextForwarder publishes free text for the assistant service.
// Messages are keyed by dialogue so one user's texts stay ordered.
type KafkaFreeTextForwarder struct {
	writer MessageWriter
}

// NewKafkaFreeTextForwarder constructs a forwarder.
func NewKafkaFreeTextForwarder(writer MessageWriter) *KafkaFreeTextForwarder {
	return &KafkaFreeTextForwarder{writer: writer}
}

// Forward implements dialogue.FreeTextForwarder.
func (f *KafkaFreeTextForwarder) Forward(ctx context.Context, ft dialogue.FreeText) error {
	payload, err := json.Marshal(ft)
	if err != nil {
		return fmt.Errorf("encode free text: %w", err)
	}
	if err := f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(domain.SnapshotKey(ft.ChannelNumberID, ft.UserID)),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("publish free text: %w", err)
	}
	return nil
}

// LoggingFreeTextForwarder records free text when no broker is configured.
type LoggingFreeTextForwarder struct {
	logger *zap.Logger
}

// NewLoggingFreeTextForwarder constructs a forwarder.
func NewLoggingFreeTextForwarder(logger *zap.Logger) *LoggingFreeTextForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingFreeTextForwarder{logger: logger}
}

// Forward implements dialogue.FreeTextForwarder.
func (f *LoggingFreeTextForwarder) Forward(_ context.Context, ft dialogue.FreeText) error {
	f.logger.Info("free text received",
		zap.String("channel_number_id", ft.ChannelNumberID),
		zap.String("user_id", ft.UserID),
		zap.String("message_id", ft.MessageID),
		zap.Int("length", len(ft.Body)),
	)
	return nil
}
