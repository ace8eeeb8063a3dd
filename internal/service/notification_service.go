package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
)

// NotificationService reports delivery events to the log and, when a writer
// is configured, to the events topic for downstream reconciliation.
type NotificationService struct {
	dispatcher events.Dispatcher
	writer     MessageWriter
	logger     *zap.Logger
}

// NewNotificationService creates the service. writer may be nil.
func NewNotificationService(dispatcher events.Dispatcher, writer MessageWriter, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		writer:     writer,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventMessageSent, n.handleMessageSent)
	n.dispatcher.Subscribe(events.EventAdmissionRefused, n.handleAdmissionRefused)
	n.dispatcher.Subscribe(events.EventDispatchFailed, n.handleFailure)
	n.dispatcher.Subscribe(events.EventInboundFailed, n.handleFailure)
}

func (n *NotificationService) handleMessageSent(ctx context.Context, event events.Event) error {
	n.logger.Info("MessageSent",
		zap.String("channel_number_id", event.ChannelNumberID),
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return n.publish(ctx, event)
}

func (n *NotificationService) handleAdmissionRefused(ctx context.Context, event events.Event) error {
	n.logger.Warn("AdmissionRefused",
		zap.String("channel_number_id", event.ChannelNumberID),
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return n.publish(ctx, event)
}

func (n *NotificationService) handleFailure(ctx context.Context, event events.Event) error {
	n.logger.Debug("DeliveryFailure",
		zap.String("event_type", string(event.Type)),
		zap.String("channel_number_id", event.ChannelNumberID),
		zap.String("user_id", event.UserID))
	return n.publish(ctx, event)
}

func (n *NotificationService) publish(ctx context.Context, event events.Event) error {
	if n.writer == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ChannelNumberID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}
