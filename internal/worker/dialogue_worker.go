package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/service"
)

// InboundHandler processes one demultiplexed webhook event.
type InboundHandler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) error
}

// OutboundDispatcher delivers one outbound request.
type OutboundDispatcher interface {
	Dispatch(ctx context.Context, req domain.OutboundRequest) (*service.DispatchResult, error)
}

// InboundWorker runs inbound events on the queue, one lane per dialogue.
type InboundWorker struct {
	queue   *Queue
	handler InboundHandler
}

// NewInboundWorker constructs the worker.
func NewInboundWorker(queue *Queue, handler InboundHandler) *InboundWorker {
	return &InboundWorker{queue: queue, handler: handler}
}

// Submit schedules ev behind earlier events of the same user.
func (w *InboundWorker) Submit(_ context.Context, ev domain.InboundEvent) error {
	return w.queue.Enqueue(Job{
		Key:  ev.Key(),
		Name: "inbound",
		Run: func(ctx context.Context) error {
			return w.handler.Handle(ctx, ev)
		},
	})
}

// OutboundWorker runs outbound requests on the queue so sends to one user
// keep their order.
type OutboundWorker struct {
	queue      *Queue
	dispatcher OutboundDispatcher
}

// NewOutboundWorker constructs the worker.
func NewOutboundWorker(queue *Queue, dispatcher OutboundDispatcher) *OutboundWorker {
	return &OutboundWorker{queue: queue, dispatcher: dispatcher}
}

// Submit schedules req.
func (w *OutboundWorker) Submit(_ context.Context, req domain.OutboundRequest) error {
	return w.queue.Enqueue(Job{
		Key:  "out:" + domain.SnapshotKey(req.ChannelNumberID, req.UserID),
		Name: "outbound",
		Run: func(ctx context.Context) error {
			_, err := w.dispatcher.Dispatch(ctx, req)
			return err
		},
	})
}

// MessageWriter is the subset of *kafka.Writer used to publish.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaInboundPublisher hands webhook events to the inbound topic instead of
// processing them in this process. Events are keyed by dialogue so a
// partition preserves each user's order.
type KafkaInboundPublisher struct {
	writer MessageWriter
}

// NewKafkaInboundPublisher constructs the publisher.
func NewKafkaInboundPublisher(writer MessageWriter) *KafkaInboundPublisher {
	return &KafkaInboundPublisher{writer: writer}
}

// Submit publishes ev.
func (p *KafkaInboundPublisher) Submit(ctx context.Context, ev domain.InboundEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode inbound event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Key()), Value: payload}); err != nil {
		return fmt.Errorf("publish inbound event: %w", err)
	}
	return nil
}

// InboundMessageHandler decodes inbound topic records into w.
func InboundMessageHandler(w *InboundWorker) MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev domain.InboundEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return fmt.Errorf("decode inbound event: %w", err)
		}
		return w.Submit(ctx, ev)
	}
}

// OutboundMessageHandler decodes outbound topic records into w.
func OutboundMessageHandler(w *OutboundWorker) MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var req domain.OutboundRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			return fmt.Errorf("decode outbound request: %w", err)
		}
		if req.ID == "" {
			req = domain.NewOutboundRequest(req.ChannelNumberID, req.UserID, req.Descriptor)
		}
		return w.Submit(ctx, req)
	}
}
