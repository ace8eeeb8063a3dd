package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/service"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type recordingInbound struct {
	mu  sync.Mutex
	got []domain.InboundEvent
}

func (r *recordingInbound) Handle(_ context.Context, ev domain.InboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

type recordingDispatcher struct {
	mu  sync.Mutex
	got []domain.OutboundRequest
}

func (r *recordingDispatcher) Dispatch(_ context.Context, req domain.OutboundRequest) (*service.DispatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, req)
	return &service.DispatchResult{Outcome: service.OutcomeSent}, nil
}

func TestConsumer_CommitsHandledAndRejectedRecords(t *testing.T) {
	payload, err := json.Marshal(domain.InboundEvent{ChannelNumberID: "ch1", UserID: "u1", Message: domain.InboundMessage{ID: "m1"}})
	require.NoError(t, err)
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: payload},
		{Offset: 2, Value: []byte("not json")},
	}}

	q := NewQueue(context.Background(), QueueOptions{})
	defer q.Stop()
	inbound := &recordingInbound{}
	consumer := NewConsumer("inbound", reader, InboundMessageHandler(NewInboundWorker(q, inbound)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.True(t, reader.closed)

	require.True(t, q.WaitIdle(time.Second))
	require.Len(t, inbound.got, 1)
	require.Equal(t, "m1", inbound.got[0].Message.ID)
}

func TestOutboundMessageHandler_StampsMissingID(t *testing.T) {
	q := NewQueue(context.Background(), QueueOptions{})
	defer q.Stop()
	dispatcher := &recordingDispatcher{}
	handle := OutboundMessageHandler(NewOutboundWorker(q, dispatcher))

	value, err := json.Marshal(domain.OutboundRequest{ChannelNumberID: "ch1", UserID: "u1", Descriptor: domain.TextDescriptor("hi")})
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), kafka.Message{Value: value}))
	require.True(t, q.WaitIdle(time.Second))

	require.Len(t, dispatcher.got, 1)
	require.NotEmpty(t, dispatcher.got[0].ID)
	require.Equal(t, "hi", dispatcher.got[0].Descriptor.Text)

	require.Error(t, handle(context.Background(), kafka.Message{Value: []byte("{")}))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaInboundPublisher_KeysByDialogue(t *testing.T) {
	w := &fakeWriter{}
	ev := domain.InboundEvent{ChannelNumberID: "ch1", UserID: "u1"}
	require.NoError(t, NewKafkaInboundPublisher(w).Submit(context.Background(), ev))
	require.Equal(t, "ch1:u1", string(w.msgs[0].Key))

	boom := errors.New("down")
	require.ErrorIs(t, NewKafkaInboundPublisher(&fakeWriter{err: boom}).Submit(context.Background(), ev), boom)
}
