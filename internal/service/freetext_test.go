package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/thuso-monorepo-sub000/internal/dialogue"
)

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

func TestKafkaFreeTextForwarder_KeysByDialogue(t *testing.T) {
	w := &fakeWriter{}
	fwd := NewKafkaFreeTextForwarder(w)
	ft := dialogue.FreeText{
		ChannelNumberID: "ch1",
		UserID:          "u1",
		MessageID:       "m1",
		Body:            "do you deliver?",
		ReceivedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	require.NoError(t, fwd.Forward(context.Background(), ft))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "ch1:u1", string(w.msgs[0].Key))

	var got dialogue.FreeText
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, ft, got)
}

func TestKafkaFreeTextForwarder_WrapsPublishError(t *testing.T) {
	boom := errors.New("broker unreachable")
	fwd := NewKafkaFreeTextForwarder(&fakeWriter{err: boom})
	err := fwd.Forward(context.Background(), dialogue.FreeText{ChannelNumberID: "ch1", UserID: "u1"})
	require.ErrorIs(t, err, boom)
}
