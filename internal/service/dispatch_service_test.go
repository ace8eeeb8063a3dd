package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
	"github.com/pondem87/thuso-monorepo-sub000/internal/whatsapp"
)

type fakeTenants struct {
	tenant  *domain.TenantMetadata
	account *domain.TenantAccountMetadata
	err     error
}

func (f *fakeTenants) ResolveChannel(context.Context, string) (*domain.TenantMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tenant, nil
}

func (f *fakeTenants) ResolveAccount(context.Context, string) (*domain.TenantAccountMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.account, nil
}

type sendCall struct {
	channel string
	token   string
	msg     whatsapp.Message
}

type fakeMessageSender struct {
	mu     sync.Mutex
	calls  []sendCall
	failAt int
}

func (f *fakeMessageSender) SendMessage(_ context.Context, channelNumberID, token string, msg whatsapp.Message) (*whatsapp.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{channel: channelNumberID, token: token, msg: msg})
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return nil, errors.New("graph unavailable")
	}
	return &whatsapp.SendResponse{Messages: []whatsapp.SentMessage{{ID: fmt.Sprintf("wamid.%d", len(f.calls))}}}, nil
}

type fakeRecords struct {
	mu      sync.Mutex
	records []domain.SentMessageRecord
}

func (f *fakeRecords) Create(_ context.Context, rec *domain.SentMessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

type dispatchHarness struct {
	tenants *fakeTenants
	windows *fakeWindowRepo
	sender  *fakeMessageSender
	records *fakeRecords
	events  []events.Event
	clock   *clock
	svc     *DispatchService
}

func newDispatchHarness(quota int) *dispatchHarness {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h := &dispatchHarness{
		tenants: &fakeTenants{
			tenant: &domain.TenantMetadata{
				ChannelNumberID:     "ch1",
				TenantID:            "t1",
				AccessToken:         "tok",
				BusinessName:        "Acme",
				SubscriptionEndDate: now.Add(30 * 24 * time.Hour),
			},
			account: &domain.TenantAccountMetadata{
				TenantID:                     "t1",
				MaxAllowedDailyConversations: quota,
				SubscriptionEndDate:          now.Add(30 * 24 * time.Hour),
			},
		},
		windows: newFakeWindowRepo(),
		sender:  &fakeMessageSender{},
		records: &fakeRecords{},
		clock:   &clock{now: now},
	}
	dispatcher := events.NewInMemoryDispatcher(nil)
	for _, et := range []events.EventType{events.EventMessageSent, events.EventAdmissionRefused, events.EventDispatchFailed} {
		dispatcher.Subscribe(et, func(_ context.Context, ev events.Event) error {
			h.events = append(h.events, ev)
			return nil
		})
	}
	h.svc = NewDispatchService(DispatchDependencies{
		Tenants:    h.tenants,
		Windows:    newWindowService(h.windows, h.clock, nil),
		Sender:     h.sender,
		Records:    h.records,
		Dispatcher: dispatcher,
		Now:        h.clock.Now,
	})
	return h
}

func (h *dispatchHarness) eventTypes() []events.EventType {
	out := make([]events.EventType, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestDispatch_SendsAndRecords(t *testing.T) {
	h := newDispatchHarness(10)
	text := strings.Repeat("a", 5000)

	result, err := h.svc.Dispatch(context.Background(), domain.NewOutboundRequest("ch1", "u1", domain.TextDescriptor(text)))
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, result.Outcome)
	require.NotEmpty(t, result.WindowID)
	require.Equal(t, []string{"wamid.1", "wamid.2"}, result.MessageIDs)

	require.Len(t, h.sender.calls, 2)
	require.Equal(t, "tok", h.sender.calls[0].token)
	require.Equal(t, text, h.sender.calls[0].msg.Text.Body+h.sender.calls[1].msg.Text.Body)

	require.Len(t, h.records.records, 2)
	for _, rec := range h.records.records {
		require.Equal(t, result.WindowID, rec.ConversationWindowID)
		require.Equal(t, "accepted", rec.Status)
		require.Contains(t, string(rec.Payload), `"messaging_product":"whatsapp"`)
	}
	require.Equal(t, []events.EventType{events.EventMessageSent, events.EventMessageSent}, h.eventTypes())
}

func TestDispatch_ReusesOpenWindow(t *testing.T) {
	h := newDispatchHarness(10)
	ctx := context.Background()

	first, err := h.svc.Dispatch(ctx, domain.NewOutboundRequest("ch1", "u1", domain.TextDescriptor("one")))
	require.NoError(t, err)
	h.clock.Advance(23 * time.Hour)
	second, err := h.svc.Dispatch(ctx, domain.NewOutboundRequest("ch1", "u1", domain.TextDescriptor("two")))
	require.NoError(t, err)

	require.Equal(t, first.WindowID, second.WindowID)
	require.Equal(t, 1, h.windows.count("t1", "ch1"))

	h.clock.Advance(2 * time.Hour)
	third, err := h.svc.Dispatch(ctx, domain.NewOutboundRequest("ch1", "u1", domain.TextDescriptor("three")))
	require.NoError(t, err)
	require.NotEqual(t, first.WindowID, third.WindowID)
}

func TestDispatch_QuotaRefusalSendsNothing(t *testing.T) {
	h := newDispatchHarness(2)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		result, err := h.svc.Dispatch(ctx, domain.NewOutboundRequest("ch1", user, domain.TextDescriptor("hi")))
		require.NoError(t, err)
		require.Equal(t, OutcomeSent, result.Outcome)
	}
	calls := len(h.sender.calls)

	result, err := h.svc.Dispatch(ctx, domain.NewOutboundRequest("ch1", "u3", domain.TextDescriptor("hi")))
	require.NoError(t, err)
	require.Equal(t, OutcomeRefused, result.Outcome)
	require.Empty(t, result.WindowID)
	require.Len(t, h.sender.calls, calls)
	require.Equal(t, events.EventAdmissionRefused, h.events[len(h.events)-1].Type)

	err = h.svc.Send(ctx, "ch1", "u3", domain.TextDescriptor("hi"))
	require.ErrorIs(t, err, ErrNotDelivered)
}

func TestDispatch_IneligibleTenantShortCircuits(t *testing.T) {
	cases := map[string]func(h *dispatchHarness){
		"disabled tenant":      func(h *dispatchHarness) { h.tenants.tenant.Disabled = true },
		"expired subscription": func(h *dispatchHarness) { h.tenants.tenant.SubscriptionEndDate = h.clock.Now().Add(-time.Hour) },
		"disabled account":     func(h *dispatchHarness) { h.tenants.account.Disabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newDispatchHarness(10)
			mutate(h)

			result, err := h.svc.Dispatch(context.Background(), domain.NewOutboundRequest("ch1", "u1", domain.TextDescriptor("hi")))
			require.NoError(t, err)
			require.Equal(t, OutcomeIneligible, result.Outcome)
			require.Empty(t, h.sender.calls)
			require.Zero(t, h.windows.count("t1", "ch1"))
		})
	}
}

func TestDispatch_FirstSendFailureAbortsBatch(t *testing.T) {
	h := newDispatchHarness(10)
	h.sender.failAt = 2
	text := strings.Repeat("b", 3*4096)

	result, err := h.svc.Dispatch(context.Background(), domain.NewOutboundRequest("ch1", "u1", domain.TextDescriptor(text)))
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Equal(t, []string{"wamid.1"}, result.MessageIDs)
	require.Len(t, h.sender.calls, 2)
	require.Len(t, h.records.records, 1)
	require.Equal(t, events.EventDispatchFailed, h.events[len(h.events)-1].Type)
}

func TestDispatch_ResolveFailure(t *testing.T) {
	h := newDispatchHarness(10)
	h.tenants.err = errors.New("management api down")

	result, err := h.svc.Dispatch(context.Background(), domain.NewOutboundRequest("ch1", "u1", domain.TextDescriptor("hi")))
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Empty(t, h.sender.calls)
}

func TestDispatch_UnknownKindSendsNothing(t *testing.T) {
	h := newDispatchHarness(10)

	result, err := h.svc.Dispatch(context.Background(), domain.NewOutboundRequest("ch1", "u1", domain.Descriptor{Kind: "sticker"}))
	var kindErr *UnknownKindError
	require.ErrorAs(t, err, &kindErr)
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Empty(t, h.sender.calls)
	require.Zero(t, h.windows.count("t1", "ch1"))
}

func TestDispatch_RejectsInvalidRequest(t *testing.T) {
	h := newDispatchHarness(10)

	_, err := h.svc.Dispatch(context.Background(), domain.NewOutboundRequest("ch1", "", domain.TextDescriptor("hi")))
	require.Error(t, err)

	d := domain.TextDescriptor("hi")
	d.ConversationKind = "utility"
	_, err = h.svc.Dispatch(context.Background(), domain.NewOutboundRequest("ch1", "u1", d))
	require.Error(t, err)
}
