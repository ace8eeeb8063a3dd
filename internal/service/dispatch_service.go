package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
	"github.com/pondem87/thuso-monorepo-sub000/internal/observability"
	"github.com/pondem87/thuso-monorepo-sub000/internal/repository"
	"github.com/pondem87/thuso-monorepo-sub000/internal/whatsapp"
)

// DispatchOutcome summarises a dispatch attempt.
type DispatchOutcome string

const (
	OutcomeSent       DispatchOutcome = "sent"
	OutcomeRefused    DispatchOutcome = "refused"
	OutcomeIneligible DispatchOutcome = "ineligible"
	OutcomeFailed     DispatchOutcome = "failed"
)

// Dispatch stages, used in logs and failure events.
const (
	stageResolve = "resolve"
	stageFormat  = "format"
	stageAdmit   = "admit"
	stageSend    = "send"
	stageRecord  = "record"
)

// ErrNotDelivered is returned by Send when the message was refused or the
// tenant is ineligible.
var ErrNotDelivered = errors.New("message not delivered")

// DispatchResult reports what happened to an outbound request. MessageIDs
// lists the bodies accepted by the channel, including those sent before a
// failure.
type DispatchResult struct {
	Outcome    DispatchOutcome `json:"outcome"`
	WindowID   string          `json:"window_id,omitempty"`
	MessageIDs []string        `json:"message_ids,omitempty"`
}

// TenantResolver resolves the metadata the dispatch gate needs.
type TenantResolver interface {
	ResolveChannel(ctx context.Context, channelNumberID string) (*domain.TenantMetadata, error)
	ResolveAccount(ctx context.Context, tenantID string) (*domain.TenantAccountMetadata, error)
}

// WindowGate finds or admits conversation windows.
type WindowGate interface {
	FindOpenWindow(ctx context.Context, channelNumberID, userID string, kind domain.ConversationKind) (*domain.ConversationWindow, error)
	AdmitAndCreateWindow(ctx context.Context, tenantID, channelNumberID, userID string, kind domain.ConversationKind, quota int) (*domain.ConversationWindow, error)
}

// MessageSender posts message bodies to the channel.
type MessageSender interface {
	SendMessage(ctx context.Context, channelNumberID, token string, msg whatsapp.Message) (*whatsapp.SendResponse, error)
}

// DispatchService runs outbound requests through resolve, format, admit and send.
type DispatchService struct {
	tenants    TenantResolver
	windows    WindowGate
	formatter  *Formatter
	sender     MessageSender
	records    repository.SentMessageRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// DispatchDependencies bundles collaborators for the dispatch service.
type DispatchDependencies struct {
	Tenants    TenantResolver
	Windows    WindowGate
	Formatter  *Formatter
	Sender     MessageSender
	Records    repository.SentMessageRepository
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewDispatchService constructs the service.
func NewDispatchService(deps DispatchDependencies) *DispatchService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Formatter == nil {
		deps.Formatter = NewFormatter(nil, nil, nil, deps.Logger)
	}
	return &DispatchService{
		tenants:    deps.Tenants,
		windows:    deps.Windows,
		formatter:  deps.Formatter,
		sender:     deps.Sender,
		records:    deps.Records,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Now,
	}
}

// Dispatch delivers req. Refusals are reported through the result outcome
// with a nil error; failures return both a failed result and the cause.
func (s *DispatchService) Dispatch(ctx context.Context, req domain.OutboundRequest) (result *DispatchResult, err error) {
	started := s.now()
	result = &DispatchResult{Outcome: OutcomeFailed}
	defer func() {
		s.metrics.RecordDispatch(string(result.Outcome), s.now().Sub(started))
	}()

	kind := req.Descriptor.ConversationKind
	if kind == "" {
		kind = domain.ConversationKindService
	}
	logger := s.logger.With(
		zap.String("request_id", req.ID),
		zap.String("channel_number_id", req.ChannelNumberID),
		zap.String("user_id", req.UserID),
		zap.String("kind", string(req.Descriptor.Kind)),
	)
	if req.ChannelNumberID == "" || req.UserID == "" {
		return result, s.fail(ctx, logger, req, stageResolve, errors.New("channel number id and recipient are required"))
	}
	if !kind.Valid() {
		return result, s.fail(ctx, logger, req, stageResolve, fmt.Errorf("invalid conversation kind %q", kind))
	}

	tenant, err := s.tenants.ResolveChannel(ctx, req.ChannelNumberID)
	if err != nil {
		return result, s.fail(ctx, logger, req, stageResolve, err)
	}
	account, err := s.tenants.ResolveAccount(ctx, tenant.TenantID)
	if err != nil {
		return result, s.fail(ctx, logger, req, stageResolve, err)
	}
	now := s.now()
	if !tenant.Eligible(now) || !account.Eligible(now) {
		logger.Info("tenant not eligible for dispatch", zap.String("tenant_id", tenant.TenantID))
		result.Outcome = OutcomeIneligible
		s.refused(ctx, req, tenant.TenantID, "ineligible", kind)
		return result, nil
	}

	bodies, err := s.formatter.Format(ctx, tenant, req.UserID, req.Descriptor)
	if err != nil {
		return result, s.fail(ctx, logger, req, stageFormat, err)
	}
	if len(bodies) == 0 {
		return result, s.fail(ctx, logger, req, stageFormat, errors.New("descriptor produced no message bodies"))
	}

	window, err := s.windows.FindOpenWindow(ctx, req.ChannelNumberID, req.UserID, kind)
	if err != nil {
		return result, s.fail(ctx, logger, req, stageAdmit, err)
	}
	if window == nil {
		window, err = s.windows.AdmitAndCreateWindow(ctx, tenant.TenantID, req.ChannelNumberID, req.UserID, kind, account.MaxAllowedDailyConversations)
		if err != nil {
			return result, s.fail(ctx, logger, req, stageAdmit, err)
		}
	}
	if window == nil {
		logger.Info("conversation admission refused", zap.String("tenant_id", tenant.TenantID))
		result.Outcome = OutcomeRefused
		s.refused(ctx, req, tenant.TenantID, "quota", kind)
		return result, nil
	}
	result.WindowID = window.ID

	for i, body := range bodies {
		resp, err := s.sender.SendMessage(ctx, req.ChannelNumberID, tenant.AccessToken, body)
		if err != nil {
			return result, s.fail(ctx, logger.With(zap.Int("body", i)), req, stageSend, err)
		}
		if resp == nil || len(resp.Messages) == 0 {
			return result, s.fail(ctx, logger.With(zap.Int("body", i)), req, stageSend, errors.New("send response contained no messages"))
		}
		sent := resp.Messages[0]
		result.MessageIDs = append(result.MessageIDs, sent.ID)

		payload, err := json.Marshal(body)
		if err != nil {
			return result, s.fail(ctx, logger, req, stageRecord, err)
		}
		status := sent.MessageStatus
		if status == "" {
			status = "accepted"
		}
		record := &domain.SentMessageRecord{
			ExternalID:           sent.ID,
			ConversationWindowID: window.ID,
			ChannelNumberID:      req.ChannelNumberID,
			UserID:               req.UserID,
			Status:               status,
			Payload:              payload,
		}
		if err := s.records.Create(ctx, record); err != nil {
			return result, s.fail(ctx, logger.With(zap.String("message_id", sent.ID)), req, stageRecord, err)
		}
		s.publishEvent(ctx, events.NewEvent(events.EventMessageSent, req.ChannelNumberID, req.UserID, events.MessageSentPayload{
			MessageID: sent.ID,
			WindowID:  window.ID,
			Kind:      req.Descriptor.Kind,
			Category:  kind,
		}))
	}

	result.Outcome = OutcomeSent
	logger.Debug("dispatch complete", zap.String("window_id", window.ID), zap.Int("messages", len(result.MessageIDs)))
	return result, nil
}

// Send dispatches a single descriptor; it lets the dialogue engine deliver
// prompts and replies through the same pipeline.
func (s *DispatchService) Send(ctx context.Context, channelNumberID, userID string, d domain.Descriptor) error {
	result, err := s.Dispatch(ctx, domain.NewOutboundRequest(channelNumberID, userID, d))
	if err != nil {
		return err
	}
	if result.Outcome != OutcomeSent {
		return fmt.Errorf("%w: %s", ErrNotDelivered, result.Outcome)
	}
	return nil
}

func (s *DispatchService) fail(ctx context.Context, logger *zap.Logger, req domain.OutboundRequest, stage string, err error) error {
	logger.Error("dispatch failed", zap.String("stage", stage), zap.Error(err))
	s.publishEvent(ctx, events.NewEvent(events.EventDispatchFailed, req.ChannelNumberID, req.UserID, events.DispatchFailedPayload{
		Stage: stage,
		Error: err.Error(),
	}))
	return fmt.Errorf("dispatch %s: %w", stage, err)
}

func (s *DispatchService) refused(ctx context.Context, req domain.OutboundRequest, tenantID, reason string, kind domain.ConversationKind) {
	s.publishEvent(ctx, events.NewEvent(events.EventAdmissionRefused, req.ChannelNumberID, req.UserID, events.AdmissionRefusedPayload{
		TenantID: tenantID,
		Reason:   reason,
		Category: kind,
	}))
}

func (s *DispatchService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, event)
}
