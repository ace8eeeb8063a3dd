package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/dialogue"
	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
	"github.com/pondem87/thuso-monorepo-sub000/internal/repository"
)

// Inbound stages, used in logs and failure events.
const (
	stageLock      = "lock"
	stageRetrieval = "state_retrieval"
	stageActions   = "state_actions"
	stageStorage   = "state_storage"
	stageReply     = "reply"
)

// InboundService loads a user's dialogue, feeds it one inbound message,
// stores the result and then sends the replies the dialogue computed.
type InboundService struct {
	store         repository.SnapshotStore
	locker        repository.SnapshotLocker
	sender        dialogue.Sender
	catalog       dialogue.Catalog
	freeText      dialogue.FreeTextForwarder
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	settleTimeout time.Duration
	pageSize      int
	now           func() time.Time
}

// InboundDependencies bundles collaborators for the inbound service.
type InboundDependencies struct {
	Store         repository.SnapshotStore
	Locker        repository.SnapshotLocker
	Sender        dialogue.Sender
	Catalog       dialogue.Catalog
	FreeText      dialogue.FreeTextForwarder
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
	SettleTimeout time.Duration
	PageSize      int
	Now           func() time.Time
}

// NewInboundService constructs the service. Without a locker, callers must
// serialize events per user themselves.
func NewInboundService(deps InboundDependencies) *InboundService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.PageSize <= 0 {
		deps.PageSize = dialogue.DefaultPageSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &InboundService{
		store:         deps.Store,
		locker:        deps.Locker,
		sender:        deps.Sender,
		catalog:       deps.Catalog,
		freeText:      deps.FreeText,
		dispatcher:    deps.Dispatcher,
		logger:        deps.Logger,
		settleTimeout: deps.SettleTimeout,
		pageSize:      deps.PageSize,
		now:           deps.Now,
	}
}

// Handle processes one inbound event. Any stage failure aborts the remaining
// stages; nothing done by earlier stages is undone.
func (s *InboundService) Handle(ctx context.Context, ev domain.InboundEvent) error {
	logger := s.logger.With(
		zap.String("channel_number_id", ev.ChannelNumberID),
		zap.String("user_id", ev.UserID),
		zap.String("message_id", ev.Message.ID),
	)
	if ev.ChannelNumberID == "" || ev.UserID == "" {
		return s.fail(ctx, logger, ev, stageRetrieval, errors.New("inbound event missing channel number or user"))
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, ev.Key())
		if err != nil {
			return s.fail(ctx, logger, ev, stageLock, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("dialogue lock release failed", zap.Error(err))
			}
		}()
	}

	actor, existing, err := s.retrieve(ctx, logger, ev)
	if err != nil {
		return s.fail(ctx, logger, ev, stageRetrieval, err)
	}

	outcome, err := s.act(ctx, actor, ev.Message)
	if err != nil {
		return s.fail(ctx, logger, ev, stageActions, err)
	}

	if err := s.persist(ctx, actor.Snapshot(), ev, existing); err != nil {
		return s.fail(ctx, logger, ev, stageStorage, err)
	}

	if outcome == nil || s.sender == nil {
		return nil
	}
	for i, d := range outcome.Messages {
		if err := s.sender.Send(ctx, ev.ChannelNumberID, ev.UserID, d); err != nil {
			if errors.Is(err, ErrNotDelivered) {
				logger.Info("dialogue reply not delivered", zap.Int("reply", i), zap.Error(err))
				return nil
			}
			return s.fail(ctx, logger.With(zap.Int("reply", i)), ev, stageReply, err)
		}
	}
	return nil
}

// retrieve rehydrates the user's actor, or seeds a fresh one. An unreadable
// document is replaced by a fresh dialogue so the user is not stuck.
func (s *InboundService) retrieve(ctx context.Context, logger *zap.Logger, ev domain.InboundEvent) (*dialogue.Actor, *domain.DialogueSnapshot, error) {
	existing, err := s.store.Get(ctx, ev.ChannelNumberID, ev.UserID)
	if err != nil && !errors.Is(err, repository.ErrSnapshotNotFound) {
		return nil, nil, err
	}

	snap := dialogue.New(
		dialogue.Contact{WaID: ev.UserID, Name: ev.Contact.Profile.Name},
		dialogue.Channel{ChannelNumberID: ev.ChannelNumberID, DisplayPhoneNumber: ev.Metadata.DisplayPhoneNumber},
		s.pageSize,
	)
	if existing != nil {
		decoded, err := dialogue.Decode(existing.Document)
		if err != nil {
			logger.Warn("discarding unreadable dialogue snapshot", zap.Error(err))
		} else {
			snap = decoded
		}
	}

	actor := dialogue.NewActor(dialogue.Dependencies{
		Sender:        s.sender,
		Catalog:       s.catalog,
		FreeText:      s.freeText,
		Logger:        s.logger,
		SettleTimeout: s.settleTimeout,
	}, snap)
	return actor, existing, nil
}

// act delivers msg and, once the leaf has executed, applies the transition
// the handler chose.
func (s *InboundService) act(ctx context.Context, actor *dialogue.Actor, msg domain.InboundMessage) (*dialogue.Outcome, error) {
	outcome, err := actor.Deliver(ctx, msg)
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return nil, nil
	}
	if err := actor.Send(ctx, dialogue.TransitionEvent(outcome.Transition)); err != nil {
		return nil, fmt.Errorf("apply transition %q: %w", outcome.Transition, err)
	}
	return outcome, nil
}

func (s *InboundService) persist(ctx context.Context, snap dialogue.Snapshot, ev domain.InboundEvent, existing *domain.DialogueSnapshot) error {
	doc, err := snap.Encode()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	record := &domain.DialogueSnapshot{
		ChannelNumberID: ev.ChannelNumberID,
		UserID:          ev.UserID,
		Document:        doc,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing != nil && !existing.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	}
	if err := s.store.Upsert(ctx, record); err != nil {
		return err
	}
	s.publishEvent(ctx, events.NewEvent(events.EventSnapshotPersisted, ev.ChannelNumberID, ev.UserID, events.SnapshotPersistedPayload{
		State:   string(snap.State),
		Created: existing == nil,
	}))
	return nil
}

func (s *InboundService) fail(ctx context.Context, logger *zap.Logger, ev domain.InboundEvent, stage string, err error) error {
	logger.Error("inbound processing failed", zap.String("stage", stage), zap.Error(err))
	s.publishEvent(ctx, events.NewEvent(events.EventInboundFailed, ev.ChannelNumberID, ev.UserID, events.InboundFailedPayload{
		Stage: stage,
		Error: err.Error(),
	}))
	return fmt.Errorf("inbound %s: %w", stage, err)
}

func (s *InboundService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, event)
}
