package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
	"github.com/pondem87/thuso-monorepo-sub000/internal/repository"
)

// WindowService tracks conversation windows and enforces the daily
// per-tenant conversation quota.
type WindowService struct {
	windows    repository.WindowRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// WindowDependencies bundles collaborators for the window service.
type WindowDependencies struct {
	WindowRepo repository.WindowRepository
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewWindowService constructs the service.
func NewWindowService(deps WindowDependencies) *WindowService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &WindowService{
		windows:    deps.WindowRepo,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Now,
	}
}

// FindOpenWindow returns the user's unexpired window of kind, or nil.
func (s *WindowService) FindOpenWindow(ctx context.Context, channelNumberID, userID string, kind domain.ConversationKind) (*domain.ConversationWindow, error) {
	w, err := s.windows.FindOpen(ctx, channelNumberID, userID, kind, s.now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open window: %w", err)
	}
	return w, nil
}

// AdmitAndCreateWindow opens a new window if the tenant's conversations in
// the rolling period, summed over all its channel numbers, are below quota.
// A nil window with a nil error means admission was refused.
//
// The check, the insert and the counter increment run in one transaction
// under a per-tenant lock. A window opened concurrently for the same user is
// returned instead of opening a second one.
func (s *WindowService) AdmitAndCreateWindow(ctx context.Context, tenantID, channelNumberID, userID string, kind domain.ConversationKind, quota int) (*domain.ConversationWindow, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid conversation kind %q", kind)
	}

	var admitted *domain.ConversationWindow
	var opened bool
	err := s.windows.WithTenantLock(ctx, tenantID, func(tx repository.QuotaTx) error {
		now := s.now().UTC()

		existing, err := tx.OpenWindow(ctx, channelNumberID, userID, kind, now)
		if err == nil {
			admitted = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("recheck open window: %w", err)
		}

		counters, err := tx.Counters(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("load quota counters: %w", err)
		}
		used := 0
		for _, c := range counters {
			if c.Stale(now) {
				if err := tx.ResetCounter(ctx, c.TenantID, c.ChannelNumberID, now); err != nil {
					return fmt.Errorf("reset quota counter: %w", err)
				}
				continue
			}
			used += c.Count
		}
		if used >= quota {
			s.logger.Info("conversation quota exhausted",
				zap.String("tenant_id", tenantID),
				zap.Int("used", used),
				zap.Int("quota", quota),
			)
			return nil
		}

		w := &domain.ConversationWindow{
			ID:              uuid.NewString(),
			ChannelNumberID: channelNumberID,
			UserID:          userID,
			Kind:            kind,
			CreatedAt:       now,
			ExpiresAt:       now.Add(domain.ConversationWindowDuration),
		}
		if err := tx.InsertWindow(ctx, w); err != nil {
			return fmt.Errorf("insert window: %w", err)
		}
		if _, err := tx.IncrementCounter(ctx, tenantID, channelNumberID, now); err != nil {
			return fmt.Errorf("increment quota counter: %w", err)
		}
		admitted = w
		opened = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opened {
		s.publishEvent(ctx, events.NewEvent(events.EventWindowOpened, channelNumberID, userID, events.WindowOpenedPayload{
			WindowID: admitted.ID,
			TenantID: tenantID,
			Category: kind,
		}))
	}
	return admitted, nil
}

func (s *WindowService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, event)
}
