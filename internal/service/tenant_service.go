package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
	"github.com/pondem87/thuso-monorepo-sub000/internal/management"
	"github.com/pondem87/thuso-monorepo-sub000/internal/repository"
)

// ManagementAPI is the subset of the management client the tenant cache uses.
type ManagementAPI interface {
	BusinessByChannelNumber(ctx context.Context, channelNumberID string) (*management.Business, error)
	AccountByID(ctx context.Context, accountID string) (*management.Account, error)
	ListProducts(ctx context.Context, accountID string, skip, take int) (*management.ProductPage, error)
}

// TenantService is a cache-aside view of tenant metadata backed by Postgres.
type TenantService struct {
	metadata   repository.TenantMetadataRepository
	accounts   repository.TenantAccountRepository
	api        ManagementAPI
	dispatcher events.Dispatcher
	logger     *zap.Logger
	ttl        time.Duration
	now        func() time.Time
}

// TenantDependencies bundles collaborators for the tenant service.
type TenantDependencies struct {
	MetadataRepo repository.TenantMetadataRepository
	AccountRepo  repository.TenantAccountRepository
	Management   ManagementAPI
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	TTL          time.Duration
	Now          func() time.Time
}

// NewTenantService constructs the service.
func NewTenantService(deps TenantDependencies) *TenantService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.TTL <= 0 {
		deps.TTL = 6 * time.Hour
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &TenantService{
		metadata:   deps.MetadataRepo,
		accounts:   deps.AccountRepo,
		api:        deps.Management,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		ttl:        deps.TTL,
		now:        deps.Now,
	}
}

// ResolveChannel returns the metadata of the tenant owning channelNumberID.
// The first lookup must reach the management API; later lookups fall back to
// the cached row when a refresh fails.
func (s *TenantService) ResolveChannel(ctx context.Context, channelNumberID string) (*domain.TenantMetadata, error) {
	cached, err := s.metadata.GetByChannelNumberID(ctx, channelNumberID)
	if errors.Is(err, pgx.ErrNoRows) {
		created, err := s.fetchChannel(ctx, channelNumberID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("create tenant metadata for %s: %w", channelNumberID, err)
		}
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant metadata: %w", err)
	}

	if !cached.Stale(s.now(), s.ttl) && !cached.MissingRequired() {
		return cached, nil
	}
	refreshed, err := s.fetchChannel(ctx, channelNumberID, cached.CreatedAt)
	if err != nil {
		s.refreshFailed(ctx, "tenant_metadata", channelNumberID, err)
		return cached, nil
	}
	return refreshed, nil
}

// ResolveAccount returns the account metadata for tenantID.
func (s *TenantService) ResolveAccount(ctx context.Context, tenantID string) (*domain.TenantAccountMetadata, error) {
	cached, err := s.accounts.GetByTenantID(ctx, tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		created, err := s.fetchAccount(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("create account metadata for %s: %w", tenantID, err)
		}
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account metadata: %w", err)
	}

	if !cached.Stale(s.now(), s.ttl) {
		return cached, nil
	}
	refreshed, err := s.fetchAccount(ctx, tenantID)
	if err != nil {
		s.refreshFailed(ctx, "tenant_account_metadata", tenantID, err)
		return cached, nil
	}
	return refreshed, nil
}

// ListProducts lists the catalogue of the tenant owning channelNumberID.
func (s *TenantService) ListProducts(ctx context.Context, channelNumberID string, skip, take int) (*domain.ProductPage, error) {
	meta, err := s.ResolveChannel(ctx, channelNumberID)
	if err != nil {
		return nil, err
	}
	page, err := s.api.ListProducts(ctx, meta.TenantID, skip, take)
	if err != nil {
		return nil, fmt.Errorf("list products for %s: %w", meta.TenantID, err)
	}

	out := &domain.ProductPage{Total: page.Total, Skip: skip, Take: take}
	for _, p := range page.Items {
		out.Items = append(out.Items, domain.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Currency:    p.Currency,
		})
	}
	return out, nil
}

// fetchChannel pulls the business and its account, then writes both rows.
// The account is always refreshed with the channel so eligibility stays in step.
func (s *TenantService) fetchChannel(ctx context.Context, channelNumberID string, createdAt time.Time) (*domain.TenantMetadata, error) {
	business, err := s.api.BusinessByChannelNumber(ctx, channelNumberID)
	if err != nil {
		return nil, fmt.Errorf("fetch business: %w", err)
	}
	if business.AccountID == "" {
		return nil, errors.New("business has no account id")
	}
	account, err := s.fetchAccount(ctx, business.AccountID)
	if err != nil {
		return nil, err
	}

	meta := &domain.TenantMetadata{
		ChannelNumberID:     channelNumberID,
		TenantID:            business.AccountID,
		AccessToken:         business.AccessToken,
		DisplayPhoneNumber:  business.DisplayPhoneNumber,
		BusinessName:        business.BusinessName,
		Tagline:             business.Tagline,
		SubscriptionEndDate: account.SubscriptionEndDate,
		Disabled:            business.Disabled || account.Disabled,
		LastRefreshedAt:     s.now().UTC(),
		CreatedAt:           createdAt,
	}
	if meta.SubscriptionEndDate.IsZero() {
		meta.SubscriptionEndDate = business.SubscriptionEnd
	}
	if err := s.metadata.Upsert(ctx, meta); err != nil {
		return nil, fmt.Errorf("store tenant metadata: %w", err)
	}
	return meta, nil
}

func (s *TenantService) fetchAccount(ctx context.Context, tenantID string) (*domain.TenantAccountMetadata, error) {
	account, err := s.api.AccountByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	meta := &domain.TenantAccountMetadata{
		TenantID:                     tenantID,
		MaxAllowedDailyConversations: account.MaxAllowedDailyConversations,
		Disabled:                     account.Disabled,
		SubscriptionEndDate:          account.SubscriptionEndDate,
		LastRefreshedAt:              s.now().UTC(),
	}
	if err := s.accounts.Upsert(ctx, meta); err != nil {
		return nil, fmt.Errorf("store account metadata: %w", err)
	}
	return meta, nil
}

func (s *TenantService) refreshFailed(ctx context.Context, resource, key string, err error) {
	s.logger.Warn("tenant metadata refresh failed; serving cached row",
		zap.String("resource", resource),
		zap.String("key", key),
		zap.Error(err),
	)
	s.publishEvent(ctx, events.NewEvent(events.EventTenantRefreshFailed, "", "", events.TenantRefreshFailedPayload{
		Resource: resource,
		Key:      key,
		Error:    err.Error(),
	}))
}

func (s *TenantService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, event)
}
