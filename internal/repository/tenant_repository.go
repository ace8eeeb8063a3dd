package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// TenantMetadataRepository persists cached channel-number metadata.
type TenantMetadataRepository interface {
	GetByChannelNumberID(ctx context.Context, channelNumberID string) (*domain.TenantMetadata, error)
	Upsert(ctx context.Context, meta *domain.TenantMetadata) error
}

// TenantAccountRepository persists cached tenant account metadata.
type TenantAccountRepository interface {
	GetByTenantID(ctx context.Context, tenantID string) (*domain.TenantAccountMetadata, error)
	Upsert(ctx context.Context, account *domain.TenantAccountMetadata) error
}

type tenantMetadataRepository struct {
	pool *pgxpool.Pool
}

// NewTenantMetadataRepository instantiates repository.
func NewTenantMetadataRepository(pool *pgxpool.Pool) TenantMetadataRepository {
	return &tenantMetadataRepository{pool: pool}
}

func (r *tenantMetadataRepository) GetByChannelNumberID(ctx context.Context, channelNumberID string) (*domain.TenantMetadata, error) {
	const query = `
        SELECT channel_number_id, tenant_id, access_token, display_phone_number, business_name, tagline,
               subscription_end_date, disabled, last_refreshed_at, created_at
        FROM tenant_metadata WHERE channel_number_id=$1`
	var m domain.TenantMetadata
	if err := r.pool.QueryRow(ctx, query, channelNumberID).Scan(
		&m.ChannelNumberID,
		&m.TenantID,
		&m.AccessToken,
		&m.DisplayPhoneNumber,
		&m.BusinessName,
		&m.Tagline,
		&m.SubscriptionEndDate,
		&m.Disabled,
		&m.LastRefreshedAt,
		&m.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *tenantMetadataRepository) Upsert(ctx context.Context, m *domain.TenantMetadata) error {
	const query = `
        INSERT INTO tenant_metadata (channel_number_id, tenant_id, access_token, display_phone_number, business_name,
            tagline, subscription_end_date, disabled, last_refreshed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (channel_number_id) DO UPDATE SET
            tenant_id=EXCLUDED.tenant_id,
            access_token=EXCLUDED.access_token,
            display_phone_number=EXCLUDED.display_phone_number,
            business_name=EXCLUDED.business_name,
            tagline=EXCLUDED.tagline,
            subscription_end_date=EXCLUDED.subscription_end_date,
            disabled=EXCLUDED.disabled,
            last_refreshed_at=EXCLUDED.last_refreshed_at
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		m.ChannelNumberID,
		m.TenantID,
		m.AccessToken,
		m.DisplayPhoneNumber,
		m.BusinessName,
		m.Tagline,
		m.SubscriptionEndDate,
		m.Disabled,
		m.LastRefreshedAt,
	).Scan(&m.CreatedAt)
}

type tenantAccountRepository struct {
	pool *pgxpool.Pool
}

// NewTenantAccountRepository instantiates repository.
func NewTenantAccountRepository(pool *pgxpool.Pool) TenantAccountRepository {
	return &tenantAccountRepository{pool: pool}
}

func (r *tenantAccountRepository) GetByTenantID(ctx context.Context, tenantID string) (*domain.TenantAccountMetadata, error) {
	const query = `
        SELECT tenant_id, max_allowed_daily_conversations, disabled, subscription_end_date, last_refreshed_at, created_at
        FROM tenant_account_metadata WHERE tenant_id=$1`
	var a domain.TenantAccountMetadata
	if err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&a.TenantID,
		&a.MaxAllowedDailyConversations,
		&a.Disabled,
		&a.SubscriptionEndDate,
		&a.LastRefreshedAt,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *tenantAccountRepository) Upsert(ctx context.Context, a *domain.TenantAccountMetadata) error {
	const query = `
        INSERT INTO tenant_account_metadata (tenant_id, max_allowed_daily_conversations, disabled, subscription_end_date, last_refreshed_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (tenant_id) DO UPDATE SET
            max_allowed_daily_conversations=EXCLUDED.max_allowed_daily_conversations,
            disabled=EXCLUDED.disabled,
            subscription_end_date=EXCLUDED.subscription_end_date,
            last_refreshed_at=EXCLUDED.last_refreshed_at
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		a.TenantID,
		a.MaxAllowedDailyConversations,
		a.Disabled,
		a.SubscriptionEndDate,
		a.LastRefreshedAt,
	).Scan(&a.CreatedAt)
}
