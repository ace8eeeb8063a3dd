package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// QuotaTx exposes the statements admission control runs while holding the
// tenant lock. All calls share one transaction.
type QuotaTx interface {
	OpenWindow(ctx context.Context, channelNumberID, userID string, kind domain.ConversationKind, now time.Time) (*domain.ConversationWindow, error)
	Counters(ctx context.Context, tenantID string) ([]domain.RunningQuotaCounter, error)
	ResetCounter(ctx context.Context, tenantID, channelNumberID string, now time.Time) error
	IncrementCounter(ctx context.Context, tenantID, channelNumberID string, now time.Time) (int, error)
	InsertWindow(ctx context.Context, window *domain.ConversationWindow) error
}

// WindowRepository persists conversation windows and quota counters.
type WindowRepository interface {
	// FindOpen returns the newest unexpired window or pgx.ErrNoRows.
	FindOpen(ctx context.Context, channelNumberID, userID string, kind domain.ConversationKind, now time.Time) (*domain.ConversationWindow, error)
	// WithTenantLock runs fn in a transaction serialized per tenant. The
	// transaction commits only when fn returns nil.
	WithTenantLock(ctx context.Context, tenantID string, fn func(QuotaTx) error) error
}

type windowRepository struct {
	pool *pgxpool.Pool
}

// NewWindowRepository instantiates repository.
func NewWindowRepository(pool *pgxpool.Pool) WindowRepository {
	return &windowRepository{pool: pool}
}

const findOpenWindowQuery = `
        SELECT id, channel_number_id, user_id, kind, expires_at, created_at
        FROM conversation_windows
        WHERE channel_number_id=$1 AND user_id=$2 AND kind=$3 AND expires_at > $4
        ORDER BY expires_at DESC
        LIMIT 1`

func (r *windowRepository) FindOpen(ctx context.Context, channelNumberID, userID string, kind domain.ConversationKind, now time.Time) (*domain.ConversationWindow, error) {
	return scanWindow(r.pool.QueryRow(ctx, findOpenWindowQuery, channelNumberID, userID, kind, now))
}

func scanWindow(row pgx.Row) (*domain.ConversationWindow, error) {
	var w domain.ConversationWindow
	if err := row.Scan(
		&w.ID,
		&w.ChannelNumberID,
		&w.UserID,
		&w.Kind,
		&w.ExpiresAt,
		&w.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *windowRepository) WithTenantLock(ctx context.Context, tenantID string, fn func(QuotaTx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin quota tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return fmt.Errorf("acquire tenant lock: %w", err)
	}
	if err = fn(&quotaTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit quota tx: %w", err)
	}
	return nil
}

type quotaTx struct {
	tx pgx.Tx
}

func (q *quotaTx) OpenWindow(ctx context.Context, channelNumberID, userID string, kind domain.ConversationKind, now time.Time) (*domain.ConversationWindow, error) {
	return scanWindow(q.tx.QueryRow(ctx, findOpenWindowQuery, channelNumberID, userID, kind, now))
}

func (q *quotaTx) Counters(ctx context.Context, tenantID string) ([]domain.RunningQuotaCounter, error) {
	const query = `
        SELECT tenant_id, channel_number_id, count, last_reset_time
        FROM running_quota_counters WHERE tenant_id=$1`
	rows, err := q.tx.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []domain.RunningQuotaCounter
	for rows.Next() {
		var c domain.RunningQuotaCounter
		if err := rows.Scan(&c.TenantID, &c.ChannelNumberID, &c.Count, &c.LastResetTime); err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

func (q *quotaTx) ResetCounter(ctx context.Context, tenantID, channelNumberID string, now time.Time) error {
	const query = `
        UPDATE running_quota_counters SET count=0, last_reset_time=$3
        WHERE tenant_id=$1 AND channel_number_id=$2`
	_, err := q.tx.Exec(ctx, query, tenantID, channelNumberID, now)
	return err
}

func (q *quotaTx) IncrementCounter(ctx context.Context, tenantID, channelNumberID string, now time.Time) (int, error) {
	const query = `
        INSERT INTO running_quota_counters (tenant_id, channel_number_id, count, last_reset_time)
        VALUES ($1,$2,1,$3)
        ON CONFLICT (tenant_id, channel_number_id) DO UPDATE SET count=running_quota_counters.count + 1
        RETURNING count`
	var count int
	err := q.tx.QueryRow(ctx, query, tenantID, channelNumberID, now).Scan(&count)
	return count, err
}

func (q *quotaTx) InsertWindow(ctx context.Context, w *domain.ConversationWindow) error {
	const query = `
        INSERT INTO conversation_windows (id, channel_number_id, user_id, kind, expires_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := q.tx.Exec(ctx, query, w.ID, w.ChannelNumberID, w.UserID, w.Kind, w.ExpiresAt, w.CreatedAt)
	return err
}
