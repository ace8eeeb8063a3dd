package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// SentMessageRepository appends records of accepted outbound messages.
type SentMessageRepository interface {
	Create(ctx context.Context, record *domain.SentMessageRecord) error
}

type sentMessageRepository struct {
	pool *pgxpool.Pool
}

// NewSentMessageRepository instantiates repository.
func NewSentMessageRepository(pool *pgxpool.Pool) SentMessageRepository {
	return &sentMessageRepository{pool: pool}
}

func (r *sentMessageRepository) Create(ctx context.Context, rec *domain.SentMessageRecord) error {
	const query = `
        INSERT INTO sent_messages (external_id, conversation_window_id, channel_number_id, user_id, status, payload)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		rec.ExternalID,
		rec.ConversationWindowID,
		rec.ChannelNumberID,
		rec.UserID,
		rec.Status,
		rec.Payload,
	).Scan(&rec.CreatedAt)
}
