package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// ChannelRepository resolves chat-channel connections.
type ChannelRepository interface {
	GetByID(ctx context.Context, companyID, id int64) (*domain.Channel, error)
	GetDefault(ctx context.Context, companyID int64) (*domain.Channel, error)
	// ListWithPendingTimeout returns connected channels, across tenants,
	// that redirect stale queueless tickets.
	ListWithPendingTimeout(ctx context.Context) ([]domain.Channel, error)
	// ListWithExpiry returns connected channels, across tenants, with
	// inactivity auto-close configured.
	ListWithExpiry(ctx context.Context) ([]domain.Channel, error)
}

type channelRepository struct {
	pool *pgxpool.Pool
}

// NewChannelRepository instantiates repository.
func NewChannelRepository(pool *pgxpool.Pool) ChannelRepository {
	return &channelRepository{pool: pool}
}

const channelColumns = `
        id, company_id, name, status, is_default, greeting_message, farewell_message,
        rating_message, time_send_queue, move_queue_id, expires_ticket, expires_message,
        group_as_ticket, created_at, updated_at`

func (r *channelRepository) GetByID(ctx context.Context, companyID, id int64) (*domain.Channel, error) {
	query := `SELECT` + channelColumns + ` FROM channels WHERE id=$1 AND company_id=$2`
	return r.fetchSingle(ctx, query, id, companyID)
}

func (r *channelRepository) GetDefault(ctx context.Context, companyID int64) (*domain.Channel, error) {
	query := `SELECT` + channelColumns + `
        FROM channels WHERE company_id=$1 AND is_default=TRUE
        ORDER BY id ASC LIMIT 1`
	channel, err := r.fetchSingle(ctx, query, companyID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return channel, err
}

func (r *channelRepository) ListWithPendingTimeout(ctx context.Context) ([]domain.Channel, error) {
	query := `SELECT` + channelColumns + `
        FROM channels
        WHERE status='CONNECTED' AND time_send_queue > 0 AND move_queue_id IS NOT NULL`
	return r.fetchMany(ctx, query)
}

func (r *channelRepository) ListWithExpiry(ctx context.Context) ([]domain.Channel, error) {
	query := `SELECT` + channelColumns + `
        FROM channels
        WHERE status='CONNECTED' AND expires_ticket > 0`
	return r.fetchMany(ctx, query)
}

func (r *channelRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Channel, error) {
	var channel domain.Channel
	if err := scanChannel(r.pool.QueryRow(ctx, query, args...), &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *channelRepository) fetchMany(ctx context.Context, query string, args ...any) ([]domain.Channel, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Channel
	for rows.Next() {
		var channel domain.Channel
		if err := scanChannel(rows, &channel); err != nil {
			return nil, err
		}
		result = append(result, channel)
	}
	return result, rows.Err()
}

func scanChannel(row rowScanner, channel *domain.Channel) error {
	return row.Scan(
		&channel.ID,
		&channel.CompanyID,
		&channel.Name,
		&channel.Status,
		&channel.IsDefault,
		&channel.GreetingMessage,
		&channel.FarewellMessage,
		&channel.RatingMessage,
		&channel.TimeSendQueue,
		&channel.MoveQueueID,
		&channel.ExpiresTicket,
		&channel.ExpiresMessage,
		&channel.GroupAsTicket,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)
}
