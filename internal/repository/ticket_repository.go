package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

const ticketColumns = `
        id, company_id, contact_id, channel_id, queue_id, user_id, status,
        is_bot, is_group, integration_id, use_integration, amount_used_bot_queues,
        last_message, unread_messages, typebot_session_id, typebot_status,
        last_flow_id, data_webhook, hash_flow_id, imported_at, created_at, updated_at`

// TicketRepository encapsulates ticket persistence. All lookups are scoped
// to a company.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, companyID, id int64) (*domain.Ticket, error)
	// FindActiveByContact returns the contact's single active ticket on a
	// channel, or nil when none exists.
	FindActiveByContact(ctx context.Context, companyID, contactID, channelID int64) (*domain.Ticket, error)
	// FindOrCreate returns the contact's active ticket, creating one when
	// none exists. The partial unique index on active tickets makes the
	// create race-safe; a concurrent insert surfaces as the existing row.
	FindOrCreate(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, bool, error)
	// ListPendingWithoutQueue lists pending unassigned tickets on a channel
	// idle since before.
	ListPendingWithoutQueue(ctx context.Context, channelID int64, before time.Time) ([]domain.Ticket, error)
	// ListActiveIdleSince lists open or pending tickets on a channel whose
	// last update precedes before.
	ListActiveIdleSince(ctx context.Context, channelID int64, before time.Time) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (company_id, contact_id, channel_id, queue_id, user_id, status,
            is_bot, is_group, integration_id, use_integration, amount_used_bot_queues,
            last_message, unread_messages, typebot_session_id, typebot_status,
            last_flow_id, data_webhook, hash_flow_id, imported_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.CompanyID,
		ticket.ContactID,
		ticket.ChannelID,
		ticket.QueueID,
		ticket.UserID,
		ticket.Status,
		ticket.IsBot,
		ticket.IsGroup,
		ticket.IntegrationID,
		ticket.UseIntegration,
		ticket.AmountUsedBotQueues,
		ticket.LastMessage,
		ticket.UnreadMessages,
		ticket.TypebotSessionID,
		ticket.TypebotStatus,
		ticket.LastFlowID,
		ticket.DataWebhook,
		ticket.HashFlowID,
		ticket.ImportedAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET queue_id=$1, user_id=$2, status=$3, is_bot=$4,
            integration_id=$5, use_integration=$6, amount_used_bot_queues=$7,
            last_message=$8, unread_messages=$9, typebot_session_id=$10, typebot_status=$11,
            last_flow_id=$12, data_webhook=$13, hash_flow_id=$14, updated_at=NOW()
        WHERE id=$15 AND company_id=$16`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.QueueID,
		ticket.UserID,
		ticket.Status,
		ticket.IsBot,
		ticket.IntegrationID,
		ticket.UseIntegration,
		ticket.AmountUsedBotQueues,
		ticket.LastMessage,
		ticket.UnreadMessages,
		ticket.TypebotSessionID,
		ticket.TypebotStatus,
		ticket.LastFlowID,
		ticket.DataWebhook,
		ticket.HashFlowID,
		ticket.ID,
		ticket.CompanyID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, companyID, id int64) (*domain.Ticket, error) {
	query := `SELECT` + ticketColumns + ` FROM tickets WHERE id=$1 AND company_id=$2`
	return r.fetchSingle(ctx, query, id, companyID)
}

func (r *ticketRepository) FindActiveByContact(ctx context.Context, companyID, contactID, channelID int64) (*domain.Ticket, error) {
	query := `SELECT` + ticketColumns + `
        FROM tickets
        WHERE company_id=$1 AND contact_id=$2 AND channel_id=$3
          AND status IN ('open','pending','group')`
	ticket, err := r.fetchSingle(ctx, query, companyID, contactID, channelID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return ticket, err
}

func (r *ticketRepository) FindOrCreate(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, bool, error) {
	existing, err := r.FindActiveByContact(ctx, ticket.CompanyID, ticket.ContactID, ticket.ChannelID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	const query = `
        INSERT INTO tickets (company_id, contact_id, channel_id, queue_id, user_id, status,
            is_bot, is_group, last_message, unread_messages)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT DO NOTHING
        RETURNING id, created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		ticket.CompanyID,
		ticket.ContactID,
		ticket.ChannelID,
		ticket.QueueID,
		ticket.UserID,
		ticket.Status,
		ticket.IsBot,
		ticket.IsGroup,
		ticket.LastMessage,
		ticket.UnreadMessages,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
	if err == pgx.ErrNoRows {
		// Lost the race; the winner's row is the active ticket.
		winner, ferr := r.FindActiveByContact(ctx, ticket.CompanyID, ticket.ContactID, ticket.ChannelID)
		if ferr != nil {
			return nil, false, ferr
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ticket, true, nil
}

func (r *ticketRepository) ListPendingWithoutQueue(ctx context.Context, channelID int64, before time.Time) ([]domain.Ticket, error) {
	query := `SELECT` + ticketColumns + `
        FROM tickets
        WHERE channel_id=$1 AND status='pending' AND queue_id IS NULL AND updated_at < $2
        ORDER BY updated_at ASC`
	return r.fetchMany(ctx, query, channelID, before)
}

func (r *ticketRepository) ListActiveIdleSince(ctx context.Context, channelID int64, before time.Time) ([]domain.Ticket, error) {
	query := `SELECT` + ticketColumns + `
        FROM tickets
        WHERE channel_id=$1 AND status IN ('open','pending') AND updated_at < $2
        ORDER BY updated_at ASC`
	return r.fetchMany(ctx, query, channelID, before)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := scanTicket(r.pool.QueryRow(ctx, query, args...), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) fetchMany(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.CompanyID,
		&ticket.ContactID,
		&ticket.ChannelID,
		&ticket.QueueID,
		&ticket.UserID,
		&ticket.Status,
		&ticket.IsBot,
		&ticket.IsGroup,
		&ticket.IntegrationID,
		&ticket.UseIntegration,
		&ticket.AmountUsedBotQueues,
		&ticket.LastMessage,
		&ticket.UnreadMessages,
		&ticket.TypebotSessionID,
		&ticket.TypebotStatus,
		&ticket.LastFlowID,
		&ticket.DataWebhook,
		&ticket.HashFlowID,
		&ticket.ImportedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
}
