package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// TicketTrackingRepository persists per-ticket milestone records.
type TicketTrackingRepository interface {
	// FindOrCreate returns the ticket's open tracking record, creating one
	// when the ticket has none yet.
	FindOrCreate(ctx context.Context, ticketID, companyID int64) (*domain.TicketTracking, error)
	Update(ctx context.Context, tracking *domain.TicketTracking) error
}

type trackingRepository struct {
	pool *pgxpool.Pool
}

// NewTicketTrackingRepository instantiates repository.
func NewTicketTrackingRepository(pool *pgxpool.Pool) TicketTrackingRepository {
	return &trackingRepository{pool: pool}
}

const trackingColumns = `
        id, ticket_id, company_id, channel_id, user_id, queue_id,
        queued_at, started_at, rating_at, rated, chatbot_at,
        closed_at, finished_at, created_at, updated_at`

func (r *trackingRepository) FindOrCreate(ctx context.Context, ticketID, companyID int64) (*domain.TicketTracking, error) {
	query := `SELECT` + trackingColumns + `
        FROM ticket_trackings
        WHERE ticket_id=$1 AND company_id=$2 AND finished_at IS NULL
        ORDER BY id DESC LIMIT 1`
	tracking, err := r.fetchSingle(ctx, query, ticketID, companyID)
	if err == nil {
		return tracking, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}

	const insert = `
        INSERT INTO ticket_trackings (ticket_id, company_id)
        VALUES ($1,$2)
        RETURNING id, created_at, updated_at`
	created := &domain.TicketTracking{TicketID: ticketID, CompanyID: companyID}
	if err := r.pool.QueryRow(ctx, insert, ticketID, companyID).Scan(
		&created.ID, &created.CreatedAt, &created.UpdatedAt); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *trackingRepository) Update(ctx context.Context, tracking *domain.TicketTracking) error {
	const query = `
        UPDATE ticket_trackings SET channel_id=$1, user_id=$2, queue_id=$3,
            queued_at=$4, started_at=$5, rating_at=$6, rated=$7, chatbot_at=$8,
            closed_at=$9, finished_at=$10, updated_at=NOW()
        WHERE id=$11`
	cmd, err := r.pool.Exec(ctx, query,
		tracking.ChannelID,
		tracking.UserID,
		tracking.QueueID,
		tracking.QueuedAt,
		tracking.StartedAt,
		tracking.RatingAt,
		tracking.Rated,
		tracking.ChatbotAt,
		tracking.ClosedAt,
		tracking.FinishedAt,
		tracking.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *trackingRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.TicketTracking, error) {
	var t domain.TicketTracking
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&t.ID,
		&t.TicketID,
		&t.CompanyID,
		&t.ChannelID,
		&t.UserID,
		&t.QueueID,
		&t.QueuedAt,
		&t.StartedAt,
		&t.RatingAt,
		&t.Rated,
		&t.ChatbotAt,
		&t.ClosedAt,
		&t.FinishedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
