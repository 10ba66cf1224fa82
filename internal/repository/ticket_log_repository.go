package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// TicketLogRepository appends immutable lifecycle audit entries.
type TicketLogRepository interface {
	Create(ctx context.Context, log *domain.TicketLog) error
	ListByTicket(ctx context.Context, companyID, ticketID int64) ([]domain.TicketLog, error)
}

type ticketLogRepository struct {
	pool *pgxpool.Pool
}

// NewTicketLogRepository instantiates repository.
func NewTicketLogRepository(pool *pgxpool.Pool) TicketLogRepository {
	return &ticketLogRepository{pool: pool}
}

func (r *ticketLogRepository) Create(ctx context.Context, log *domain.TicketLog) error {
	const query = `
        INSERT INTO ticket_logs (ticket_id, company_id, user_id, queue_id, type)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		log.TicketID,
		log.CompanyID,
		log.UserID,
		log.QueueID,
		log.Type,
	).Scan(&log.ID, &log.CreatedAt)
}

func (r *ticketLogRepository) ListByTicket(ctx context.Context, companyID, ticketID int64) ([]domain.TicketLog, error) {
	const query = `
        SELECT id, ticket_id, company_id, user_id, queue_id, type, created_at
        FROM ticket_logs
        WHERE company_id=$1 AND ticket_id=$2
        ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, companyID, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketLog
	for rows.Next() {
		var log domain.TicketLog
		if err := rows.Scan(
			&log.ID,
			&log.TicketID,
			&log.CompanyID,
			&log.UserID,
			&log.QueueID,
			&log.Type,
			&log.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, log)
	}
	return result, rows.Err()
}
