package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// QueueRepository resolves business routing queues.
type QueueRepository interface {
	GetByID(ctx context.Context, companyID, id int64) (*domain.Queue, error)
	ListByCompany(ctx context.Context, companyID int64) ([]domain.Queue, error)
}

type queueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository instantiates repository.
func NewQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &queueRepository{pool: pool}
}

func (r *queueRepository) GetByID(ctx context.Context, companyID, id int64) (*domain.Queue, error) {
	const query = `
        SELECT id, company_id, name, greeting_message, close_ticket
        FROM queues WHERE id=$1 AND company_id=$2`
	var queue domain.Queue
	err := r.pool.QueryRow(ctx, query, id, companyID).Scan(
		&queue.ID,
		&queue.CompanyID,
		&queue.Name,
		&queue.GreetingMessage,
		&queue.CloseTicket,
	)
	if err != nil {
		return nil, err
	}
	return &queue, nil
}

func (r *queueRepository) ListByCompany(ctx context.Context, companyID int64) ([]domain.Queue, error) {
	const query = `
        SELECT id, company_id, name, greeting_message, close_ticket
        FROM queues WHERE company_id=$1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Queue
	for rows.Next() {
		var queue domain.Queue
		if err := rows.Scan(
			&queue.ID,
			&queue.CompanyID,
			&queue.Name,
			&queue.GreetingMessage,
			&queue.CloseTicket,
		); err != nil {
			return nil, err
		}
		result = append(result, queue)
	}
	return result, rows.Err()
}
