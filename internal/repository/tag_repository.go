package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// TagRepository resolves kanban lanes and ticket lane membership.
type TagRepository interface {
	// ListLanes returns lanes with an idle timeout and a next lane
	// configured, across tenants.
	ListLanes(ctx context.Context) ([]domain.Tag, error)
	GetByID(ctx context.Context, companyID, id int64) (*domain.Tag, error)
	// ListLaneTickets returns tickets sitting in the lane whose last
	// activity precedes before.
	ListLaneTickets(ctx context.Context, tagID int64, before time.Time) ([]domain.Ticket, error)
	// MoveTicket swaps a ticket's lane membership.
	MoveTicket(ctx context.Context, ticketID, fromTagID, toTagID int64) error
}

type tagRepository struct {
	pool *pgxpool.Pool
}

// NewTagRepository instantiates repository.
func NewTagRepository(pool *pgxpool.Pool) TagRepository {
	return &tagRepository{pool: pool}
}

const tagColumns = `
        id, company_id, name, time_lane, next_lane_id, greeting_message_lane`

func (r *tagRepository) ListLanes(ctx context.Context) ([]domain.Tag, error) {
	query := `SELECT` + tagColumns + `
        FROM tags
        WHERE time_lane > 0 AND next_lane_id IS NOT NULL
        ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Tag
	for rows.Next() {
		var tag domain.Tag
		if err := scanTag(rows, &tag); err != nil {
			return nil, err
		}
		result = append(result, tag)
	}
	return result, rows.Err()
}

func (r *tagRepository) GetByID(ctx context.Context, companyID, id int64) (*domain.Tag, error) {
	query := `SELECT` + tagColumns + ` FROM tags WHERE id=$1 AND company_id=$2`
	var tag domain.Tag
	if err := scanTag(r.pool.QueryRow(ctx, query, id, companyID), &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

func (r *tagRepository) ListLaneTickets(ctx context.Context, tagID int64, before time.Time) ([]domain.Ticket, error) {
	query := `SELECT` + ticketColumns + `
        FROM tickets t
        JOIN ticket_tags tt ON tt.ticket_id = t.id
        WHERE tt.tag_id=$1 AND t.updated_at < $2
        ORDER BY t.updated_at ASC`
	rows, err := r.pool.Query(ctx, query, tagID, before)
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

func (r *tagRepository) MoveTicket(ctx context.Context, ticketID, fromTagID, toTagID int64) error {
	const query = `
        UPDATE ticket_tags SET tag_id=$1 WHERE ticket_id=$2 AND tag_id=$3`
	_, err := r.pool.Exec(ctx, query, toTagID, ticketID, fromTagID)
	return err
}

func scanTag(row rowScanner, tag *domain.Tag) error {
	return row.Scan(
		&tag.ID,
		&tag.CompanyID,
		&tag.Name,
		&tag.TimeLane,
		&tag.NextLaneID,
		&tag.GreetingMessageLane,
	)
}
