package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// CampaignShippingRepository tracks per-contact campaign deliveries. The
// conditional updates are what make dispatch idempotent: a shipping row
// already marked requested or delivered is never re-dispatched.
type CampaignShippingRepository interface {
	// FindOrCreate returns the shipping row for a campaign contact,
	// creating it with the rendered messages when absent.
	FindOrCreate(ctx context.Context, shipping *domain.CampaignShipping) (*domain.CampaignShipping, bool, error)
	GetByID(ctx context.Context, id int64) (*domain.CampaignShipping, error)
	SetJobID(ctx context.Context, id int64, jobID string) error
	// MarkConfirmationRequested stamps the confirmation request; false
	// means it was already stamped.
	MarkConfirmationRequested(ctx context.Context, id int64, at time.Time) (bool, error)
	// MarkDelivered stamps delivery; false means the row was already
	// delivered.
	MarkDelivered(ctx context.Context, id int64, at time.Time) (bool, error)
	Confirm(ctx context.Context, id int64, at time.Time) error
	// CountDelivered reports how many of the campaign's shippings have
	// completed delivery.
	CountDelivered(ctx context.Context, campaignID int64) (int64, error)
}

type campaignShippingRepository struct {
	pool *pgxpool.Pool
}

// NewCampaignShippingRepository instantiates repository.
func NewCampaignShippingRepository(pool *pgxpool.Pool) CampaignShippingRepository {
	return &campaignShippingRepository{pool: pool}
}

const shippingColumns = `
        id, campaign_id, contact_id, number, message, confirmation_message,
        confirmation, confirmation_requested_at, confirmed_at, delivered_at,
        job_id, created_at, updated_at`

func (r *campaignShippingRepository) FindOrCreate(ctx context.Context, shipping *domain.CampaignShipping) (*domain.CampaignShipping, bool, error) {
	query := `SELECT` + shippingColumns + `
        FROM campaign_shippings WHERE campaign_id=$1 AND contact_id=$2`
	existing := &domain.CampaignShipping{}
	err := scanShipping(r.pool.QueryRow(ctx, query, shipping.CampaignID, shipping.ContactID), existing)
	if err == nil {
		return existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	const insert = `
        INSERT INTO campaign_shippings (campaign_id, contact_id, number, message, confirmation_message)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
        RETURNING id, created_at, updated_at`
	err = r.pool.QueryRow(ctx, insert,
		shipping.CampaignID,
		shipping.ContactID,
		shipping.Number,
		shipping.Message,
		shipping.ConfirmationMessage,
	).Scan(&shipping.ID, &shipping.CreatedAt, &shipping.UpdatedAt)
	if err == pgx.ErrNoRows {
		winner := &domain.CampaignShipping{}
		if ferr := scanShipping(r.pool.QueryRow(ctx, query, shipping.CampaignID, shipping.ContactID), winner); ferr != nil {
			return nil, false, ferr
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return shipping, true, nil
}

func (r *campaignShippingRepository) GetByID(ctx context.Context, id int64) (*domain.CampaignShipping, error) {
	query := `SELECT` + shippingColumns + ` FROM campaign_shippings WHERE id=$1`
	var shipping domain.CampaignShipping
	if err := scanShipping(r.pool.QueryRow(ctx, query, id), &shipping); err != nil {
		return nil, err
	}
	return &shipping, nil
}

func (r *campaignShippingRepository) SetJobID(ctx context.Context, id int64, jobID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE campaign_shippings SET job_id=$1, updated_at=NOW() WHERE id=$2`,
		jobID, id)
	return err
}

func (r *campaignShippingRepository) MarkConfirmationRequested(ctx context.Context, id int64, at time.Time) (bool, error) {
	const query = `
        UPDATE campaign_shippings SET confirmation_requested_at=$1, updated_at=NOW()
        WHERE id=$2 AND confirmation_requested_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *campaignShippingRepository) MarkDelivered(ctx context.Context, id int64, at time.Time) (bool, error) {
	const query = `
        UPDATE campaign_shippings SET delivered_at=$1, updated_at=NOW()
        WHERE id=$2 AND delivered_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *campaignShippingRepository) Confirm(ctx context.Context, id int64, at time.Time) error {
	const query = `
        UPDATE campaign_shippings SET confirmation=TRUE, confirmed_at=$1, updated_at=NOW()
        WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, at, id)
	return err
}

func (r *campaignShippingRepository) CountDelivered(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM campaign_shippings WHERE campaign_id=$1 AND delivered_at IS NOT NULL`,
		campaignID).Scan(&count)
	return count, err
}

func scanShipping(row rowScanner, s *domain.CampaignShipping) error {
	return row.Scan(
		&s.ID,
		&s.CampaignID,
		&s.ContactID,
		&s.Number,
		&s.Message,
		&s.ConfirmationMessage,
		&s.Confirmation,
		&s.ConfirmationRequestedAt,
		&s.ConfirmedAt,
		&s.DeliveredAt,
		&s.JobID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}
