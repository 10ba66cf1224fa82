package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// CampaignRepository persists bulk-send campaigns.
type CampaignRepository interface {
	GetByID(ctx context.Context, companyID, id int64) (*domain.Campaign, error)
	// ListScheduledWithin returns PROGRAMADA campaigns starting at or
	// before the horizon.
	ListScheduledWithin(ctx context.Context, horizon time.Time) ([]domain.Campaign, error)
	SetStatus(ctx context.Context, id int64, status domain.CampaignStatus, completedAt *time.Time) error
}

type campaignRepository struct {
	pool *pgxpool.Pool
}

// NewCampaignRepository instantiates repository.
func NewCampaignRepository(pool *pgxpool.Pool) CampaignRepository {
	return &campaignRepository{pool: pool}
}

const campaignColumns = `
        id, company_id, name,
        message1, message2, message3, message4, message5,
        confirmation_message1, confirmation_message2, confirmation_message3,
        confirmation_message4, confirmation_message5,
        confirmation, contact_list_id, channel_id, scheduled_at, completed_at,
        status, open_ticket, queue_id, user_id, ticket_status, media_path, media_name`

func (r *campaignRepository) GetByID(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	query := `SELECT` + campaignColumns + ` FROM campaigns WHERE id=$1 AND company_id=$2`
	var campaign domain.Campaign
	if err := scanCampaign(r.pool.QueryRow(ctx, query, id, companyID), &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepository) ListScheduledWithin(ctx context.Context, horizon time.Time) ([]domain.Campaign, error) {
	query := `SELECT` + campaignColumns + `
        FROM campaigns
        WHERE status='PROGRAMADA' AND scheduled_at <= $1
        ORDER BY scheduled_at ASC`
	rows, err := r.pool.Query(ctx, query, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Campaign
	for rows.Next() {
		var campaign domain.Campaign
		if err := scanCampaign(rows, &campaign); err != nil {
			return nil, err
		}
		result = append(result, campaign)
	}
	return result, rows.Err()
}

func (r *campaignRepository) SetStatus(ctx context.Context, id int64, status domain.CampaignStatus, completedAt *time.Time) error {
	const query = `
        UPDATE campaigns SET status=$1, completed_at=$2 WHERE id=$3`
	cmd, err := r.pool.Exec(ctx, query, status, completedAt, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanCampaign(row rowScanner, c *domain.Campaign) error {
	return row.Scan(
		&c.ID,
		&c.CompanyID,
		&c.Name,
		&c.Message1,
		&c.Message2,
		&c.Message3,
		&c.Message4,
		&c.Message5,
		&c.ConfirmationMessage1,
		&c.ConfirmationMessage2,
		&c.ConfirmationMessage3,
		&c.ConfirmationMessage4,
		&c.ConfirmationMessage5,
		&c.Confirmation,
		&c.ContactListID,
		&c.ChannelID,
		&c.ScheduledAt,
		&c.CompletedAt,
		&c.Status,
		&c.OpenTicket,
		&c.QueueID,
		&c.UserID,
		&c.TicketStatus,
		&c.MediaPath,
		&c.MediaName,
	)
}
