package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// SettingsRepository loads per-tenant configuration. Missing rows resolve
// to the documented defaults, never an error.
type SettingsRepository interface {
	GetCompanySettings(ctx context.Context, companyID int64) (domain.CompanySettings, error)
	GetCampaignSettings(ctx context.Context, companyID int64) (domain.CampaignSettings, error)
}

type settingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository instantiates repository.
func NewSettingsRepository(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepository{pool: pool}
}

func (r *settingsRepository) GetCompanySettings(ctx context.Context, companyID int64) (domain.CompanySettings, error) {
	const query = `
        SELECT user_rating, send_farewell_waiting_ticket, close_ticket_on_transfer,
               send_transfer_message, transfer_message, send_greeting_message_one_queue,
               chatbot_type
        FROM company_settings WHERE company_id=$1`
	settings := domain.DefaultCompanySettings(companyID)
	err := r.pool.QueryRow(ctx, query, companyID).Scan(
		&settings.UserRating,
		&settings.SendFarewellWaitingTicket,
		&settings.CloseTicketOnTransfer,
		&settings.SendTransferMessage,
		&settings.TransferMessage,
		&settings.SendGreetingMessageOneQueue,
		&settings.ChatBotType,
	)
	if err == pgx.ErrNoRows {
		return domain.DefaultCompanySettings(companyID), nil
	}
	if err != nil {
		return domain.CompanySettings{}, err
	}
	return settings, nil
}

func (r *settingsRepository) GetCampaignSettings(ctx context.Context, companyID int64) (domain.CampaignSettings, error) {
	const query = `
        SELECT message_interval, longer_interval_after, greater_interval, variables,
               send_saturday, send_sunday, start_hour, end_hour
        FROM campaign_settings WHERE company_id=$1`
	settings := domain.DefaultCampaignSettings(companyID)
	var rawVariables []byte
	err := r.pool.QueryRow(ctx, query, companyID).Scan(
		&settings.MessageInterval,
		&settings.LongerIntervalAfter,
		&settings.GreaterInterval,
		&rawVariables,
		&settings.SendSaturday,
		&settings.SendSunday,
		&settings.StartHour,
		&settings.EndHour,
	)
	if err == pgx.ErrNoRows {
		return domain.DefaultCampaignSettings(companyID), nil
	}
	if err != nil {
		return domain.CampaignSettings{}, err
	}
	if len(rawVariables) > 0 {
		if err := json.Unmarshal(rawVariables, &settings.Variables); err != nil {
			return domain.CampaignSettings{}, err
		}
	}
	return settings, nil
}
