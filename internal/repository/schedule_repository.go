package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// ScheduleRepository persists user-authored future sends.
type ScheduleRepository interface {
	GetByID(ctx context.Context, companyID, id int64) (*domain.Schedule, error)
	// ListDueWithin returns schedules in the given status whose send time
	// falls at or before the horizon.
	ListDueWithin(ctx context.Context, status domain.ScheduleStatus, horizon time.Time) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
	// TransitionStatus flips a schedule from one status to another; false
	// means the schedule was no longer in the expected status.
	TransitionStatus(ctx context.Context, id int64, from, to domain.ScheduleStatus) (bool, error)
}

type scheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository instantiates repository.
func NewScheduleRepository(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepository{pool: pool}
}

const scheduleColumns = `
        id, company_id, contact_id, channel_id, queue_id, user_id, ticket_user_id,
        body, media_path, media_name, send_at, sent_at, status,
        interval_value, interval_unit, repeat_count, send_counter,
        business_day_policy, signed, open_ticket, ticket_status, created_at, updated_at`

func (r *scheduleRepository) GetByID(ctx context.Context, companyID, id int64) (*domain.Schedule, error) {
	query := `SELECT` + scheduleColumns + ` FROM schedules WHERE id=$1 AND company_id=$2`
	var schedule domain.Schedule
	if err := scanSchedule(r.pool.QueryRow(ctx, query, id, companyID), &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *scheduleRepository) ListDueWithin(ctx context.Context, status domain.ScheduleStatus, horizon time.Time) ([]domain.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
        FROM schedules
        WHERE status=$1 AND send_at <= $2
        ORDER BY send_at ASC`
	rows, err := r.pool.Query(ctx, query, status, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Schedule
	for rows.Next() {
		var schedule domain.Schedule
		if err := scanSchedule(rows, &schedule); err != nil {
			return nil, err
		}
		result = append(result, schedule)
	}
	return result, rows.Err()
}

func (r *scheduleRepository) Update(ctx context.Context, schedule *domain.Schedule) error {
	const query = `
        UPDATE schedules SET send_at=$1, sent_at=$2, status=$3, send_counter=$4,
            repeat_count=$5, updated_at=NOW()
        WHERE id=$6 AND company_id=$7`
	cmd, err := r.pool.Exec(ctx, query,
		schedule.SendAt,
		schedule.SentAt,
		schedule.Status,
		schedule.SendCounter,
		schedule.RepeatCount,
		schedule.ID,
		schedule.CompanyID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *scheduleRepository) TransitionStatus(ctx context.Context, id int64, from, to domain.ScheduleStatus) (bool, error) {
	const query = `
        UPDATE schedules SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3`
	cmd, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func scanSchedule(row rowScanner, s *domain.Schedule) error {
	return row.Scan(
		&s.ID,
		&s.CompanyID,
		&s.ContactID,
		&s.ChannelID,
		&s.QueueID,
		&s.UserID,
		&s.TicketUserID,
		&s.Body,
		&s.MediaPath,
		&s.MediaName,
		&s.SendAt,
		&s.SentAt,
		&s.Status,
		&s.IntervalValue,
		&s.IntervalUnit,
		&s.RepeatCount,
		&s.SendCounter,
		&s.BusinessDayPolicy,
		&s.Signed,
		&s.OpenTicket,
		&s.TicketStatus,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}
