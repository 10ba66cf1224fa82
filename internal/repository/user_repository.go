package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// UserRepository resolves agents and maintains their presence flag.
type UserRepository interface {
	GetByID(ctx context.Context, companyID, id int64) (*domain.User, error)
	// MarkOfflineIdleSince flips Online off for users whose last heartbeat
	// precedes before, returning how many were swept.
	MarkOfflineIdleSince(ctx context.Context, before time.Time) (int64, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository instantiates repository.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) GetByID(ctx context.Context, companyID, id int64) (*domain.User, error) {
	const query = `
        SELECT id, company_id, name, profile, online, farewell_message, updated_at
        FROM users WHERE id=$1 AND company_id=$2`
	var user domain.User
	err := r.pool.QueryRow(ctx, query, id, companyID).Scan(
		&user.ID,
		&user.CompanyID,
		&user.Name,
		&user.Profile,
		&user.Online,
		&user.FarewellMessage,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) MarkOfflineIdleSince(ctx context.Context, before time.Time) (int64, error) {
	const query = `
        UPDATE users SET online=FALSE
        WHERE online=TRUE AND updated_at < $1`
	cmd, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
