package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// ContactRepository resolves contacts and campaign recipient lists.
type ContactRepository interface {
	GetByID(ctx context.Context, companyID, id int64) (*domain.Contact, error)
	FindByNumber(ctx context.Context, companyID int64, number string) (*domain.Contact, error)
	Create(ctx context.Context, contact *domain.Contact) error
	// ListValidItems returns campaign recipients with a verified channel
	// address.
	ListValidItems(ctx context.Context, companyID, contactListID int64) ([]domain.ContactListItem, error)
}

type contactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository instantiates repository.
func NewContactRepository(pool *pgxpool.Pool) ContactRepository {
	return &contactRepository{pool: pool}
}

const contactColumns = `
        id, company_id, name, number, email, is_group, disable_bot, created_at, updated_at`

func (r *contactRepository) GetByID(ctx context.Context, companyID, id int64) (*domain.Contact, error) {
	query := `SELECT` + contactColumns + ` FROM contacts WHERE id=$1 AND company_id=$2`
	return r.fetchSingle(ctx, query, id, companyID)
}

func (r *contactRepository) FindByNumber(ctx context.Context, companyID int64, number string) (*domain.Contact, error) {
	query := `SELECT` + contactColumns + ` FROM contacts WHERE company_id=$1 AND number=$2`
	contact, err := r.fetchSingle(ctx, query, companyID, number)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return contact, err
}

func (r *contactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	const query = `
        INSERT INTO contacts (company_id, name, number, email, is_group, disable_bot)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		contact.CompanyID,
		contact.Name,
		contact.Number,
		contact.Email,
		contact.IsGroup,
		contact.DisableBot,
	).Scan(&contact.ID, &contact.CreatedAt, &contact.UpdatedAt)
}

func (r *contactRepository) ListValidItems(ctx context.Context, companyID, contactListID int64) ([]domain.ContactListItem, error) {
	const query = `
        SELECT id, contact_list_id, company_id, name, number, email, is_valid, is_group
        FROM contact_list_items
        WHERE company_id=$1 AND contact_list_id=$2 AND is_valid=TRUE
        ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, companyID, contactListID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ContactListItem
	for rows.Next() {
		var item domain.ContactListItem
		if err := rows.Scan(
			&item.ID,
			&item.ContactListID,
			&item.CompanyID,
			&item.Name,
			&item.Number,
			&item.Email,
			&item.IsValid,
			&item.IsGroup,
		); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (r *contactRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Contact, error) {
	var contact domain.Contact
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&contact.ID,
		&contact.CompanyID,
		&contact.Name,
		&contact.Number,
		&contact.Email,
		&contact.IsGroup,
		&contact.DisableBot,
		&contact.CreatedAt,
		&contact.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &contact, nil
}
