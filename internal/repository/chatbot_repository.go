package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// ChatbotRepository resolves menu trees and dialog stages.
type ChatbotRepository interface {
	// GetNode loads one node with its direct child options attached.
	GetNode(ctx context.Context, companyID, id int64) (*domain.ChatbotNode, error)
	// ListRootOptions returns the top-level menu of a queue, children
	// attached one level deep.
	ListRootOptions(ctx context.Context, companyID, queueID int64) ([]domain.ChatbotNode, error)

	FindStage(ctx context.Context, companyID, contactID int64) (*domain.DialogStage, error)
	UpsertStage(ctx context.Context, stage *domain.DialogStage) error
	DeleteStage(ctx context.Context, companyID, contactID int64) error

	// ListFileItems returns the attachments of a file leaf.
	ListFileItems(ctx context.Context, fileListID int64) ([]domain.FileItem, error)
}

type chatbotRepository struct {
	pool *pgxpool.Pool
}

// NewChatbotRepository instantiates repository.
func NewChatbotRepository(pool *pgxpool.Pool) ChatbotRepository {
	return &chatbotRepository{pool: pool}
}

const chatbotColumns = `
        id, company_id, queue_id, parent_id, name, kind, greeting_message,
        target_queue_id, target_user_id, integration_id, file_list_id, close_ticket`

func (r *chatbotRepository) GetNode(ctx context.Context, companyID, id int64) (*domain.ChatbotNode, error) {
	query := `SELECT` + chatbotColumns + ` FROM chatbots WHERE id=$1 AND company_id=$2`
	var node domain.ChatbotNode
	if err := scanChatbot(r.pool.QueryRow(ctx, query, id, companyID), &node); err != nil {
		return nil, err
	}
	options, err := r.listChildren(ctx, companyID, node.ID)
	if err != nil {
		return nil, err
	}
	node.Options = options
	return &node, nil
}

func (r *chatbotRepository) ListRootOptions(ctx context.Context, companyID, queueID int64) ([]domain.ChatbotNode, error) {
	query := `SELECT` + chatbotColumns + `
        FROM chatbots
        WHERE company_id=$1 AND queue_id=$2 AND parent_id IS NULL
        ORDER BY id ASC`
	roots, err := r.fetchMany(ctx, query, companyID, queueID)
	if err != nil {
		return nil, err
	}
	for i := range roots {
		children, err := r.listChildren(ctx, companyID, roots[i].ID)
		if err != nil {
			return nil, err
		}
		roots[i].Options = children
	}
	return roots, nil
}

func (r *chatbotRepository) listChildren(ctx context.Context, companyID, parentID int64) ([]domain.ChatbotNode, error) {
	query := `SELECT` + chatbotColumns + `
        FROM chatbots
        WHERE company_id=$1 AND parent_id=$2
        ORDER BY id ASC`
	return r.fetchMany(ctx, query, companyID, parentID)
}

func (r *chatbotRepository) FindStage(ctx context.Context, companyID, contactID int64) (*domain.DialogStage, error) {
	const query = `
        SELECT id, company_id, contact_id, chatbot_id, queue_id, awaiting, created_at, updated_at
        FROM dialog_stages
        WHERE company_id=$1 AND contact_id=$2`
	var stage domain.DialogStage
	err := r.pool.QueryRow(ctx, query, companyID, contactID).Scan(
		&stage.ID,
		&stage.CompanyID,
		&stage.ContactID,
		&stage.ChatbotID,
		&stage.QueueID,
		&stage.Awaiting,
		&stage.CreatedAt,
		&stage.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

func (r *chatbotRepository) UpsertStage(ctx context.Context, stage *domain.DialogStage) error {
	const query = `
        INSERT INTO dialog_stages (company_id, contact_id, chatbot_id, queue_id, awaiting)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (company_id, contact_id)
        DO UPDATE SET chatbot_id=EXCLUDED.chatbot_id, queue_id=EXCLUDED.queue_id,
            awaiting=EXCLUDED.awaiting, updated_at=NOW()
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		stage.CompanyID,
		stage.ContactID,
		stage.ChatbotID,
		stage.QueueID,
		stage.Awaiting,
	).Scan(&stage.ID, &stage.CreatedAt, &stage.UpdatedAt)
}

func (r *chatbotRepository) DeleteStage(ctx context.Context, companyID, contactID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM dialog_stages WHERE company_id=$1 AND contact_id=$2`,
		companyID, contactID)
	return err
}

func (r *chatbotRepository) ListFileItems(ctx context.Context, fileListID int64) ([]domain.FileItem, error) {
	const query = `
        SELECT id, file_list_id, name, path, media_type
        FROM file_items WHERE file_list_id=$1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, fileListID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.FileItem
	for rows.Next() {
		var item domain.FileItem
		if err := rows.Scan(
			&item.ID,
			&item.FileListID,
			&item.Name,
			&item.Path,
			&item.MediaType,
		); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (r *chatbotRepository) fetchMany(ctx context.Context, query string, args ...any) ([]domain.ChatbotNode, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatbotNode
	for rows.Next() {
		var node domain.ChatbotNode
		if err := scanChatbot(rows, &node); err != nil {
			return nil, err
		}
		result = append(result, node)
	}
	return result, rows.Err()
}

func scanChatbot(row rowScanner, node *domain.ChatbotNode) error {
	return row.Scan(
		&node.ID,
		&node.CompanyID,
		&node.QueueID,
		&node.ParentID,
		&node.Name,
		&node.Kind,
		&node.GreetingMessage,
		&node.TargetQueueID,
		&node.TargetUserID,
		&node.IntegrationID,
		&node.FileListID,
		&node.CloseTicket,
	)
}
