package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"travel-task-engine/internal/model"
)

// TemplateRepository handles the task template catalog. The catalog is
// read-mostly: admins create and publish templates, the spawner only reads.
type TemplateRepository struct{}

// NewTemplateRepository creates a new TemplateRepository instance.
func NewTemplateRepository() *TemplateRepository {
	return &TemplateRepository{}
}

const templateColumns = `id, hotel_name, country, city, task_code, price_cents, commission_cents,
	score, label, is_admin_task, status, created_by, created_at, updated_at`

func scanTemplate(row pgx.Row) (*model.TaskTemplate, error) {
	var t model.TaskTemplate
	err := row.Scan(
		&t.ID,
		&t.HotelName,
		&t.Country,
		&t.City,
		&t.TaskCode,
		&t.PriceCents,
		&t.CommissionCents,
		&t.Score,
		&t.Label,
		&t.IsAdminTask,
		&t.Status,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to scan task template: %w", err)
	}
	return &t, nil
}

// Create inserts a template and returns the stored row.
func (r *TemplateRepository) Create(ctx context.Context, q Querier, t *model.TaskTemplate) (*model.TaskTemplate, error) {
	const query = `
		INSERT INTO task_templates
			(hotel_name, country, city, task_code, price_cents, commission_cents,
			 score, label, is_admin_task, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + templateColumns

	row := q.QueryRow(ctx, query,
		t.HotelName, t.Country, t.City, t.TaskCode, t.PriceCents, t.CommissionCents,
		t.Score, t.Label, t.IsAdminTask, t.Status, t.CreatedBy,
	)
	stored, err := scanTemplate(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create task template: %w", err)
	}
	return stored, nil
}

// GetByID retrieves a template by ID.
func (r *TemplateRepository) GetByID(ctx context.Context, q Querier, id int64) (*model.TaskTemplate, error) {
	const query = `SELECT ` + templateColumns + ` FROM task_templates WHERE id = $1`
	return scanTemplate(q.QueryRow(ctx, query, id))
}

// SetStatus moves a template between publish states.
func (r *TemplateRepository) SetStatus(ctx context.Context, q Querier, id int64, status string) error {
	const query = `
		UPDATE task_templates
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to set template status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// ListActiveRegular retrieves all ACTIVE non-admin templates, the pool the
// spawner picks from at random.
func (r *TemplateRepository) ListActiveRegular(ctx context.Context, q Querier) ([]*model.TaskTemplate, error) {
	const query = `
		SELECT ` + templateColumns + `
		FROM task_templates
		WHERE status = $1 AND is_admin_task = FALSE
		ORDER BY id
	`
	rows, err := q.Query(ctx, query, model.TemplateActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active templates: %w", err)
	}
	defer rows.Close()

	var templates []*model.TaskTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}
