package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"travel-task-engine/internal/model"
	"travel-task-engine/internal/repository"
)

// CatalogService manages the task template catalog.
type CatalogService struct {
	pool         *pgxpool.Pool
	templateRepo *repository.TemplateRepository
}

// NewCatalogService creates a new CatalogService instance.
func NewCatalogService(pool *pgxpool.Pool, templateRepo *repository.TemplateRepository) *CatalogService {
	return &CatalogService{
		pool:         pool,
		templateRepo: templateRepo,
	}
}

// CreateTemplate adds a template to the catalog. A task code is generated
// when none is supplied. Templates start in the status given (DRAFT by
// default) and only ACTIVE non-admin ones enter random selection.
func (s *CatalogService) CreateTemplate(ctx context.Context, t *model.TaskTemplate) (*model.TaskTemplate, error) {
	if t.HotelName == "" {
		return nil, fmt.Errorf("template requires a hotel name")
	}
	if t.TaskCode == "" {
		// Short, URL-safe reference code.
		t.TaskCode = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	}
	if t.Status == "" {
		t.Status = model.TemplateDraft
	}
	return s.templateRepo.Create(ctx, s.pool, t)
}

// Get retrieves a template by ID.
func (s *CatalogService) Get(ctx context.Context, id int64) (*model.TaskTemplate, error) {
	t, err := s.templateRepo.GetByID(ctx, s.pool, id)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return t, err
}

// SetStatus moves a template between publish states.
func (s *CatalogService) SetStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case model.TemplateDraft, model.TemplateActive, model.TemplatePaused, model.TemplateArchived:
	default:
		return fmt.Errorf("unknown template status %q", status)
	}
	return s.templateRepo.SetStatus(ctx, s.pool, id, status)
}

// ListActiveRegular retrieves the pool of templates eligible for random
// selection.
func (s *CatalogService) ListActiveRegular(ctx context.Context) ([]*model.TaskTemplate, error) {
	return s.templateRepo.ListActiveRegular(ctx, s.pool)
}
