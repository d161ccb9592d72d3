package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"travel-task-engine/internal/model"
	"travel-task-engine/internal/repository"
)

// AdminService exposes the administrative operations: forcing task slots,
// unblocking users, manual approvals, and balance corrections.
type AdminService struct {
	pool          *pgxpool.Pool
	directiveRepo *repository.DirectiveRepository
	templateRepo  *repository.TemplateRepository
	wallet        *WalletService
	progress      *ProgressService
	task          *TaskService
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(
	pool *pgxpool.Pool,
	directiveRepo *repository.DirectiveRepository,
	templateRepo *repository.TemplateRepository,
	wallet *WalletService,
	progress *ProgressService,
	task *TaskService,
) *AdminService {
	return &AdminService{
		pool:          pool,
		directiveRepo: directiveRepo,
		templateRepo:  templateRepo,
		wallet:        wallet,
		progress:      progress,
		task:          task,
	}
}

// CreateDirective queues a forced ADMIN task for one (cycle, order) slot.
// The template must be an admin template.
func (s *AdminService) CreateDirective(ctx context.Context, adminID, userID int64, cycle, order int, templateID int64, reason string, expiresAt *time.Time) (*model.ForcedTaskDirective, error) {
	if order < 1 {
		return nil, fmt.Errorf("target order must be >= 1, got %d", order)
	}

	tpl, err := s.templateRepo.GetByID(ctx, s.pool, templateID)
	if err != nil {
		return nil, fmt.Errorf("directive template: %w", err)
	}
	if !tpl.IsAdminTask {
		return nil, fmt.Errorf("template %d is not an admin template: %w", templateID, ErrInvalidState)
	}

	d := &model.ForcedTaskDirective{
		UserID:         userID,
		AppliesOnCycle: cycle,
		TargetOrder:    order,
		TemplateID:     templateID,
		ExpiresAt:      expiresAt,
		BatchID:        uuid.NewString(),
		Reason:         reason,
		CreatedBy:      &adminID,
	}
	stored, err := s.directiveRepo.Create(ctx, s.pool, d)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("admin_id", adminID).
		Int64("user_id", userID).
		Int("cycle", cycle).
		Int("order", order).
		Int64("template_id", templateID).
		Msg("Forced task directive created")
	return stored, nil
}

// CreateDirectiveBatch queues one directive per order under a shared batch
// ID. Orders that collide with an existing pending slot are reported back.
func (s *AdminService) CreateDirectiveBatch(ctx context.Context, adminID, userID int64, cycle int, orders []int, templateID int64, reason string, expiresAt *time.Time) ([]*model.ForcedTaskDirective, []int, error) {
	tpl, err := s.templateRepo.GetByID(ctx, s.pool, templateID)
	if err != nil {
		return nil, nil, fmt.Errorf("directive template: %w", err)
	}
	if !tpl.IsAdminTask {
		return nil, nil, fmt.Errorf("template %d is not an admin template: %w", templateID, ErrInvalidState)
	}

	batchID := uuid.NewString()
	var created []*model.ForcedTaskDirective
	var skippedOrders []int
	for _, order := range orders {
		if order < 1 {
			skippedOrders = append(skippedOrders, order)
			continue
		}
		d := &model.ForcedTaskDirective{
			UserID:         userID,
			AppliesOnCycle: cycle,
			TargetOrder:    order,
			TemplateID:     templateID,
			ExpiresAt:      expiresAt,
			BatchID:        batchID,
			Reason:         reason,
			CreatedBy:      &adminID,
		}
		stored, err := s.directiveRepo.Create(ctx, s.pool, d)
		if err != nil {
			if errors.Is(err, repository.ErrSlotTaken) {
				skippedOrders = append(skippedOrders, order)
				continue
			}
			return created, skippedOrders, err
		}
		created = append(created, stored)
	}
	return created, skippedOrders, nil
}

// CancelDirective cancels a pending directive.
func (s *AdminService) CancelDirective(ctx context.Context, id int64) error {
	return s.directiveRepo.MarkCanceled(ctx, s.pool, id, nowUTC())
}

// SkipDirective marks a pending directive whose slot fell behind the user's
// position.
func (s *AdminService) SkipDirective(ctx context.Context, id int64) error {
	return s.directiveRepo.MarkSkipped(ctx, s.pool, id, nowUTC())
}

// SweepExpiredDirectives expires every pending directive past its deadline.
func (s *AdminService) SweepExpiredDirectives(ctx context.Context) (int64, error) {
	n, err := s.directiveRepo.SweepExpired(ctx, s.pool, nowUTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("Expired forced task directives")
	}
	return n, nil
}

// ListPendingDirectives retrieves a user's queued directives.
func (s *AdminService) ListPendingDirectives(ctx context.Context, userID int64) ([]*model.ForcedTaskDirective, error) {
	return s.directiveRepo.ListPendingByUser(ctx, s.pool, userID)
}

// Unblock resets a blocked user for a new cycle.
func (s *AdminService) Unblock(ctx context.Context, userID int64) error {
	return s.progress.Unblock(ctx, userID)
}

// ApproveAdminSubmitted finalizes a submitted admin task manually.
func (s *AdminService) ApproveAdminSubmitted(ctx context.Context, taskID int64) (*model.UserTask, error) {
	return s.task.ApproveAdminSubmitted(ctx, taskID)
}

// AdjustBalance applies a signed manual correction to one wallet bucket,
// recorded as an ADJUST ledger entry with a generated idempotency ref.
func (s *AdminService) AdjustBalance(ctx context.Context, adminID, userID int64, bucket string, amountCents int64, memo string) error {
	if amountCents == 0 {
		return nil
	}

	ref := "ADMIN_ADJUST#" + uuid.NewString()
	var err error
	if amountCents > 0 {
		_, err = s.wallet.Credit(ctx, userID, bucket, amountCents, model.KindAdjust, memo, ref)
	} else {
		_, err = s.wallet.Debit(ctx, userID, bucket, -amountCents, model.KindAdjust, memo, ref)
	}
	if err != nil {
		return err
	}

	log.Info().
		Int64("admin_id", adminID).
		Int64("user_id", userID).
		Str("bucket", bucket).
		Int64("amount_cents", amountCents).
		Msg("Admin balance adjustment")
	return nil
}
