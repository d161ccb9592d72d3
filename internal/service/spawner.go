package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"travel-task-engine/internal/config"
	"travel-task-engine/internal/model"
	"travel-task-engine/internal/pkg/lock"
	"travel-task-engine/internal/repository"
)

// SpawnerService resolves what task a user sees next. Priority order:
// existing open task > exact directive match > overdue directive >
// random eligible regular template. Directive consumption and task
// creation commit in the same transaction, so a directive is never
// consumed without producing a task.
type SpawnerService struct {
	pool          *pgxpool.Pool
	taskRepo      *repository.TaskRepository
	templateRepo  *repository.TemplateRepository
	directiveRepo *repository.DirectiveRepository
	progressRepo  *repository.ProgressRepository
	walletRepo    *repository.WalletRepository
	progress      *ProgressService
	userLock      *lock.UserLock

	tasks config.TasksConfig
}

// NewSpawnerService creates a new SpawnerService instance.
func NewSpawnerService(
	pool *pgxpool.Pool,
	taskRepo *repository.TaskRepository,
	templateRepo *repository.TemplateRepository,
	directiveRepo *repository.DirectiveRepository,
	progressRepo *repository.ProgressRepository,
	walletRepo *repository.WalletRepository,
	progress *ProgressService,
	userLock *lock.UserLock,
	tasks config.TasksConfig,
) *SpawnerService {
	return &SpawnerService{
		pool:          pool,
		taskRepo:      taskRepo,
		templateRepo:  templateRepo,
		directiveRepo: directiveRepo,
		progressRepo:  progressRepo,
		walletRepo:    walletRepo,
		progress:      progress,
		userLock:      userLock,
		tasks:         tasks,
	}
}

// SpawnNext starts (or returns) the user's next task.
func (s *SpawnerService) SpawnNext(ctx context.Context, userID int64) (*model.UserTask, error) {
	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	var result *model.UserTask
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := s.progress.ensureTx(ctx, tx, userID); err != nil {
			return err
		}
		prog, err := s.progressRepo.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if prog.IsBlocked {
			return &UserBlockedError{Message: s.tasks.BlockMessage}
		}

		// An open task occupies the slot: admin tasks are unskippable,
		// and a regular task in flight makes a repeated spawn idempotent.
		open, err := s.taskRepo.GetOpenByUser(ctx, tx, userID)
		if err != nil && !errors.Is(err, repository.ErrTaskNotFound) {
			return err
		}
		if open != nil {
			result = open
			return nil
		}

		order := prog.NaturalNextOrder()
		cycle := prog.CyclesCompleted
		now := nowUTC()

		directive, err := s.directiveRepo.ResolveForSlot(ctx, tx, userID, cycle, order, now)
		if err != nil && !errors.Is(err, repository.ErrDirectiveNotFound) {
			return err
		}
		if directive != nil {
			result, err = s.spawnFromDirective(ctx, tx, prog, directive, cycle, order)
			return err
		}

		result, err = s.spawnRandomRegular(ctx, tx, prog, cycle, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// spawnFromDirective creates the forced ADMIN task, consumes the directive,
// and snapshots the assignment effects — all in one transaction.
func (s *SpawnerService) spawnFromDirective(ctx context.Context, tx pgx.Tx, prog *model.UserTaskProgress, directive *model.ForcedTaskDirective, cycle, order int) (*model.UserTask, error) {
	tpl, err := s.templateRepo.GetByID(ctx, tx, directive.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("directive %d template: %w", directive.ID, err)
	}

	now := nowUTC()
	task := &model.UserTask{
		UserID:              prog.UserID,
		TemplateID:          tpl.ID,
		CycleNumber:         cycle,
		OrderShown:          order,
		Kind:                model.TaskAdmin, // a directive always forces an admin task
		Status:              model.TaskInProgress,
		PriceCentsUsed:      tpl.EffectivePriceCents(prog.PriceSnapshotCents),
		CommissionCentsUsed: tpl.EffectiveCommissionCents(prog.CommissionSnapshotCents),
		StartedAt:           &now,
	}
	task, err = s.taskRepo.Create(ctx, tx, task)
	if err != nil {
		return nil, err
	}

	if err := s.directiveRepo.MarkConsumed(ctx, tx, directive.ID, now); err != nil {
		return nil, err
	}

	// Assignment effects: snapshot the pre-assignment display total and the
	// cash shortfall once; display derivation picks them up from the task.
	oldTotal, err := s.progress.settledTotalTx(ctx, tx, prog.UserID)
	if err != nil {
		return nil, err
	}
	required := task.PriceCentsUsed - oldTotal
	if required < 0 {
		required = 0
	}
	if err := s.taskRepo.SetAssignmentSnapshot(ctx, tx, task.ID, oldTotal, required); err != nil {
		return nil, err
	}
	task.AssignmentTotalDisplayCents = oldTotal
	task.RequiredCashCents = required

	log.Info().
		Int64("user_id", prog.UserID).
		Int64("task_id", task.ID).
		Int64("directive_id", directive.ID).
		Int("cycle", cycle).
		Int("order", order).
		Int64("required_cash_cents", required).
		Msg("Admin task spawned from directive")
	return task, nil
}

// spawnRandomRegular picks a random ACTIVE regular template whose effective
// price fits the wallet (cash + bonus), avoiding recently served templates
// when possible.
func (s *SpawnerService) spawnRandomRegular(ctx context.Context, tx pgx.Tx, prog *model.UserTaskProgress, cycle, order int) (*model.UserTask, error) {
	templates, err := s.templateRepo.ListActiveRegular(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, ErrNoEligibleTasks
	}

	var walletTotal int64
	wallet, err := s.walletRepo.GetByUserID(ctx, tx, prog.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrWalletNotFound) {
			return nil, err
		}
	} else {
		walletTotal = wallet.TotalCents()
	}

	var eligible []*model.TaskTemplate
	for _, t := range templates {
		if t.EffectivePriceCents(prog.PriceSnapshotCents) <= walletTotal {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleTasks
	}

	pool := eligible
	if s.tasks.RecentTemplateWindow > 0 {
		recent, err := s.taskRepo.RecentTemplateIDs(ctx, tx, prog.UserID, s.tasks.RecentTemplateWindow)
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			seen := make(map[int64]bool, len(recent))
			for _, id := range recent {
				seen[id] = true
			}
			var fresh []*model.TaskTemplate
			for _, t := range eligible {
				if !seen[t.ID] {
					fresh = append(fresh, t)
				}
			}
			if len(fresh) > 0 {
				pool = fresh
			}
		}
	}

	tpl := pool[rand.Intn(len(pool))]

	now := nowUTC()
	task := &model.UserTask{
		UserID:              prog.UserID,
		TemplateID:          tpl.ID,
		CycleNumber:         cycle,
		OrderShown:          order,
		Kind:                model.TaskRegular,
		Status:              model.TaskInProgress,
		PriceCentsUsed:      tpl.EffectivePriceCents(prog.PriceSnapshotCents),
		CommissionCentsUsed: tpl.EffectiveCommissionCents(prog.CommissionSnapshotCents),
		StartedAt:           &now,
	}
	task, err = s.taskRepo.Create(ctx, tx, task)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int64("user_id", prog.UserID).
		Int64("task_id", task.ID).
		Int64("template_id", tpl.ID).
		Int("cycle", cycle).
		Int("order", order).
		Msg("Regular task spawned")
	return task, nil
}
