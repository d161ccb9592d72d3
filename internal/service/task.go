package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"travel-task-engine/internal/model"
	"travel-task-engine/internal/pkg/lock"
	"travel-task-engine/internal/repository"
)

// TaskService drives the lifecycle of a spawned task. REGULAR tasks
// auto-approve on submit; ADMIN tasks additionally pass a strict solvency
// check on wallet CASH (bonus excluded) but the price is never debited —
// it is a trust gate, not a charge.
type TaskService struct {
	pool         *pgxpool.Pool
	taskRepo     *repository.TaskRepository
	walletRepo   *repository.WalletRepository
	progressRepo *repository.ProgressRepository
	progress     *ProgressService
	userLock     *lock.UserLock
}

// NewTaskService creates a new TaskService instance.
func NewTaskService(
	pool *pgxpool.Pool,
	taskRepo *repository.TaskRepository,
	walletRepo *repository.WalletRepository,
	progressRepo *repository.ProgressRepository,
	progress *ProgressService,
	userLock *lock.UserLock,
) *TaskService {
	return &TaskService{
		pool:         pool,
		taskRepo:     taskRepo,
		walletRepo:   walletRepo,
		progressRepo: progressRepo,
		progress:     progress,
		userLock:     userLock,
	}
}

// Submit completes the user's current task. The whole path — solvency
// check, payout, dividends bookkeeping, approval, progress advance — runs
// in one transaction under the task and progress row locks, so concurrent
// retries serialize and cannot double-pay.
func (s *TaskService) Submit(ctx context.Context, taskID int64, proofText, proofLink string) (*model.UserTask, error) {
	peek, err := s.taskRepo.GetByID(ctx, s.pool, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %d: %w", taskID, err)
	}

	s.userLock.Lock(peek.UserID)
	defer s.userLock.Unlock(peek.UserID)

	var result *model.UserTask
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		task, err := s.taskRepo.GetForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != model.TaskInProgress {
			return fmt.Errorf("submit task %d in status %s: %w", task.ID, task.Status, ErrInvalidState)
		}

		if proofText != "" || proofLink != "" {
			if err := s.taskRepo.SetProof(ctx, tx, task.ID, proofText, proofLink); err != nil {
				return err
			}
			task.ProofText = proofText
			task.ProofLink = proofLink
		}

		if _, err := s.progress.ensureTx(ctx, tx, task.UserID); err != nil {
			return err
		}
		prog, err := s.progressRepo.GetForUpdate(ctx, tx, task.UserID)
		if err != nil {
			return err
		}

		if task.Kind == model.TaskAdmin {
			wallet, err := s.walletRepo.GetForUpdate(ctx, tx, task.UserID)
			if err != nil {
				return err
			}
			// Strict solvency on CASH; bonus does not count here.
			if wallet.CashCents < task.PriceCentsUsed {
				return &InsufficientFundsError{ShortfallCents: task.PriceCentsUsed - wallet.CashCents}
			}
			if err := s.approveAdminLocked(ctx, tx, task, prog); err != nil {
				return err
			}
		} else {
			if err := s.approveRegularLocked(ctx, tx, task, prog); err != nil {
				return err
			}
		}

		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("task_id", result.ID).
		Int64("user_id", result.UserID).
		Str("kind", result.Kind).
		Msg("Task submitted and approved")
	return result, nil
}

// approveRegularLocked finalizes a REGULAR task under the task and progress
// row locks:
//  1. add the commission to earned dividends
//  2. credit wallet CASH by the commission (idempotent per task)
//  3. mark that commission as already paid (clamped)
//  4. approve the task
//  5. advance the cycle position
func (s *TaskService) approveRegularLocked(ctx context.Context, tx pgx.Tx, task *model.UserTask, prog *model.UserTaskProgress) error {
	commission := task.CommissionCentsUsed
	prog.DividendsCents += commission

	if commission > 0 {
		if _, err := s.walletRepo.GetForUpdate(ctx, tx, task.UserID); err != nil {
			return err
		}
		ref := fmt.Sprintf("REGULAR_TASK_PAYOUT#%d", task.ID)
		_, err := s.walletRepo.Credit(ctx, tx, task.UserID, model.BucketCash,
			commission, model.KindReward, fmt.Sprintf("Regular task payout #%d", task.ID), ref, nil)
		if err != nil {
			return err
		}

		paid := prog.DividendsPaidCents + commission
		if paid > prog.DividendsCents {
			paid = prog.DividendsCents
		}
		if paid < 0 {
			paid = 0
		}
		prog.DividendsPaidCents = paid
	}

	now := nowUTC()
	if err := s.taskRepo.MarkApproved(ctx, tx, task.ID, now); err != nil {
		return err
	}
	task.Status = model.TaskApproved
	if task.SubmittedAt == nil {
		task.SubmittedAt = &now
	}
	task.DecidedAt = &now

	return s.progress.advanceTx(ctx, tx, prog)
}

// approveAdminLocked finalizes a solvent ADMIN task under the row locks.
// The price is never debited. The payout is any unpaid old dividends plus
// this task's commission; afterwards all dividends are marked paid.
func (s *TaskService) approveAdminLocked(ctx context.Context, tx pgx.Tx, task *model.UserTask, prog *model.UserTaskProgress) error {
	unpaidOld := prog.UnpaidDividendsCents()
	payout := unpaidOld + task.CommissionCentsUsed

	if payout > 0 {
		ref := fmt.Sprintf("ADMIN_TASK_PAYOUT#%d", task.ID)
		_, err := s.walletRepo.Credit(ctx, tx, task.UserID, model.BucketCash,
			payout, model.KindReward, fmt.Sprintf("Admin task payout #%d", task.ID), ref, nil)
		if err != nil {
			return err
		}
	}

	prog.DividendsCents += task.CommissionCentsUsed
	prog.DividendsPaidCents = prog.DividendsCents

	now := nowUTC()
	if err := s.taskRepo.MarkApproved(ctx, tx, task.ID, now); err != nil {
		return err
	}
	task.Status = model.TaskApproved
	if task.SubmittedAt == nil {
		task.SubmittedAt = &now
	}
	task.DecidedAt = &now

	return s.progress.advanceTx(ctx, tx, prog)
}

// SubmitForReview parks an ADMIN task in SUBMITTED without deciding it,
// for cases where completion needs a human look before the payout. Proof
// is stored; economics happen on approval. Re-submitting is a no-op.
func (s *TaskService) SubmitForReview(ctx context.Context, taskID int64, proofText, proofLink string) (*model.UserTask, error) {
	peek, err := s.taskRepo.GetByID(ctx, s.pool, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %d: %w", taskID, err)
	}

	s.userLock.Lock(peek.UserID)
	defer s.userLock.Unlock(peek.UserID)

	var result *model.UserTask
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		task, err := s.taskRepo.GetForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status == model.TaskSubmitted {
			result = task
			return nil
		}
		if task.Status != model.TaskInProgress {
			return fmt.Errorf("submit task %d in status %s: %w", task.ID, task.Status, ErrInvalidState)
		}
		if task.Kind != model.TaskAdmin {
			return fmt.Errorf("task %d is not an admin task: %w", task.ID, ErrInvalidState)
		}

		if proofText != "" || proofLink != "" {
			if err := s.taskRepo.SetProof(ctx, tx, task.ID, proofText, proofLink); err != nil {
				return err
			}
			task.ProofText = proofText
			task.ProofLink = proofLink
		}

		now := nowUTC()
		if err := s.taskRepo.MarkSubmitted(ctx, tx, task.ID, now); err != nil {
			return err
		}
		task.Status = model.TaskSubmitted
		task.SubmittedAt = &now
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("task_id", result.ID).Int64("user_id", result.UserID).Msg("Admin task submitted for review")
	return result, nil
}

// ApproveAdminSubmitted is the manual admin path for a SUBMITTED admin
// task. An already-approved task is a safe no-op, not an error.
func (s *TaskService) ApproveAdminSubmitted(ctx context.Context, taskID int64) (*model.UserTask, error) {
	peek, err := s.taskRepo.GetByID(ctx, s.pool, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %d: %w", taskID, err)
	}
	if peek.Kind != model.TaskAdmin {
		return nil, fmt.Errorf("task %d is not an admin task: %w", taskID, ErrInvalidState)
	}

	s.userLock.Lock(peek.UserID)
	defer s.userLock.Unlock(peek.UserID)

	var result *model.UserTask
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		task, err := s.taskRepo.GetForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status == model.TaskApproved {
			result = task
			return nil
		}
		if task.Status != model.TaskSubmitted {
			return fmt.Errorf("approve task %d in status %s: %w", task.ID, task.Status, ErrInvalidState)
		}

		if _, err := s.progress.ensureTx(ctx, tx, task.UserID); err != nil {
			return err
		}
		prog, err := s.progressRepo.GetForUpdate(ctx, tx, task.UserID)
		if err != nil {
			return err
		}
		wallet, err := s.walletRepo.GetForUpdate(ctx, tx, task.UserID)
		if err != nil {
			return err
		}
		// Same solvency gate as the auto path.
		if wallet.CashCents < task.PriceCentsUsed {
			return &InsufficientFundsError{ShortfallCents: task.PriceCentsUsed - wallet.CashCents}
		}
		if err := s.approveAdminLocked(ctx, tx, task, prog); err != nil {
			return err
		}
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("task_id", result.ID).Int64("user_id", result.UserID).Msg("Admin task approved")
	return result, nil
}

// Reject moves a task to REJECTED. Allowed from PENDING, IN_PROGRESS and
// SUBMITTED; a task already in a terminal state is returned unchanged.
func (s *TaskService) Reject(ctx context.Context, taskID int64) (*model.UserTask, error) {
	return s.finalize(ctx, taskID, model.TaskRejected)
}

// Cancel moves a task to CANCELED with the same rules as Reject.
func (s *TaskService) Cancel(ctx context.Context, taskID int64) (*model.UserTask, error) {
	return s.finalize(ctx, taskID, model.TaskCanceled)
}

func (s *TaskService) finalize(ctx context.Context, taskID int64, status string) (*model.UserTask, error) {
	var result *model.UserTask
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		task, err := s.taskRepo.GetForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.IsTerminal() {
			result = task
			return nil
		}

		now := nowUTC()
		if err := s.taskRepo.MarkTerminal(ctx, tx, task.ID, status, now); err != nil {
			return err
		}
		task.Status = status
		task.DecidedAt = &now
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
