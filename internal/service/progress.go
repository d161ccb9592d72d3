package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"travel-task-engine/internal/config"
	"travel-task-engine/internal/model"
	"travel-task-engine/internal/repository"
)

// ProgressService tracks each user's position in the task cycle: advancing,
// blocking at the limit, withdrawal gating, and the derived dashboard view.
type ProgressService struct {
	pool         *pgxpool.Pool
	progressRepo *repository.ProgressRepository
	walletRepo   *repository.WalletRepository
	taskRepo     *repository.TaskRepository

	tasks    config.TasksConfig
	withdraw config.WithdrawConfig
}

// NewProgressService creates a new ProgressService instance.
func NewProgressService(
	pool *pgxpool.Pool,
	progressRepo *repository.ProgressRepository,
	walletRepo *repository.WalletRepository,
	taskRepo *repository.TaskRepository,
	tasks config.TasksConfig,
	withdraw config.WithdrawConfig,
) *ProgressService {
	return &ProgressService{
		pool:         pool,
		progressRepo: progressRepo,
		walletRepo:   walletRepo,
		taskRepo:     taskRepo,
		tasks:        tasks,
		withdraw:     withdraw,
	}
}

// Ensure retrieves the user's progress row, creating it lazily with a
// snapshot of the current cycle settings.
func (s *ProgressService) Ensure(ctx context.Context, userID int64) (*model.UserTaskProgress, error) {
	p, err := s.progressRepo.GetOrCreate(ctx, s.pool, userID,
		s.tasks.LimitPerCycle, s.tasks.PriceCents, s.tasks.CommissionCents)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure task progress: %w", err)
	}
	return p, nil
}

// ensureTx is Ensure joining an existing transaction.
func (s *ProgressService) ensureTx(ctx context.Context, q repository.Querier, userID int64) (*model.UserTaskProgress, error) {
	return s.progressRepo.GetOrCreate(ctx, q, userID,
		s.tasks.LimitPerCycle, s.tasks.PriceCents, s.tasks.CommissionCents)
}

// advanceTx increments the cycle position of an already-locked progress row.
// At the limit (when blocking is enabled) it blocks the user, counts the
// completed cycle, and clears the trial bonus if configured. Mutates p and
// persists it inside the caller's transaction.
func (s *ProgressService) advanceTx(ctx context.Context, tx pgx.Tx, p *model.UserTaskProgress) error {
	p.CurrentTaskIndex++

	if s.tasks.BlockOnReachingLimit && p.CurrentTaskIndex >= p.LimitSnapshot {
		p.CyclesCompleted++
		p.IsBlocked = true

		if s.tasks.ClearBonusAtLimit {
			ref := fmt.Sprintf("BONUS_CLEAR#u%dc%d", p.UserID, p.CyclesCompleted)
			cleared, err := s.walletRepo.ClearBonus(ctx, tx, p.UserID,
				"Trial bonus cleared at cycle limit", ref)
			if err != nil && !errors.Is(err, repository.ErrWalletNotFound) {
				return err
			}
			if cleared > 0 {
				log.Info().
					Int64("user_id", p.UserID).
					Int64("cleared_cents", cleared).
					Int("cycle", p.CyclesCompleted).
					Msg("Trial bonus cleared at cycle limit")
			}
		}

		log.Info().
			Int64("user_id", p.UserID).
			Int("cycles_completed", p.CyclesCompleted).
			Msg("User reached cycle limit and is blocked")
	}

	return s.progressRepo.Update(ctx, tx, p)
}

// Unblock resets the user for a fresh cycle: index back to zero, snapshots
// refreshed from current settings. Dividends and ledger state are untouched.
func (s *ProgressService) Unblock(ctx context.Context, userID int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := s.progressRepo.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		p.CurrentTaskIndex = 0
		p.IsBlocked = false
		p.LimitSnapshot = s.tasks.LimitPerCycle
		p.PriceSnapshotCents = s.tasks.PriceCents
		p.CommissionSnapshotCents = s.tasks.CommissionCents
		now := nowUTC()
		p.LastResetAt = &now
		return s.progressRepo.Update(ctx, tx, p)
	})
	if err != nil {
		return fmt.Errorf("failed to unblock user: %w", err)
	}
	log.Info().Int64("user_id", userID).Msg("User unblocked for a new cycle")
	return nil
}

// CanWithdraw reports whether the user may withdraw now and, if not, why.
// Rule: the first withdrawal unlocks after the first completed cycle; each
// later withdrawal requires CycleGap more completed cycles since the last.
func (s *ProgressService) CanWithdraw(ctx context.Context, userID int64) (bool, string, error) {
	p, err := s.Ensure(ctx, userID)
	if err != nil {
		return false, "", err
	}

	ok, reason := evalWithdrawGate(p.CyclesCompleted, p.LastWithdrawCycle, s.withdraw.CycleGap)
	return ok, reason, nil
}

// CheckWithdraw is CanWithdraw as a guard: nil when allowed, otherwise a
// WithdrawLockedError carrying the wait. Withdrawal rails call this before
// initiating a payout.
func (s *ProgressService) CheckWithdraw(ctx context.Context, userID int64) error {
	p, err := s.Ensure(ctx, userID)
	if err != nil {
		return err
	}

	ok, reason := evalWithdrawGate(p.CyclesCompleted, p.LastWithdrawCycle, s.withdraw.CycleGap)
	if ok {
		return nil
	}

	gap := s.withdraw.CycleGap
	if gap < 1 {
		gap = 1
	}
	remaining := 1 - p.CyclesCompleted
	if p.LastWithdrawCycle > 0 {
		remaining = p.LastWithdrawCycle + gap - p.CyclesCompleted
	}
	return &WithdrawLockedError{RemainingCycles: remaining, Reason: reason}
}

// evalWithdrawGate is the pure withdrawal-gating rule.
func evalWithdrawGate(cyclesCompleted, lastWithdrawCycle, gap int) (bool, string) {
	if gap < 1 {
		gap = 1
	}
	if cyclesCompleted < 1 {
		return false, "Withdrawals unlock after completing your first cycle."
	}
	if lastWithdrawCycle == 0 {
		return true, ""
	}
	needed := lastWithdrawCycle + gap
	if cyclesCompleted >= needed {
		return true, ""
	}
	remaining := needed - cyclesCompleted
	return false, fmt.Sprintf("Withdrawals unlock after %d more cycle(s).", remaining)
}

// OnWithdrawConfirmed must be called after a payout clears. It advances the
// paid-dividends counter by the withdrawn amount (clamped so paid never
// exceeds earned) and pins the current cycle as the baseline for the next
// withdrawal window.
func (s *ProgressService) OnWithdrawConfirmed(ctx context.Context, userID int64, amountCents int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := s.progressRepo.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if amountCents > 0 {
			paid := p.DividendsPaidCents + amountCents
			if paid > p.DividendsCents {
				paid = p.DividendsCents
			}
			p.DividendsPaidCents = paid
		}
		p.LastWithdrawCycle = p.CyclesCompleted
		return s.progressRepo.Update(ctx, tx, p)
	})
	if err != nil {
		return fmt.Errorf("failed to record withdrawal: %w", err)
	}
	return nil
}

// DisplayTotals derives the dashboard numbers from canonical state.
func (s *ProgressService) DisplayTotals(ctx context.Context, userID int64) (DisplayTotals, error) {
	in, err := s.displayInputs(ctx, s.pool, userID)
	if err != nil {
		return DisplayTotals{}, err
	}
	return ComputeDisplayTotals(in), nil
}

// displayInputs gathers the canonical inputs of the display derivation.
func (s *ProgressService) displayInputs(ctx context.Context, q repository.Querier, userID int64) (DisplayInputs, error) {
	p, err := s.ensureTx(ctx, q, userID)
	if err != nil {
		return DisplayInputs{}, err
	}

	in := DisplayInputs{
		DividendsCents:     p.DividendsCents,
		DividendsPaidCents: p.DividendsPaidCents,
	}

	w, err := s.walletRepo.GetByUserID(ctx, q, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrWalletNotFound) {
			return DisplayInputs{}, err
		}
	} else {
		in.WalletCashCents = w.CashCents
		in.WalletBonusCents = w.BonusCents
	}

	assigned, err := s.taskRepo.GetOpenAdminByUser(ctx, q, userID)
	if err != nil && !errors.Is(err, repository.ErrTaskNotFound) {
		return DisplayInputs{}, err
	}
	if assigned != nil {
		in.Assigned = &AssignedAdminTask{
			PriceCents:        assigned.PriceCentsUsed,
			CommissionCents:   assigned.CommissionCentsUsed,
			RequiredCashCents: assigned.RequiredCashCents,
		}
	}

	count, err := s.taskRepo.CountApprovedAdmin(ctx, q, userID)
	if err != nil {
		return DisplayInputs{}, err
	}
	if count > 0 {
		in.HasApprovedAdmin = true
		in.ApprovedAdminRequiredSum, err = s.taskRepo.SumApprovedAdminRequired(ctx, q, userID)
		if err != nil {
			return DisplayInputs{}, err
		}
	}

	return in, nil
}

// settledTotalTx computes the display total in the settled regime (ignoring
// any open admin task). Used when assigning a new admin task to snapshot the
// user's pre-assignment total.
func (s *ProgressService) settledTotalTx(ctx context.Context, q repository.Querier, userID int64) (int64, error) {
	w, err := s.walletRepo.GetByUserID(ctx, q, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return w.TotalCents(), nil
}
