package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"travel-task-engine/internal/model"
)

// ProgressRepository handles the per-user cycle progress row.
type ProgressRepository struct{}

// NewProgressRepository creates a new ProgressRepository instance.
func NewProgressRepository() *ProgressRepository {
	return &ProgressRepository{}
}

const progressColumns = `user_id, cycles_completed, current_task_index, is_blocked,
	limit_snapshot, price_snapshot_cents, commission_snapshot_cents,
	dividends_cents, dividends_paid_cents, last_withdraw_cycle,
	last_reset_at, created_at, updated_at`

func scanProgress(row pgx.Row) (*model.UserTaskProgress, error) {
	var p model.UserTaskProgress
	err := row.Scan(
		&p.UserID,
		&p.CyclesCompleted,
		&p.CurrentTaskIndex,
		&p.IsBlocked,
		&p.LimitSnapshot,
		&p.PriceSnapshotCents,
		&p.CommissionSnapshotCents,
		&p.DividendsCents,
		&p.DividendsPaidCents,
		&p.LastWithdrawCycle,
		&p.LastResetAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to scan task progress: %w", err)
	}
	return &p, nil
}

// GetOrCreate retrieves the progress row for a user, creating one with the
// given settings snapshot if it does not exist yet (lazy creation on first
// access).
func (r *ProgressRepository) GetOrCreate(ctx context.Context, q Querier, userID int64, limitSnapshot int, priceSnapshotCents, commissionSnapshotCents int64) (*model.UserTaskProgress, error) {
	const insert = `
		INSERT INTO user_task_progress
			(user_id, limit_snapshot, price_snapshot_cents, commission_snapshot_cents, last_reset_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO NOTHING
		RETURNING ` + progressColumns

	p, err := scanProgress(q.QueryRow(ctx, insert, userID, limitSnapshot, priceSnapshotCents, commissionSnapshotCents))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProgressNotFound) {
		return nil, fmt.Errorf("failed to create task progress: %w", err)
	}

	const query = `SELECT ` + progressColumns + ` FROM user_task_progress WHERE user_id = $1`
	return scanProgress(q.QueryRow(ctx, query, userID))
}

// GetByUserID retrieves the progress row for a user.
func (r *ProgressRepository) GetByUserID(ctx context.Context, q Querier, userID int64) (*model.UserTaskProgress, error) {
	const query = `SELECT ` + progressColumns + ` FROM user_task_progress WHERE user_id = $1`
	return scanProgress(q.QueryRow(ctx, query, userID))
}

// GetForUpdate retrieves the progress row and locks it. Task submission and
// progress advancement are serialized on this lock.
func (r *ProgressRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*model.UserTaskProgress, error) {
	const query = `SELECT ` + progressColumns + ` FROM user_task_progress WHERE user_id = $1 FOR UPDATE`
	return scanProgress(tx.QueryRow(ctx, query, userID))
}

// Update persists the mutable counters and snapshots of a progress row.
func (r *ProgressRepository) Update(ctx context.Context, q Querier, p *model.UserTaskProgress) error {
	const query = `
		UPDATE user_task_progress
		SET cycles_completed = $2,
		    current_task_index = $3,
		    is_blocked = $4,
		    limit_snapshot = $5,
		    price_snapshot_cents = $6,
		    commission_snapshot_cents = $7,
		    dividends_cents = $8,
		    dividends_paid_cents = $9,
		    last_withdraw_cycle = $10,
		    last_reset_at = $11,
		    updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := q.Exec(ctx, query,
		p.UserID,
		p.CyclesCompleted,
		p.CurrentTaskIndex,
		p.IsBlocked,
		p.LimitSnapshot,
		p.PriceSnapshotCents,
		p.CommissionSnapshotCents,
		p.DividendsCents,
		p.DividendsPaidCents,
		p.LastWithdrawCycle,
		p.LastResetAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProgressNotFound
	}
	return nil
}
