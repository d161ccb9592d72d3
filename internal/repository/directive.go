package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"travel-task-engine/internal/model"
)

// DirectiveRepository handles admin-forced task directives.
type DirectiveRepository struct{}

// NewDirectiveRepository creates a new DirectiveRepository instance.
func NewDirectiveRepository() *DirectiveRepository {
	return &DirectiveRepository{}
}

const directiveColumns = `id, user_id, applies_on_cycle, target_order, template_id, status,
	expires_at, batch_id, reason, created_by,
	created_at, updated_at, consumed_at, canceled_at, expired_at, skipped_at`

func scanDirective(row pgx.Row) (*model.ForcedTaskDirective, error) {
	var d model.ForcedTaskDirective
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.AppliesOnCycle,
		&d.TargetOrder,
		&d.TemplateID,
		&d.Status,
		&d.ExpiresAt,
		&d.BatchID,
		&d.Reason,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ConsumedAt,
		&d.CanceledAt,
		&d.ExpiredAt,
		&d.SkippedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDirectiveNotFound
		}
		return nil, fmt.Errorf("failed to scan directive: %w", err)
	}
	return &d, nil
}

// Create inserts a PENDING directive. Returns ErrSlotTaken when a pending
// directive already targets the same (user, cycle, order) slot.
func (r *DirectiveRepository) Create(ctx context.Context, q Querier, d *model.ForcedTaskDirective) (*model.ForcedTaskDirective, error) {
	const query = `
		INSERT INTO forced_task_directives
			(user_id, applies_on_cycle, target_order, template_id, status,
			 expires_at, batch_id, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + directiveColumns

	row := q.QueryRow(ctx, query,
		d.UserID, d.AppliesOnCycle, d.TargetOrder, d.TemplateID, model.DirectivePending,
		d.ExpiresAt, d.BatchID, d.Reason, d.CreatedBy,
	)
	stored, err := scanDirective(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("failed to create directive: %w", err)
	}
	return stored, nil
}

// GetByID retrieves a directive by ID.
func (r *DirectiveRepository) GetByID(ctx context.Context, q Querier, id int64) (*model.ForcedTaskDirective, error) {
	const query = `SELECT ` + directiveColumns + ` FROM forced_task_directives WHERE id = $1`
	return scanDirective(q.QueryRow(ctx, query, id))
}

// expireOutdated marks any pending directives for the slot whose expiry has
// passed, so they never match again.
func (r *DirectiveRepository) expireOutdated(ctx context.Context, q Querier, userID int64, targetOrder int, now time.Time) error {
	const query = `
		UPDATE forced_task_directives
		SET status = $4, expired_at = $3, updated_at = $3
		WHERE user_id = $1 AND target_order = $2 AND status = $5
		  AND expires_at IS NOT NULL AND expires_at <= $3
	`
	_, err := q.Exec(ctx, query, userID, targetOrder, now, model.DirectiveExpired, model.DirectivePending)
	if err != nil {
		return fmt.Errorf("failed to expire directives: %w", err)
	}
	return nil
}

// ResolveForSlot finds the directive to serve at (cycle, order) for a user,
// or ErrDirectiveNotFound. Two passes:
//  1. exact match on (cycle, order), earliest created first
//  2. overdue backlog: same order, applies_on_cycle <= cycle, oldest
//     (applies_on_cycle, created_at) first
//
// Pending directives past their expiry are marked EXPIRED on the way. The
// returned row is locked so the caller can consume it in the same
// transaction.
func (r *DirectiveRepository) ResolveForSlot(ctx context.Context, tx pgx.Tx, userID int64, cycle, order int, now time.Time) (*model.ForcedTaskDirective, error) {
	if err := r.expireOutdated(ctx, tx, userID, order, now); err != nil {
		return nil, err
	}

	const exact = `
		SELECT ` + directiveColumns + `
		FROM forced_task_directives
		WHERE user_id = $1 AND applies_on_cycle = $2 AND target_order = $3 AND status = $4
		  AND (expires_at IS NULL OR expires_at > $5)
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE
	`
	d, err := scanDirective(tx.QueryRow(ctx, exact, userID, cycle, order, model.DirectivePending, now))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrDirectiveNotFound) {
		return nil, err
	}

	const backlog = `
		SELECT ` + directiveColumns + `
		FROM forced_task_directives
		WHERE user_id = $1 AND target_order = $2 AND status = $3
		  AND applies_on_cycle <= $4
		  AND (expires_at IS NULL OR expires_at > $5)
		ORDER BY applies_on_cycle, created_at
		LIMIT 1
		FOR UPDATE
	`
	return scanDirective(tx.QueryRow(ctx, backlog, userID, order, model.DirectivePending, cycle, now))
}

// MarkConsumed transitions a pending directive to CONSUMED. Must run in the
// same transaction that creates the resulting task: a directive is never
// consumed without producing a task, and vice versa.
func (r *DirectiveRepository) MarkConsumed(ctx context.Context, tx pgx.Tx, id int64, now time.Time) error {
	return r.transition(ctx, tx, id, model.DirectiveConsumed, "consumed_at", now)
}

// MarkCanceled transitions a pending directive to CANCELED (admin action).
func (r *DirectiveRepository) MarkCanceled(ctx context.Context, q Querier, id int64, now time.Time) error {
	return r.transition(ctx, q, id, model.DirectiveCanceled, "canceled_at", now)
}

// MarkSkipped transitions a pending directive to SKIPPED when its target
// order fell behind the user's position.
func (r *DirectiveRepository) MarkSkipped(ctx context.Context, q Querier, id int64, now time.Time) error {
	return r.transition(ctx, q, id, model.DirectiveSkipped, "skipped_at", now)
}

func (r *DirectiveRepository) transition(ctx context.Context, q Querier, id int64, status, stampColumn string, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE forced_task_directives
		SET status = $2, %s = $3, updated_at = $3
		WHERE id = $1 AND status = $4
	`, stampColumn)

	tag, err := q.Exec(ctx, query, id, status, now, model.DirectivePending)
	if err != nil {
		return fmt.Errorf("failed to mark directive %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDirectiveNotFound
	}
	return nil
}

// SweepExpired marks every pending directive past its expiry as EXPIRED and
// returns the number swept. Run periodically.
func (r *DirectiveRepository) SweepExpired(ctx context.Context, q Querier, now time.Time) (int64, error) {
	const query = `
		UPDATE forced_task_directives
		SET status = $2, expired_at = $1, updated_at = $1
		WHERE status = $3 AND expires_at IS NOT NULL AND expires_at <= $1
	`
	tag, err := q.Exec(ctx, query, now, model.DirectiveExpired, model.DirectivePending)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired directives: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListPendingByUser retrieves a user's pending directives ordered by slot.
func (r *DirectiveRepository) ListPendingByUser(ctx context.Context, q Querier, userID int64) ([]*model.ForcedTaskDirective, error) {
	const query = `
		SELECT ` + directiveColumns + `
		FROM forced_task_directives
		WHERE user_id = $1 AND status = $2
		ORDER BY applies_on_cycle, target_order, created_at
	`
	rows, err := q.Query(ctx, query, userID, model.DirectivePending)
	if err != nil {
		return nil, fmt.Errorf("failed to list directives: %w", err)
	}
	defer rows.Close()

	var directives []*model.ForcedTaskDirective
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		directives = append(directives, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating directives: %w", err)
	}
	return directives, nil
}
