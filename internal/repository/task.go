package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"travel-task-engine/internal/model"
)

// TaskRepository handles spawned task instances. Tasks are never deleted;
// terminal rows stay as the audit trail.
type TaskRepository struct{}

// NewTaskRepository creates a new TaskRepository instance.
func NewTaskRepository() *TaskRepository {
	return &TaskRepository{}
}

const taskColumns = `id, user_id, template_id, cycle_number, order_shown, kind, status,
	price_cents_used, commission_cents_used,
	assignment_total_display_cents, required_cash_cents,
	proof_text, proof_link,
	created_at, started_at, submitted_at, decided_at, updated_at`

func scanTask(row pgx.Row) (*model.UserTask, error) {
	var t model.UserTask
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TemplateID,
		&t.CycleNumber,
		&t.OrderShown,
		&t.Kind,
		&t.Status,
		&t.PriceCentsUsed,
		&t.CommissionCentsUsed,
		&t.AssignmentTotalDisplayCents,
		&t.RequiredCashCents,
		&t.ProofText,
		&t.ProofLink,
		&t.CreatedAt,
		&t.StartedAt,
		&t.SubmittedAt,
		&t.DecidedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return &t, nil
}

// Create inserts a task instance and returns the stored row.
func (r *TaskRepository) Create(ctx context.Context, q Querier, t *model.UserTask) (*model.UserTask, error) {
	const query = `
		INSERT INTO user_tasks
			(user_id, template_id, cycle_number, order_shown, kind, status,
			 price_cents_used, commission_cents_used, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + taskColumns

	row := q.QueryRow(ctx, query,
		t.UserID, t.TemplateID, t.CycleNumber, t.OrderShown, t.Kind, t.Status,
		t.PriceCentsUsed, t.CommissionCentsUsed, t.StartedAt,
	)
	stored, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return stored, nil
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, q Querier, id int64) (*model.UserTask, error) {
	const query = `SELECT ` + taskColumns + ` FROM user_tasks WHERE id = $1`
	return scanTask(q.QueryRow(ctx, query, id))
}

// GetForUpdate retrieves a task and row-locks it so that concurrent submit
// retries serialize on the row.
func (r *TaskRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*model.UserTask, error) {
	const query = `SELECT ` + taskColumns + ` FROM user_tasks WHERE id = $1 FOR UPDATE`
	return scanTask(tx.QueryRow(ctx, query, id))
}

// GetOpenByUser retrieves the user's task in IN_PROGRESS or SUBMITTED, if
// any. At most one such task exists per user.
func (r *TaskRepository) GetOpenByUser(ctx context.Context, q Querier, userID int64) (*model.UserTask, error) {
	const query = `
		SELECT ` + taskColumns + `
		FROM user_tasks
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTask(q.QueryRow(ctx, query, userID, model.TaskInProgress, model.TaskSubmitted))
}

// GetOpenAdminByUser retrieves the user's open ADMIN task, if any. Admin
// tasks are unskippable: the spawner returns this instead of creating a
// new task.
func (r *TaskRepository) GetOpenAdminByUser(ctx context.Context, q Querier, userID int64) (*model.UserTask, error) {
	const query = `
		SELECT ` + taskColumns + `
		FROM user_tasks
		WHERE user_id = $1 AND kind = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTask(q.QueryRow(ctx, query, userID, model.TaskAdmin, model.TaskInProgress, model.TaskSubmitted))
}

// SetAssignmentSnapshot stores the display total and required-cash shortfall
// captured when an ADMIN task enters IN_PROGRESS.
func (r *TaskRepository) SetAssignmentSnapshot(ctx context.Context, q Querier, id int64, totalDisplayCents, requiredCashCents int64) error {
	const query = `
		UPDATE user_tasks
		SET assignment_total_display_cents = $2,
		    required_cash_cents = $3,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, totalDisplayCents, requiredCashCents)
	if err != nil {
		return fmt.Errorf("failed to set assignment snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetProof stores the optional proof payload supplied on submit.
func (r *TaskRepository) SetProof(ctx context.Context, q Querier, id int64, proofText, proofLink string) error {
	const query = `
		UPDATE user_tasks
		SET proof_text = $2, proof_link = $3, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, proofText, proofLink)
	if err != nil {
		return fmt.Errorf("failed to set task proof: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkSubmitted parks a task in SUBMITTED awaiting a manual decision.
func (r *TaskRepository) MarkSubmitted(ctx context.Context, q Querier, id int64, at time.Time) error {
	const query = `
		UPDATE user_tasks
		SET status = $2, submitted_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, model.TaskSubmitted, at)
	if err != nil {
		return fmt.Errorf("failed to mark task submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkApproved finalizes a task: APPROVED with submitted/decided stamps.
// An earlier submitted stamp is preserved.
func (r *TaskRepository) MarkApproved(ctx context.Context, q Querier, id int64, at time.Time) error {
	const query = `
		UPDATE user_tasks
		SET status = $2, submitted_at = COALESCE(submitted_at, $3), decided_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, model.TaskApproved, at)
	if err != nil {
		return fmt.Errorf("failed to approve task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkTerminal moves a task into REJECTED or CANCELED.
func (r *TaskRepository) MarkTerminal(ctx context.Context, q Querier, id int64, status string, at time.Time) error {
	const query = `
		UPDATE user_tasks
		SET status = $2, decided_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("failed to finalize task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SumApprovedAdminRequired sums required_cash_cents over all approved ADMIN
// tasks a user ever completed. Feeds the settled display regime.
func (r *TaskRepository) SumApprovedAdminRequired(ctx context.Context, q Querier, userID int64) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(GREATEST(required_cash_cents, 0)), 0)
		FROM user_tasks
		WHERE user_id = $1 AND kind = $2 AND status = $3
	`
	var sum int64
	err := q.QueryRow(ctx, query, userID, model.TaskAdmin, model.TaskApproved).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum approved admin tasks: %w", err)
	}
	return sum, nil
}

// CountApprovedAdmin counts a user's approved ADMIN tasks.
func (r *TaskRepository) CountApprovedAdmin(ctx context.Context, q Querier, userID int64) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM user_tasks
		WHERE user_id = $1 AND kind = $2 AND status = $3
	`
	var n int
	err := q.QueryRow(ctx, query, userID, model.TaskAdmin, model.TaskApproved).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count approved admin tasks: %w", err)
	}
	return n, nil
}

// RecentTemplateIDs returns the template IDs of the user's most recent
// tasks, newest first. The spawner avoids repeating these.
func (r *TaskRepository) RecentTemplateIDs(ctx context.Context, q Querier, userID int64, limit int) ([]int64, error) {
	const query = `
		SELECT template_id
		FROM user_tasks
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent templates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan template id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recent templates: %w", err)
	}
	return ids, nil
}
