// Package model defines the data models for the task cycle and ledger engine.
package model

import "time"

// Wallet holds a user's balances in two independent buckets: real money
// (cash) and trial/promotional money (bonus). Balances change only through
// ledger credit/debit operations so that the ledger always reconciles.
type Wallet struct {
	UserID       int64      `db:"user_id"`
	CashCents    int64      `db:"cash_cents"`
	BonusCents   int64      `db:"bonus_cents"`
	PendingCents int64      `db:"pending_cents"`
	TrialBonusAt *time.Time `db:"trial_bonus_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// TotalCents returns cash + bonus.
func (w *Wallet) TotalCents() int64 {
	return w.CashCents + w.BonusCents
}

// BucketCents returns the balance of the given bucket.
func (w *Wallet) BucketCents(bucket string) int64 {
	if bucket == BucketBonus {
		return w.BonusCents
	}
	return w.CashCents
}

// LedgerEntry is an immutable append-only row recording one wallet movement.
// Positive amount = credit, negative = debit. ExternalRef, when non-empty,
// is unique per wallet and makes the operation idempotent.
type LedgerEntry struct {
	ID          int64     `db:"id"`
	WalletID    int64     `db:"wallet_id"`
	AmountCents int64     `db:"amount_cents"`
	Kind        string    `db:"kind"`
	Bucket      string    `db:"bucket"`
	Memo        string    `db:"memo"`
	ExternalRef string    `db:"external_ref"`
	CreatedAt   time.Time `db:"created_at"`
	CreatedBy   *int64    `db:"created_by"`
}

// Wallet buckets.
const (
	BucketCash  = "CASH"
	BucketBonus = "BONUS"
)

// Ledger entry kinds.
const (
	KindBonus    = "BONUS"    // trial bonus grant or clearing
	KindDeposit  = "DEPOSIT"  // external money in
	KindWithdraw = "WITHDRAW" // external money out
	KindAdjust   = "ADJUST"   // manual admin correction
	KindReward   = "REWARD"   // task commission payout
)

// TaskTemplate is a catalog entry describing one bookable hotel task.
// Price and commission may be nil, in which case the per-cycle settings
// snapshot supplies the values.
type TaskTemplate struct {
	ID              int64     `db:"id"`
	HotelName       string    `db:"hotel_name"`
	Country         string    `db:"country"`
	City            string    `db:"city"`
	TaskCode        string    `db:"task_code"`
	PriceCents      *int64    `db:"price_cents"`
	CommissionCents *int64    `db:"commission_cents"`
	Score           *float64  `db:"score"`
	Label           string    `db:"label"`
	IsAdminTask     bool      `db:"is_admin_task"`
	Status          string    `db:"status"`
	CreatedBy       *int64    `db:"created_by"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Template publish states.
const (
	TemplateDraft    = "DRAFT"
	TemplateActive   = "ACTIVE"
	TemplatePaused   = "PAUSED"
	TemplateArchived = "ARCHIVED"
)

// Template labels.
const (
	LabelPerfect = "PERFECT"
	LabelGood    = "GOOD"
	LabelMedium  = "MEDIUM"
)

// EffectivePriceCents returns the template price, falling back to the given
// default when the template does not set one.
func (t *TaskTemplate) EffectivePriceCents(defaultCents int64) int64 {
	if t.PriceCents != nil {
		return *t.PriceCents
	}
	return defaultCents
}

// EffectiveCommissionCents returns the template commission, falling back to
// the given default when the template does not set one.
func (t *TaskTemplate) EffectiveCommissionCents(defaultCents int64) int64 {
	if t.CommissionCents != nil {
		return *t.CommissionCents
	}
	return defaultCents
}

// UserTask is one spawned task instance. Economics are snapshotted at spawn
// time and never re-read from the template.
type UserTask struct {
	ID          int64  `db:"id"`
	UserID      int64  `db:"user_id"`
	TemplateID  int64  `db:"template_id"`
	CycleNumber int    `db:"cycle_number"`
	OrderShown  int    `db:"order_shown"` // 1-based position within the cycle
	Kind        string `db:"kind"`
	Status      string `db:"status"`

	PriceCentsUsed      int64 `db:"price_cents_used"`
	CommissionCentsUsed int64 `db:"commission_cents_used"`

	// ADMIN snapshots: the user's display total when the task was assigned
	// and the cash shortfall they must deposit before it can complete.
	AssignmentTotalDisplayCents int64 `db:"assignment_total_display_cents"`
	RequiredCashCents           int64 `db:"required_cash_cents"`

	ProofText string `db:"proof_text"`
	ProofLink string `db:"proof_link"`

	CreatedAt   time.Time  `db:"created_at"`
	StartedAt   *time.Time `db:"started_at"`
	SubmittedAt *time.Time `db:"submitted_at"`
	DecidedAt   *time.Time `db:"decided_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Task lifecycle states.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskSubmitted  = "SUBMITTED"
	TaskApproved   = "APPROVED"
	TaskRejected   = "REJECTED"
	TaskCanceled   = "CANCELED"
)

// Task kinds.
const (
	TaskRegular = "REGULAR"
	TaskAdmin   = "ADMIN" // requires wallet CASH >= price to complete
)

// IsTerminal reports whether the task can no longer transition.
func (t *UserTask) IsTerminal() bool {
	switch t.Status {
	case TaskApproved, TaskRejected, TaskCanceled:
		return true
	}
	return false
}

// IsOpen reports whether the task is currently occupying the user's slot.
func (t *UserTask) IsOpen() bool {
	return t.Status == TaskInProgress || t.Status == TaskSubmitted
}

// UserTaskProgress tracks a user's position within the current cycle and
// snapshots the cycle economics from the engine settings at cycle start.
type UserTaskProgress struct {
	UserID           int64 `db:"user_id"`
	CyclesCompleted  int   `db:"cycles_completed"`
	CurrentTaskIndex int   `db:"current_task_index"` // 0-based; next visible order = index + 1
	IsBlocked        bool  `db:"is_blocked"`

	LimitSnapshot           int   `db:"limit_snapshot"`
	PriceSnapshotCents      int64 `db:"price_snapshot_cents"`
	CommissionSnapshotCents int64 `db:"commission_snapshot_cents"`

	DividendsCents     int64 `db:"dividends_cents"`      // cumulative commissions earned
	DividendsPaidCents int64 `db:"dividends_paid_cents"` // portion reflected in a real payout

	LastWithdrawCycle int `db:"last_withdraw_cycle"`

	LastResetAt *time.Time `db:"last_reset_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// NaturalNextOrder is the 1-based order of the next task the user should see.
func (p *UserTaskProgress) NaturalNextOrder() int {
	return p.CurrentTaskIndex + 1
}

// UnpaidDividendsCents is the portion of earned commissions not yet reflected
// in a real balance increase, with the paid counter clamped to its invariant
// range 0 <= paid <= dividends.
func (p *UserTaskProgress) UnpaidDividendsCents() int64 {
	paid := p.DividendsPaidCents
	if paid < 0 {
		paid = 0
	}
	if paid > p.DividendsCents {
		paid = p.DividendsCents
	}
	return p.DividendsCents - paid
}

// ForcedTaskDirective is an admin-authored override forcing a specific
// template into a specific (cycle, order) slot for one user.
type ForcedTaskDirective struct {
	ID             int64  `db:"id"`
	UserID         int64  `db:"user_id"`
	AppliesOnCycle int    `db:"applies_on_cycle"`
	TargetOrder    int    `db:"target_order"` // 1-based order to serve when eligible
	TemplateID     int64  `db:"template_id"`
	Status         string `db:"status"`

	ExpiresAt *time.Time `db:"expires_at"`
	BatchID   string     `db:"batch_id"`
	Reason    string     `db:"reason"`
	CreatedBy *int64     `db:"created_by"`

	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	ConsumedAt *time.Time `db:"consumed_at"`
	CanceledAt *time.Time `db:"canceled_at"`
	ExpiredAt  *time.Time `db:"expired_at"`
	SkippedAt  *time.Time `db:"skipped_at"`
}

// Directive states.
const (
	DirectivePending  = "PENDING"
	DirectiveConsumed = "CONSUMED"
	DirectiveCanceled = "CANCELED"
	DirectiveExpired  = "EXPIRED"
	DirectiveSkipped  = "SKIPPED" // target order already behind the user's position
)
