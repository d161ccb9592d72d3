package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the engine tables in dependency order. Statements are
// idempotent so Migrate can run at every startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		user_id        BIGINT PRIMARY KEY,
		cash_cents     BIGINT NOT NULL DEFAULT 0,
		bonus_cents    BIGINT NOT NULL DEFAULT 0,
		pending_cents  BIGINT NOT NULL DEFAULT 0,
		trial_bonus_at TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id           BIGSERIAL PRIMARY KEY,
		wallet_id    BIGINT NOT NULL REFERENCES wallets(user_id) ON DELETE CASCADE,
		amount_cents BIGINT NOT NULL,
		kind         VARCHAR(20) NOT NULL,
		bucket       VARCHAR(10) NOT NULL DEFAULT 'CASH',
		memo         VARCHAR(255) NOT NULL DEFAULT '',
		external_ref VARCHAR(64) NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_by   BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_wallet_created
		ON ledger_entries (wallet_id, created_at DESC)`,
	// Non-blank external refs are unique per wallet; blank rows may repeat.
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_ledger_wallet_external_ref
		ON ledger_entries (wallet_id, external_ref)
		WHERE external_ref <> ''`,

	`CREATE TABLE IF NOT EXISTS task_templates (
		id               BIGSERIAL PRIMARY KEY,
		hotel_name       VARCHAR(160) NOT NULL,
		country          VARCHAR(64) NOT NULL DEFAULT '',
		city             VARCHAR(64) NOT NULL DEFAULT '',
		task_code        VARCHAR(24) NOT NULL UNIQUE,
		price_cents      BIGINT,
		commission_cents BIGINT,
		score            DOUBLE PRECISION,
		label            VARCHAR(12) NOT NULL DEFAULT '',
		is_admin_task    BOOLEAN NOT NULL DEFAULT FALSE,
		status           VARCHAR(10) NOT NULL DEFAULT 'DRAFT',
		created_by       BIGINT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_templates_status
		ON task_templates (status)`,

	`CREATE TABLE IF NOT EXISTS user_tasks (
		id                             BIGSERIAL PRIMARY KEY,
		user_id                        BIGINT NOT NULL,
		template_id                    BIGINT NOT NULL REFERENCES task_templates(id),
		cycle_number                   INT NOT NULL DEFAULT 0,
		order_shown                    INT NOT NULL,
		kind                           VARCHAR(12) NOT NULL DEFAULT 'REGULAR',
		status                         VARCHAR(12) NOT NULL DEFAULT 'IN_PROGRESS',
		price_cents_used               BIGINT NOT NULL DEFAULT 0,
		commission_cents_used          BIGINT NOT NULL DEFAULT 0,
		assignment_total_display_cents BIGINT NOT NULL DEFAULT 0,
		required_cash_cents            BIGINT NOT NULL DEFAULT 0,
		proof_text                     TEXT NOT NULL DEFAULT '',
		proof_link                     TEXT NOT NULL DEFAULT '',
		created_at                     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at                     TIMESTAMPTZ,
		submitted_at                   TIMESTAMPTZ,
		decided_at                     TIMESTAMPTZ,
		updated_at                     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tasks_user_cycle
		ON user_tasks (user_id, cycle_number)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tasks_user_status
		ON user_tasks (user_id, status)`,

	`CREATE TABLE IF NOT EXISTS user_task_progress (
		user_id                   BIGINT PRIMARY KEY,
		cycles_completed          INT NOT NULL DEFAULT 0,
		current_task_index        INT NOT NULL DEFAULT 0,
		is_blocked                BOOLEAN NOT NULL DEFAULT FALSE,
		limit_snapshot            INT NOT NULL DEFAULT 25,
		price_snapshot_cents      BIGINT NOT NULL DEFAULT 1200,
		commission_snapshot_cents BIGINT NOT NULL DEFAULT 145,
		dividends_cents           BIGINT NOT NULL DEFAULT 0,
		dividends_paid_cents      BIGINT NOT NULL DEFAULT 0,
		last_withdraw_cycle       INT NOT NULL DEFAULT 0,
		last_reset_at             TIMESTAMPTZ,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS forced_task_directives (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL,
		applies_on_cycle INT NOT NULL,
		target_order     INT NOT NULL,
		template_id      BIGINT NOT NULL REFERENCES task_templates(id),
		status           VARCHAR(10) NOT NULL DEFAULT 'PENDING',
		expires_at       TIMESTAMPTZ,
		batch_id         VARCHAR(64) NOT NULL DEFAULT '',
		reason           VARCHAR(255) NOT NULL DEFAULT '',
		created_by       BIGINT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		consumed_at      TIMESTAMPTZ,
		canceled_at      TIMESTAMPTZ,
		expired_at       TIMESTAMPTZ,
		skipped_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_directives_user_cycle_status
		ON forced_task_directives (user_id, applies_on_cycle, status)`,
	`CREATE INDEX IF NOT EXISTS idx_directives_expires
		ON forced_task_directives (expires_at)`,
	// One pending directive per slot.
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_directive_pending_slot
		ON forced_task_directives (user_id, applies_on_cycle, target_order)
		WHERE status = 'PENDING'`,
}

// Migrate applies the engine schema. Safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
