package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"travel-task-engine/internal/model"
)

// WalletRepository handles wallet and ledger persistence. Balances are only
// ever changed together with an appended ledger entry so that the sum of
// entries per bucket always equals the bucket balance.
type WalletRepository struct{}

// NewWalletRepository creates a new WalletRepository instance.
func NewWalletRepository() *WalletRepository {
	return &WalletRepository{}
}

const walletColumns = `user_id, cash_cents, bonus_cents, pending_cents, trial_bonus_at, created_at, updated_at`

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var w model.Wallet
	err := row.Scan(
		&w.UserID,
		&w.CashCents,
		&w.BonusCents,
		&w.PendingCents,
		&w.TrialBonusAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	return &w, nil
}

// Create inserts a wallet for the user. Returns the wallet and whether a new
// row was created (false when one already existed).
func (r *WalletRepository) Create(ctx context.Context, q Querier, userID int64) (*model.Wallet, bool, error) {
	const insert = `
		INSERT INTO wallets (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING ` + walletColumns

	w, err := scanWallet(q.QueryRow(ctx, insert, userID))
	if err == nil {
		return w, true, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, false, fmt.Errorf("failed to create wallet: %w", err)
	}

	// Conflict: the wallet already exists.
	w, err = r.GetByUserID(ctx, q, userID)
	if err != nil {
		return nil, false, err
	}
	return w, false, nil
}

// GetByUserID retrieves a wallet by user ID.
func (r *WalletRepository) GetByUserID(ctx context.Context, q Querier, userID int64) (*model.Wallet, error) {
	const query = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return scanWallet(q.QueryRow(ctx, query, userID))
}

// GetForUpdate retrieves a wallet and row-locks it for the duration of the
// caller's transaction.
func (r *WalletRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*model.Wallet, error) {
	const query = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	return scanWallet(tx.QueryRow(ctx, query, userID))
}

// SetTrialBonusGranted stamps the trial bonus grant time.
func (r *WalletRepository) SetTrialBonusGranted(ctx context.Context, q Querier, userID int64) error {
	const query = `
		UPDATE wallets
		SET trial_bonus_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND trial_bonus_at IS NULL
	`
	if _, err := q.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to stamp trial bonus: %w", err)
	}
	return nil
}

// Credit increments the given bucket and appends a ledger entry. When
// externalRef is non-empty and an entry with that ref already exists for
// the wallet, nothing happens and applied is false (idempotent replay).
// Must run inside the caller's transaction.
func (r *WalletRepository) Credit(ctx context.Context, q Querier, walletID int64, bucket string, amountCents int64, kind, memo, externalRef string, createdBy *int64) (bool, error) {
	if amountCents <= 0 {
		return false, fmt.Errorf("credit requires a positive amount, got %d", amountCents)
	}
	return r.apply(ctx, q, walletID, bucket, amountCents, kind, memo, externalRef, createdBy)
}

// Debit decrements the given bucket and appends a negative ledger entry.
// Sufficiency is the caller's responsibility: insufficiency policy differs
// between regular-task eligibility, withdrawals, and admin-task solvency.
func (r *WalletRepository) Debit(ctx context.Context, q Querier, walletID int64, bucket string, amountCents int64, kind, memo, externalRef string, createdBy *int64) (bool, error) {
	if amountCents <= 0 {
		return false, fmt.Errorf("debit requires a positive amount, got %d", amountCents)
	}
	return r.apply(ctx, q, walletID, bucket, -amountCents, kind, memo, externalRef, createdBy)
}

// apply appends the ledger entry first; the partial unique index on
// (wallet_id, external_ref) turns a replay into zero inserted rows, in
// which case the balance is left untouched.
func (r *WalletRepository) apply(ctx context.Context, q Querier, walletID int64, bucket string, signedCents int64, kind, memo, externalRef string, createdBy *int64) (bool, error) {
	if bucket != model.BucketCash && bucket != model.BucketBonus {
		return false, fmt.Errorf("unknown wallet bucket %q", bucket)
	}

	const insert = `
		INSERT INTO ledger_entries (wallet_id, amount_cents, kind, bucket, memo, external_ref, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (wallet_id, external_ref) WHERE external_ref <> '' DO NOTHING
	`
	tag, err := q.Exec(ctx, insert, walletID, signedCents, kind, bucket, memo, externalRef, createdBy)
	if err != nil {
		return false, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	var update string
	if bucket == model.BucketCash {
		update = `UPDATE wallets SET cash_cents = cash_cents + $2, updated_at = NOW() WHERE user_id = $1`
	} else {
		update = `UPDATE wallets SET bonus_cents = bonus_cents + $2, updated_at = NOW() WHERE user_id = $1`
	}
	tag, err = q.Exec(ctx, update, walletID, signedCents)
	if err != nil {
		return false, fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrWalletNotFound
	}
	return true, nil
}

// ClearBonus zeroes the bonus bucket with a matching ledger entry and
// returns the cleared amount. No-op when the bucket is already empty or the
// externalRef was seen before.
func (r *WalletRepository) ClearBonus(ctx context.Context, tx pgx.Tx, walletID int64, memo, externalRef string) (int64, error) {
	w, err := r.GetForUpdate(ctx, tx, walletID)
	if err != nil {
		return 0, err
	}
	if w.BonusCents <= 0 {
		return 0, nil
	}
	applied, err := r.Debit(ctx, tx, walletID, model.BucketBonus, w.BonusCents, model.KindBonus, memo, externalRef, nil)
	if err != nil {
		return 0, err
	}
	if !applied {
		return 0, nil
	}
	return w.BonusCents, nil
}
