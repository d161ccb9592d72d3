package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"travel-task-engine/internal/model"
)

// LedgerRepository reads the append-only ledger. Entries are written only
// through WalletRepository credit/debit; nothing here mutates.
type LedgerRepository struct{}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{}
}

const ledgerColumns = `id, wallet_id, amount_cents, kind, bucket, memo, external_ref, created_at, created_by`

func scanLedgerRows(rows pgx.Rows) ([]*model.LedgerEntry, error) {
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		err := rows.Scan(
			&e.ID,
			&e.WalletID,
			&e.AmountCents,
			&e.Kind,
			&e.Bucket,
			&e.Memo,
			&e.ExternalRef,
			&e.CreatedAt,
			&e.CreatedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}

// ListByWallet retrieves recent entries for a wallet, newest first.
func (r *LedgerRepository) ListByWallet(ctx context.Context, q Querier, walletID int64, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := q.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return scanLedgerRows(rows)
}

// ListByWalletAndKind retrieves recent entries of one kind, newest first.
func (r *LedgerRepository) ListByWalletAndKind(ctx context.Context, q Querier, walletID int64, kind string, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1 AND kind = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := q.Query(ctx, query, walletID, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return scanLedgerRows(rows)
}

// SumBucket returns the signed sum of all entries for one wallet bucket.
// Used by the reconciliation check: the result must equal the bucket balance.
func (r *LedgerRepository) SumBucket(ctx context.Context, q Querier, walletID int64, bucket string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM ledger_entries
		WHERE wallet_id = $1 AND bucket = $2
	`
	var sum int64
	if err := q.QueryRow(ctx, query, walletID, bucket).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum ledger bucket: %w", err)
	}
	return sum, nil
}
