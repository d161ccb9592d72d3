package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"travel-task-engine/internal/model"
	"travel-task-engine/internal/repository"
)

// WalletService exposes wallet operations to collaborators (deposit and
// withdrawal rails, admin tooling). Every mutation commits the balance
// change and its ledger entry in one transaction.
type WalletService struct {
	pool       *pgxpool.Pool
	walletRepo *repository.WalletRepository
	ledgerRepo *repository.LedgerRepository

	signupBonusCents int64
}

// NewWalletService creates a new WalletService instance.
func NewWalletService(
	pool *pgxpool.Pool,
	walletRepo *repository.WalletRepository,
	ledgerRepo *repository.LedgerRepository,
	signupBonusCents int64,
) *WalletService {
	return &WalletService{
		pool:             pool,
		walletRepo:       walletRepo,
		ledgerRepo:       ledgerRepo,
		signupBonusCents: signupBonusCents,
	}
}

// EnsureWallet creates the user's wallet if missing, granting the signup
// trial bonus exactly once. Returns the wallet and whether it was created.
func (s *WalletService) EnsureWallet(ctx context.Context, userID int64) (*model.Wallet, bool, error) {
	var (
		wallet  *model.Wallet
		created bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		wallet, created, err = s.walletRepo.Create(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !created || s.signupBonusCents <= 0 {
			return nil
		}

		ref := fmt.Sprintf("SIGNUP_BONUS#%d", userID)
		applied, err := s.walletRepo.Credit(ctx, tx, userID, model.BucketBonus,
			s.signupBonusCents, model.KindBonus, "Signup trial bonus", ref, nil)
		if err != nil {
			return err
		}
		if applied {
			if err := s.walletRepo.SetTrialBonusGranted(ctx, tx, userID); err != nil {
				return err
			}
			wallet.BonusCents += s.signupBonusCents
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	if created {
		log.Info().Int64("user_id", userID).Int64("bonus_cents", s.signupBonusCents).Msg("Wallet created")
	}
	return wallet, created, nil
}

// Credit adds money to a bucket. When externalRef is non-empty the call is
// idempotent: a replay returns applied=false and changes nothing.
func (s *WalletService) Credit(ctx context.Context, userID int64, bucket string, amountCents int64, kind, memo, externalRef string) (bool, error) {
	var applied bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := s.walletRepo.GetForUpdate(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		applied, err = s.walletRepo.Credit(ctx, tx, userID, bucket, amountCents, kind, memo, externalRef, nil)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to credit wallet: %w", err)
	}
	return applied, nil
}

// Debit removes money from a bucket after verifying sufficiency under the
// row lock. Returns InsufficientFundsError with the shortfall when the
// bucket cannot cover the amount.
func (s *WalletService) Debit(ctx context.Context, userID int64, bucket string, amountCents int64, kind, memo, externalRef string) (bool, error) {
	var applied bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		w, err := s.walletRepo.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if w.BucketCents(bucket) < amountCents {
			return &InsufficientFundsError{ShortfallCents: amountCents - w.BucketCents(bucket)}
		}
		applied, err = s.walletRepo.Debit(ctx, tx, userID, bucket, amountCents, kind, memo, externalRef, nil)
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Balances retrieves the user's wallet.
func (s *WalletService) Balances(ctx context.Context, userID int64) (*model.Wallet, error) {
	w, err := s.walletRepo.GetByUserID(ctx, s.pool, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// History retrieves recent ledger entries, newest first.
func (s *WalletService) History(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	return s.ledgerRepo.ListByWallet(ctx, s.pool, userID, limit)
}

// HistoryByKind retrieves recent ledger entries of one kind, newest first.
func (s *WalletService) HistoryByKind(ctx context.Context, userID int64, kind string, limit int) ([]*model.LedgerEntry, error) {
	return s.ledgerRepo.ListByWalletAndKind(ctx, s.pool, userID, kind, limit)
}

// Reconcile checks the ledger invariant for one wallet: the sum of entries
// per bucket must equal the stored balance. A mismatch is logged at error
// level and reported; it is never corrected silently.
func (s *WalletService) Reconcile(ctx context.Context, userID int64) error {
	w, err := s.walletRepo.GetByUserID(ctx, s.pool, userID)
	if err != nil {
		return fmt.Errorf("failed to get wallet: %w", err)
	}

	for bucket, balance := range map[string]int64{
		model.BucketCash:  w.CashCents,
		model.BucketBonus: w.BonusCents,
	} {
		sum, err := s.ledgerRepo.SumBucket(ctx, s.pool, userID, bucket)
		if err != nil {
			return err
		}
		if sum != balance {
			log.Error().
				Int64("user_id", userID).
				Str("bucket", bucket).
				Int64("balance_cents", balance).
				Int64("ledger_sum_cents", sum).
				Msg("Wallet balance does not reconcile with ledger")
			return fmt.Errorf("wallet %d bucket %s does not reconcile: balance=%d ledger=%d",
				userID, bucket, balance, sum)
		}
	}
	return nil
}
