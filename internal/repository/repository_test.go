// Package repository data access tests.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"travel-task-engine/internal/model"
	"travel-task-engine/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func makeTemplate(t *testing.T, pool *pgxpool.Pool, code string, isAdmin bool, status string) *model.TaskTemplate {
	t.Helper()
	repo := NewTemplateRepository()
	price := int64(1200)
	commission := int64(145)
	tpl, err := repo.Create(context.Background(), pool, &model.TaskTemplate{
		HotelName:       "Grand Plaza " + code,
		Country:         "Thailand",
		City:            "Bangkok",
		TaskCode:        code,
		PriceCents:      &price,
		CommissionCents: &commission,
		IsAdminTask:     isAdmin,
		Status:          status,
	})
	require.NoError(t, err)
	return tpl
}

// ============================================================================
// WalletRepository Tests
// ============================================================================

func TestWalletRepository_Create(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository()
	ctx := context.Background()

	w, created, err := repo.Create(ctx, pool, 101)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(101), w.UserID)
	assert.Equal(t, int64(0), w.CashCents)
	assert.Equal(t, int64(0), w.BonusCents)
	assert.Nil(t, w.TrialBonusAt)

	// Second create returns the existing wallet.
	w, created, err = repo.Create(ctx, pool, 101)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(101), w.UserID)
}

func TestWalletRepository_GetByUserID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository()
	_, err := repo.GetByUserID(context.Background(), pool, 9999)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestWalletRepository_CreditIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	walletRepo := NewWalletRepository()
	ledgerRepo := NewLedgerRepository()
	ctx := context.Background()

	_, _, err := walletRepo.Create(ctx, pool, 101)
	require.NoError(t, err)

	applied, err := walletRepo.Credit(ctx, pool, 101, model.BucketBonus, 1200, model.KindBonus, "trial bonus", "SIGNUP_BONUS#101", nil)
	require.NoError(t, err)
	assert.True(t, applied)

	// Replay with the same ref: no second row, no second increment.
	applied, err = walletRepo.Credit(ctx, pool, 101, model.BucketBonus, 1200, model.KindBonus, "trial bonus", "SIGNUP_BONUS#101", nil)
	require.NoError(t, err)
	assert.False(t, applied)

	w, err := walletRepo.GetByUserID(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), w.BonusCents)

	entries, err := ledgerRepo.ListByWallet(ctx, pool, 101, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1200), entries[0].AmountCents)
	assert.Equal(t, model.BucketBonus, entries[0].Bucket)
	assert.Equal(t, "SIGNUP_BONUS#101", entries[0].ExternalRef)
}

func TestWalletRepository_BlankRefNotIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	walletRepo := NewWalletRepository()
	ledgerRepo := NewLedgerRepository()
	ctx := context.Background()

	_, _, err := walletRepo.Create(ctx, pool, 101)
	require.NoError(t, err)

	// Blank refs never collide, every call applies.
	for i := 0; i < 3; i++ {
		applied, err := walletRepo.Credit(ctx, pool, 101, model.BucketCash, 100, model.KindDeposit, "deposit", "", nil)
		require.NoError(t, err)
		assert.True(t, applied)
	}

	w, err := walletRepo.GetByUserID(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(300), w.CashCents)

	entries, err := ledgerRepo.ListByWallet(ctx, pool, 101, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestWalletRepository_Debit(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository()
	ctx := context.Background()

	_, _, err := repo.Create(ctx, pool, 101)
	require.NoError(t, err)

	applied, err := repo.Credit(ctx, pool, 101, model.BucketCash, 2000, model.KindDeposit, "deposit", "", nil)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = repo.Debit(ctx, pool, 101, model.BucketCash, 500, model.KindWithdraw, "withdraw", "WD#1", nil)
	require.NoError(t, err)
	assert.True(t, applied)

	// Replay of the same withdrawal is absorbed.
	applied, err = repo.Debit(ctx, pool, 101, model.BucketCash, 500, model.KindWithdraw, "withdraw", "WD#1", nil)
	require.NoError(t, err)
	assert.False(t, applied)

	w, err := repo.GetByUserID(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), w.CashCents)
}

func TestWalletRepository_RejectsBadAmounts(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository()
	ctx := context.Background()

	_, _, err := repo.Create(ctx, pool, 101)
	require.NoError(t, err)

	_, err = repo.Credit(ctx, pool, 101, model.BucketCash, 0, model.KindDeposit, "", "", nil)
	assert.Error(t, err)

	_, err = repo.Debit(ctx, pool, 101, model.BucketCash, -5, model.KindWithdraw, "", "", nil)
	assert.Error(t, err)

	_, err = repo.Credit(ctx, pool, 101, "GOLD", 100, model.KindDeposit, "", "", nil)
	assert.Error(t, err)
}

func TestWalletRepository_ClearBonus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository()
	ctx := context.Background()

	_, _, err := repo.Create(ctx, pool, 101)
	require.NoError(t, err)
	_, err = repo.Credit(ctx, pool, 101, model.BucketBonus, 1200, model.KindBonus, "trial bonus", "", nil)
	require.NoError(t, err)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	cleared, err := repo.ClearBonus(ctx, tx, 101, "cycle limit", "BONUS_CLEAR#u101c1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, int64(1200), cleared)

	w, err := repo.GetByUserID(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.BonusCents)

	// Clearing an empty bucket is a no-op.
	tx, err = pool.Begin(ctx)
	require.NoError(t, err)
	cleared, err = repo.ClearBonus(ctx, tx, 101, "cycle limit", "BONUS_CLEAR#u101c2")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, int64(0), cleared)
}

func TestWalletRepository_SetTrialBonusGranted(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository()
	ctx := context.Background()

	_, _, err := repo.Create(ctx, pool, 101)
	require.NoError(t, err)

	require.NoError(t, repo.SetTrialBonusGranted(ctx, pool, 101))
	w, err := repo.GetByUserID(ctx, pool, 101)
	require.NoError(t, err)
	require.NotNil(t, w.TrialBonusAt)
	first := *w.TrialBonusAt

	// Stamp is write-once.
	require.NoError(t, repo.SetTrialBonusGranted(ctx, pool, 101))
	w, err = repo.GetByUserID(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, first, *w.TrialBonusAt)
}

// ============================================================================
// LedgerRepository Tests
// ============================================================================

func TestLedgerRepository_SumBucketReconciles(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	walletRepo := NewWalletRepository()
	ledgerRepo := NewLedgerRepository()
	ctx := context.Background()

	_, _, err := walletRepo.Create(ctx, pool, 101)
	require.NoError(t, err)

	_, err = walletRepo.Credit(ctx, pool, 101, model.BucketCash, 2000, model.KindDeposit, "", "", nil)
	require.NoError(t, err)
	_, err = walletRepo.Debit(ctx, pool, 101, model.BucketCash, 700, model.KindWithdraw, "", "", nil)
	require.NoError(t, err)
	_, err = walletRepo.Credit(ctx, pool, 101, model.BucketBonus, 1200, model.KindBonus, "", "", nil)
	require.NoError(t, err)

	w, err := walletRepo.GetByUserID(ctx, pool, 101)
	require.NoError(t, err)

	cashSum, err := ledgerRepo.SumBucket(ctx, pool, 101, model.BucketCash)
	require.NoError(t, err)
	assert.Equal(t, w.CashCents, cashSum)

	bonusSum, err := ledgerRepo.SumBucket(ctx, pool, 101, model.BucketBonus)
	require.NoError(t, err)
	assert.Equal(t, w.BonusCents, bonusSum)
}

func TestLedgerRepository_ListByWalletAndKind(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	walletRepo := NewWalletRepository()
	ledgerRepo := NewLedgerRepository()
	ctx := context.Background()

	_, _, err := walletRepo.Create(ctx, pool, 101)
	require.NoError(t, err)

	_, err = walletRepo.Credit(ctx, pool, 101, model.BucketCash, 100, model.KindDeposit, "", "", nil)
	require.NoError(t, err)
	_, err = walletRepo.Credit(ctx, pool, 101, model.BucketCash, 145, model.KindReward, "", "", nil)
	require.NoError(t, err)
	_, err = walletRepo.Credit(ctx, pool, 101, model.BucketCash, 145, model.KindReward, "", "", nil)
	require.NoError(t, err)

	rewards, err := ledgerRepo.ListByWalletAndKind(ctx, pool, 101, model.KindReward, 10)
	require.NoError(t, err)
	assert.Len(t, rewards, 2)
	for _, e := range rewards {
		assert.Equal(t, model.KindReward, e.Kind)
	}
}

// ============================================================================
// TemplateRepository Tests
// ============================================================================

func TestTemplateRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTemplateRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "HTL001", false, model.TemplateActive)
	assert.NotZero(t, tpl.ID)

	got, err := repo.GetByID(ctx, pool, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "HTL001", got.TaskCode)
	assert.Equal(t, int64(1200), got.EffectivePriceCents(0))
	assert.Equal(t, int64(145), got.EffectiveCommissionCents(0))

	_, err = repo.GetByID(ctx, pool, 9999)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestTemplateRepository_ListActiveRegular(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTemplateRepository()
	ctx := context.Background()

	makeTemplate(t, pool, "HTL001", false, model.TemplateActive)
	makeTemplate(t, pool, "HTL002", false, model.TemplateDraft)
	makeTemplate(t, pool, "HTL003", true, model.TemplateActive)
	paused := makeTemplate(t, pool, "HTL004", false, model.TemplateActive)

	templates, err := repo.ListActiveRegular(ctx, pool)
	require.NoError(t, err)
	assert.Len(t, templates, 2)

	// Pausing removes it from the pool.
	require.NoError(t, repo.SetStatus(ctx, pool, paused.ID, model.TemplatePaused))
	templates, err = repo.ListActiveRegular(ctx, pool)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "HTL001", templates[0].TaskCode)
}

// ============================================================================
// ProgressRepository Tests
// ============================================================================

func TestProgressRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository()
	ctx := context.Background()

	p, err := repo.GetOrCreate(ctx, pool, 101, 25, 1200, 145)
	require.NoError(t, err)
	assert.Equal(t, int64(101), p.UserID)
	assert.Equal(t, 0, p.CurrentTaskIndex)
	assert.Equal(t, 25, p.LimitSnapshot)
	assert.Equal(t, 1, p.NaturalNextOrder())

	// Snapshots are not refreshed for an existing row.
	p, err = repo.GetOrCreate(ctx, pool, 101, 30, 9999, 999)
	require.NoError(t, err)
	assert.Equal(t, 25, p.LimitSnapshot)
	assert.Equal(t, int64(1200), p.PriceSnapshotCents)
}

func TestProgressRepository_Update(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository()
	ctx := context.Background()

	p, err := repo.GetOrCreate(ctx, pool, 101, 25, 1200, 145)
	require.NoError(t, err)

	p.CurrentTaskIndex = 7
	p.DividendsCents = 1015
	p.DividendsPaidCents = 290
	p.IsBlocked = true
	p.CyclesCompleted = 1
	require.NoError(t, repo.Update(ctx, pool, p))

	got, err := repo.GetByUserID(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, 7, got.CurrentTaskIndex)
	assert.Equal(t, int64(1015), got.DividendsCents)
	assert.Equal(t, int64(725), got.UnpaidDividendsCents())
	assert.True(t, got.IsBlocked)
	assert.Equal(t, 1, got.CyclesCompleted)
}

// ============================================================================
// TaskRepository Tests
// ============================================================================

func TestTaskRepository_CreateAndOpenLookup(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTaskRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "HTL001", false, model.TemplateActive)

	now := time.Now().UTC()
	task, err := repo.Create(ctx, pool, &model.UserTask{
		UserID:              101,
		TemplateID:          tpl.ID,
		CycleNumber:         0,
		OrderShown:          1,
		Kind:                model.TaskRegular,
		Status:              model.TaskInProgress,
		PriceCentsUsed:      1200,
		CommissionCentsUsed: 145,
		StartedAt:           &now,
	})
	require.NoError(t, err)
	assert.NotZero(t, task.ID)
	assert.True(t, task.IsOpen())

	open, err := repo.GetOpenByUser(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, task.ID, open.ID)

	// Regular open task is not an open admin task.
	_, err = repo.GetOpenAdminByUser(ctx, pool, 101)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = repo.GetOpenByUser(ctx, pool, 202)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskRepository_ApproveLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTaskRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "HTL001", false, model.TemplateActive)
	now := time.Now().UTC()
	task, err := repo.Create(ctx, pool, &model.UserTask{
		UserID: 101, TemplateID: tpl.ID, OrderShown: 1,
		Kind: model.TaskRegular, Status: model.TaskInProgress, StartedAt: &now,
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetProof(ctx, pool, task.ID, "booked", "https://example.com/booking/1"))
	require.NoError(t, repo.MarkApproved(ctx, pool, task.ID, now))

	got, err := repo.GetByID(ctx, pool, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskApproved, got.Status)
	assert.True(t, got.IsTerminal())
	assert.Equal(t, "booked", got.ProofText)
	require.NotNil(t, got.DecidedAt)

	// Approved tasks no longer occupy the slot.
	_, err = repo.GetOpenByUser(ctx, pool, 101)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskRepository_SumApprovedAdminRequired(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTaskRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "ADM001", true, model.TemplateActive)
	now := time.Now().UTC()

	for i, required := range []int64{500, 800} {
		task, err := repo.Create(ctx, pool, &model.UserTask{
			UserID: 101, TemplateID: tpl.ID, OrderShown: i + 1,
			Kind: model.TaskAdmin, Status: model.TaskInProgress, StartedAt: &now,
		})
		require.NoError(t, err)
		require.NoError(t, repo.SetAssignmentSnapshot(ctx, pool, task.ID, 1000, required))
		require.NoError(t, repo.MarkApproved(ctx, pool, task.ID, now))
	}

	sum, err := repo.SumApprovedAdminRequired(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(1300), sum)

	count, err := repo.CountApprovedAdmin(ctx, pool, 101)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Other users unaffected.
	sum, err = repo.SumApprovedAdminRequired(ctx, pool, 202)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)
}

func TestTaskRepository_RecentTemplateIDs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTaskRepository()
	ctx := context.Background()

	now := time.Now().UTC()
	var tpls []*model.TaskTemplate
	for i := 0; i < 3; i++ {
		tpls = append(tpls, makeTemplate(t, pool, fmt.Sprintf("HTL%03d", i+1), false, model.TemplateActive))
	}
	for i, tpl := range tpls {
		task, err := repo.Create(ctx, pool, &model.UserTask{
			UserID: 101, TemplateID: tpl.ID, OrderShown: i + 1,
			Kind: model.TaskRegular, Status: model.TaskInProgress, StartedAt: &now,
		})
		require.NoError(t, err)
		require.NoError(t, repo.MarkApproved(ctx, pool, task.ID, now))
	}

	recent, err := repo.RecentTemplateIDs(ctx, pool, 101, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	assert.Contains(t, recent, tpls[2].ID)
	assert.Contains(t, recent, tpls[1].ID)
	assert.NotContains(t, recent, tpls[0].ID)
}

// ============================================================================
// DirectiveRepository Tests
// ============================================================================

func TestDirectiveRepository_CreateSlotConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDirectiveRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "ADM001", true, model.TemplateActive)

	d, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 3, TemplateID: tpl.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.DirectivePending, d.Status)

	// Same pending slot is rejected.
	_, err = repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 3, TemplateID: tpl.ID,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)

	// Canceling frees the slot.
	require.NoError(t, repo.MarkCanceled(ctx, pool, d.ID, time.Now().UTC()))
	_, err = repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 3, TemplateID: tpl.ID,
	})
	assert.NoError(t, err)
}

func resolveSlot(t *testing.T, pool *pgxpool.Pool, userID int64, cycle, order int) (*model.ForcedTaskDirective, error) {
	t.Helper()
	ctx := context.Background()
	repo := NewDirectiveRepository()
	var d *model.ForcedTaskDirective
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var inner error
		d, inner = repo.ResolveForSlot(ctx, tx, userID, cycle, order, time.Now().UTC())
		return inner
	})
	return d, err
}

func TestDirectiveRepository_ExactMatchBeatsBacklog(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDirectiveRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "ADM001", true, model.TemplateActive)

	backlog, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 5, TemplateID: tpl.ID,
	})
	require.NoError(t, err)

	exact, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 2, TargetOrder: 5, TemplateID: tpl.ID,
	})
	require.NoError(t, err)

	// User is on cycle 2: the exact match wins even though the backlog
	// directive is older.
	got, err := resolveSlot(t, pool, 101, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, exact.ID, got.ID)

	// Consume it; the overdue backlog directive surfaces next.
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return repo.MarkConsumed(ctx, tx, exact.ID, time.Now().UTC())
	})
	require.NoError(t, err)

	got, err = resolveSlot(t, pool, 101, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, backlog.ID, got.ID)
}

func TestDirectiveRepository_BacklogIgnoresFutureCycles(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDirectiveRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "ADM001", true, model.TemplateActive)

	_, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 4, TargetOrder: 2, TemplateID: tpl.ID,
	})
	require.NoError(t, err)

	// Cycle 1: the cycle-4 directive is not yet due.
	_, err = resolveSlot(t, pool, 101, 1, 2)
	assert.ErrorIs(t, err, ErrDirectiveNotFound)

	// Different order never matches.
	_, err = resolveSlot(t, pool, 101, 4, 3)
	assert.ErrorIs(t, err, ErrDirectiveNotFound)
}

func TestDirectiveRepository_ExpiryDuringResolve(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDirectiveRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "ADM001", true, model.TemplateActive)

	past := time.Now().UTC().Add(-time.Hour)
	stale, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 1, TemplateID: tpl.ID,
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	_, err = resolveSlot(t, pool, 101, 0, 1)
	assert.ErrorIs(t, err, ErrDirectiveNotFound)

	got, err := repo.GetByID(ctx, pool, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DirectiveExpired, got.Status)
	assert.NotNil(t, got.ExpiredAt)
}

func TestDirectiveRepository_TransitionGuards(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDirectiveRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "ADM001", true, model.TemplateActive)
	d, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 1, TemplateID: tpl.ID,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, repo.MarkCanceled(ctx, pool, d.ID, now))

	// A settled directive cannot transition again.
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return repo.MarkConsumed(ctx, tx, d.ID, now)
	})
	assert.ErrorIs(t, err, ErrDirectiveNotFound)
	assert.ErrorIs(t, repo.MarkSkipped(ctx, pool, d.ID, now), ErrDirectiveNotFound)
}

func TestDirectiveRepository_SweepExpired(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDirectiveRepository()
	ctx := context.Background()

	tpl := makeTemplate(t, pool, "ADM001", true, model.TemplateActive)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	_, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 1, TemplateID: tpl.ID, ExpiresAt: &past,
	})
	require.NoError(t, err)
	keep, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 2, TemplateID: tpl.ID, ExpiresAt: &future,
	})
	require.NoError(t, err)
	forever, err := repo.Create(ctx, pool, &model.ForcedTaskDirective{
		UserID: 101, AppliesOnCycle: 0, TargetOrder: 3, TemplateID: tpl.ID,
	})
	require.NoError(t, err)

	swept, err := repo.SweepExpired(ctx, pool, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	pending, err := repo.ListPendingByUser(ctx, pool, 101)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, keep.ID, pending[0].ID)
	assert.Equal(t, forever.ID, pending[1].ID)
}
