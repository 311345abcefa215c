package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/memory"
)

func seeded(t *testing.T) (*memory.Store, domain.Ledger) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Seed(
		domain.Account{ID: "A", Balance: decimal.RequireFromString("100.00")},
		domain.Account{ID: "B", Balance: decimal.RequireFromString("50.00")},
	))
	return store, store.Ledger()
}

func TestWithTransaction_CommitAppliesStagedWrites(t *testing.T) {
	_, ledger := seeded(t)
	ctx := context.Background()

	err := ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		acc, err := ledger.Accounts.LockForUpdate(txCtx, "A")
		require.NoError(t, err)
		require.NoError(t, ledger.Accounts.SetBalance(txCtx, acc.ID, decimal.RequireFromString("70.00")))

		// Own writes are visible inside the transaction only.
		inTx, err := ledger.Accounts.GetByID(txCtx, "A")
		require.NoError(t, err)
		assert.True(t, inTx.Balance.Equal(decimal.RequireFromString("70.00")))

		outside, err := ledger.Accounts.GetByID(ctx, "A")
		require.NoError(t, err)
		assert.True(t, outside.Balance.Equal(decimal.RequireFromString("100.00")))
		return nil
	})
	require.NoError(t, err)

	acc, err := ledger.Accounts.GetByID(ctx, "A")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString("70.00")))
}

func TestWithTransaction_ErrorDiscardsStagedWrites(t *testing.T) {
	store, ledger := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := ledger.Accounts.LockForUpdate(txCtx, "A")
		require.NoError(t, err)
		require.NoError(t, ledger.Accounts.SetBalance(txCtx, "A", decimal.Zero))
		require.NoError(t, ledger.Audits.Append(txCtx, &domain.AuditEntry{Action: domain.AuditActionTransfer}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	acc, err := ledger.Accounts.GetByID(ctx, "A")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, store.TotalBalance().Equal(decimal.RequireFromString("150.00")))

	entries, err := ledger.Audits.List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTransaction_BeginFault(t *testing.T) {
	store, ledger := seeded(t)
	store.FailNext(memory.OpBegin, errors.New("connection refused"))

	called := false
	err := ledger.Tx.WithTransaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.False(t, called)
}

func TestWithTransaction_CommitFaultRollsBack(t *testing.T) {
	store, ledger := seeded(t)
	store.FailNext(memory.OpCommit, errors.New("disk full"))
	ctx := context.Background()

	err := ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := ledger.Accounts.LockForUpdate(txCtx, "B"); err != nil {
			return err
		}
		return ledger.Accounts.SetBalance(txCtx, "B", decimal.RequireFromString("1.00"))
	})
	require.Error(t, err)

	acc, err := ledger.Accounts.GetByID(ctx, "B")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString("50.00")))
}

func TestLockForUpdate_BlocksUntilHolderFinishes(t *testing.T) {
	_, ledger := seeded(t)
	ctx := context.Background()

	locked := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
			if _, err := ledger.Accounts.LockForUpdate(txCtx, "A"); err != nil {
				return err
			}
			close(locked)
			<-finish
			return nil
		})
	}()
	<-locked

	// A second transaction gives up once its context expires.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := ledger.Tx.WithTransaction(waitCtx, func(txCtx context.Context) error {
		_, err := ledger.Accounts.LockForUpdate(txCtx, "A")
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(finish)
	require.NoError(t, <-done)

	// The lock is free again once the holder commits.
	err = ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := ledger.Accounts.LockForUpdate(txCtx, "A")
		return err
	})
	require.NoError(t, err)
}

func TestLockForUpdate_MissingAccount(t *testing.T) {
	_, ledger := seeded(t)

	err := ledger.Tx.WithTransaction(context.Background(), func(txCtx context.Context) error {
		_, err := ledger.Accounts.LockForUpdate(txCtx, "missing")
		return err
	})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestWritesRequireTransactionAndLock(t *testing.T) {
	_, ledger := seeded(t)
	ctx := context.Background()

	require.Error(t, ledger.Accounts.SetBalance(ctx, "A", decimal.Zero))
	_, err := ledger.Accounts.LockForUpdate(ctx, "A")
	require.Error(t, err)

	err = ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return ledger.Accounts.SetBalance(txCtx, "A", decimal.Zero)
	})
	require.Error(t, err, "unlocked account must not be written")

	err = ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := ledger.Accounts.LockForUpdate(txCtx, "A"); err != nil {
			return err
		}
		return ledger.Accounts.SetBalance(txCtx, "A", decimal.RequireFromString("-1.00"))
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestTransferRepository_AppendAndLookup(t *testing.T) {
	_, ledger := seeded(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	records := []*domain.TransferRecord{
		{ID: uuid.New(), IdempotencyKey: "k1", SourceAccountID: "A", DestinationAccountID: "B", Amount: decimal.RequireFromString("1.00"), Status: domain.TransferStatusSuccess, CreatedAt: base},
		{ID: uuid.New(), IdempotencyKey: "k2", SourceAccountID: "B", DestinationAccountID: "C", Amount: decimal.RequireFromString("2.00"), Status: domain.TransferStatusFailed, Reason: domain.ReasonAccountNotFound, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.New(), IdempotencyKey: "k3", SourceAccountID: "C", DestinationAccountID: "D", Amount: decimal.RequireFromString("3.00"), Status: domain.TransferStatusSuccess, CreatedAt: base.Add(2 * time.Minute)},
	}
	err := ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, rec := range records {
			if err := ledger.Transfers.Append(txCtx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, err := ledger.Transfers.GetByIdempotencyKey(ctx, "k2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, records[1].ID, got.ID)

	missing, err := ledger.Transfers.GetByIdempotencyKey(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	byAccount, err := ledger.Transfers.List(ctx, domain.TransferFilter{AccountID: "B"})
	require.NoError(t, err)
	require.Len(t, byAccount, 2)
	assert.Equal(t, "k2", byAccount[0].IdempotencyKey, "newest first")
	assert.Equal(t, "k1", byAccount[1].IdempotencyKey)

	windowed, err := ledger.Transfers.List(ctx, domain.TransferFilter{
		Range: domain.TimeRange{From: base.Add(time.Minute), To: base.Add(2 * time.Minute)},
	})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "k2", windowed[0].IdempotencyKey)

	limited, err := ledger.Transfers.List(ctx, domain.TransferFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "k3", limited[0].IdempotencyKey)

	err = ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return ledger.Transfers.Append(txCtx, &domain.TransferRecord{ID: uuid.New(), IdempotencyKey: "k1", Status: domain.TransferStatusSuccess})
	})
	require.ErrorIs(t, err, domain.ErrDuplicateIdempotencyKey)
}

func TestTransferRepository_RejectsPendingRecord(t *testing.T) {
	_, ledger := seeded(t)

	err := ledger.Tx.WithTransaction(context.Background(), func(txCtx context.Context) error {
		return ledger.Transfers.Append(txCtx, &domain.TransferRecord{ID: uuid.New(), IdempotencyKey: "p", Status: domain.TransferStatusPending})
	})
	require.Error(t, err)
}

func TestAuditRepository_AssignsIDsOnCommit(t *testing.T) {
	_, ledger := seeded(t)
	ctx := context.Background()

	first := &domain.AuditEntry{Actor: "alice", Action: domain.AuditActionTransfer, Metadata: map[string]string{"from": "A"}, CreatedAt: time.Now()}
	second := &domain.AuditEntry{Actor: "bob", Action: domain.AuditActionCreateAccount, CreatedAt: time.Now()}
	err := ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := ledger.Audits.Append(txCtx, first); err != nil {
			return err
		}
		return ledger.Audits.Append(txCtx, second)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	byActor, err := ledger.Audits.List(ctx, domain.AuditFilter{Actor: "alice"})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, "A", byActor[0].Metadata["from"])

	byAction, err := ledger.Audits.List(ctx, domain.AuditFilter{Action: domain.AuditActionCreateAccount})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "bob", byAction[0].Actor)
}

func TestCreate_DuplicateAccount(t *testing.T) {
	_, ledger := seeded(t)

	err := ledger.Tx.WithTransaction(context.Background(), func(txCtx context.Context) error {
		return ledger.Accounts.Create(txCtx, &domain.Account{ID: "A", Status: domain.AccountStatusActive})
	})
	require.ErrorIs(t, err, domain.ErrDuplicateAccount)
}
