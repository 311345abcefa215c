package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// txKey is the key type for storing transaction in context.
type txKey struct{}

// tx is one unit of work: the locks it owns and the writes it has staged.
type tx struct {
	held      map[string]chan struct{}
	balances  map[string]decimal.Decimal
	statuses  map[string]domain.AccountStatus
	touched   map[string]time.Time
	created   []*domain.Account
	transfers []domain.TransferRecord
	audits    []*domain.AuditEntry
}

func newTx() *tx {
	return &tx{
		held:     make(map[string]chan struct{}),
		balances: make(map[string]decimal.Decimal),
		statuses: make(map[string]domain.AccountStatus),
		touched:  make(map[string]time.Time),
	}
}

// release frees every lock the transaction owns.
func (t *tx) release() {
	for id, l := range t.held {
		<-l
		delete(t.held, id)
	}
}

// overlay applies the staged writes of t to a committed copy of an account.
func (t *tx) overlay(acc *domain.Account) {
	if balance, ok := t.balances[acc.ID]; ok {
		acc.Balance = balance
	}
	if status, ok := t.statuses[acc.ID]; ok {
		acc.Status = status
	}
	if ts, ok := t.touched[acc.ID]; ok {
		acc.UpdatedAt = ts
	}
}

func (t *tx) createdAccount(id string) *domain.Account {
	for _, acc := range t.created {
		if acc.ID == id {
			copyAcc := *acc
			return &copyAcc
		}
	}
	return nil
}

// getTx retrieves the transaction from context.
// If no transaction is found, returns nil.
func getTx(ctx context.Context) *tx {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return t
	}
	return nil
}

// TransactionManager implements domain.TransactionManager for the in-memory store.
type TransactionManager struct {
	store *Store
}

// NewTransactionManager creates a new TransactionManager.
func NewTransactionManager(store *Store) *TransactionManager {
	return &TransactionManager{store: store}
}

// WithTransaction executes fn within a unit of work. Staged writes are applied
// only when fn returns nil and the commit succeeds; locks are released on
// every exit path, panics included.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := tm.store.fault(OpBegin); err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", domain.ErrStoreUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := newTx()
	defer t.release()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}

	if err := tm.store.fault(OpCommit); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if err := tm.store.commit(t); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
