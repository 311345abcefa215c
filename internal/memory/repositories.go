package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// AccountRepository implements domain.AccountRepository over a Store.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// GetByID retrieves an account. Inside a transaction the account reflects the
// transaction's own staged writes.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	t := getTx(ctx)
	acc := r.store.committedAccount(id)
	if acc == nil && t != nil {
		acc = t.createdAccount(id)
	}
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	if t != nil {
		t.overlay(acc)
	}
	return acc, nil
}

// LockForUpdate acquires the account's lock for the current transaction.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	t := getTx(ctx)
	if t == nil {
		return nil, errNoTransaction
	}
	if err := r.store.fault(OpLock); err != nil {
		return nil, err
	}

	if _, held := t.held[id]; !held {
		if r.store.committedAccount(id) == nil {
			if acc := t.createdAccount(id); acc != nil {
				return acc, nil
			}
			return nil, domain.ErrAccountNotFound
		}

		l := r.store.getAccountLock(id)
		select {
		case l <- struct{}{}:
			t.held[id] = l
		case <-ctx.Done():
			return nil, fmt.Errorf("lock wait on account %s: %w", id, ctx.Err())
		}
	}

	return r.GetByID(ctx, id)
}

// SetBalance stages a new balance. The account must be locked by the transaction.
func (r *AccountRepository) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	t := getTx(ctx)
	if t == nil {
		return errNoTransaction
	}
	if _, held := t.held[id]; !held {
		return fmt.Errorf("memory store: account %s is not locked by this transaction", id)
	}
	if err := domain.ValidateBalance(balance); err != nil {
		return err
	}
	if err := r.store.fault(OpSetBalance); err != nil {
		return err
	}

	t.balances[id] = balance
	t.touched[id] = time.Now()
	return nil
}

// Create stages a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	t := getTx(ctx)
	if t == nil {
		return errNoTransaction
	}
	if r.store.committedAccount(account.ID) != nil || t.createdAccount(account.ID) != nil {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateAccount, account.ID)
	}

	copyAcc := *account
	t.created = append(t.created, &copyAcc)
	return nil
}

// SetStatus stages a status change. The account must be locked by the transaction.
func (r *AccountRepository) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	t := getTx(ctx)
	if t == nil {
		return errNoTransaction
	}
	if _, held := t.held[id]; !held {
		return fmt.Errorf("memory store: account %s is not locked by this transaction", id)
	}

	t.statuses[id] = status
	t.touched[id] = time.Now()
	return nil
}

// TransferRepository implements domain.TransferRepository over a Store.
type TransferRepository struct {
	store *Store
}

// NewTransferRepository creates a new TransferRepository.
func NewTransferRepository(store *Store) *TransferRepository {
	return &TransferRepository{store: store}
}

// Append stages a terminal transfer record.
func (r *TransferRepository) Append(ctx context.Context, record *domain.TransferRecord) error {
	t := getTx(ctx)
	if t == nil {
		return errNoTransaction
	}
	if !record.Status.Terminal() {
		return fmt.Errorf("memory store: transfer %s has non-terminal status %s", record.ID, record.Status)
	}
	if err := r.store.fault(OpAppendTransfer); err != nil {
		return err
	}

	existing, err := r.GetByIdempotencyKey(ctx, record.IdempotencyKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, record.IdempotencyKey)
	}

	t.transfers = append(t.transfers, *record)
	return nil
}

// GetByIdempotencyKey retrieves a record by its idempotency key.
func (r *TransferRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error) {
	if t := getTx(ctx); t != nil {
		for i := range t.transfers {
			if t.transfers[i].IdempotencyKey == key {
				rec := t.transfers[i]
				return &rec, nil
			}
		}
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	idx, ok := r.store.byKey[key]
	if !ok {
		return nil, nil
	}
	rec := r.store.transfers[idx]
	return &rec, nil
}

// List returns committed records matching filter, newest first.
func (r *TransferRepository) List(ctx context.Context, filter domain.TransferFilter) ([]domain.TransferRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	var out []domain.TransferRecord
	for _, rec := range r.store.transfers {
		if filter.AccountID != "" && rec.SourceAccountID != filter.AccountID && rec.DestinationAccountID != filter.AccountID {
			continue
		}
		if !filter.Range.Contains(rec.CreatedAt) {
			continue
		}
		out = append(out, rec)
	}
	r.store.mu.RUnlock()

	newestFirst(out, func(rec domain.TransferRecord) int64 { return rec.CreatedAt.UnixNano() })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AuditRepository implements domain.AuditRepository over a Store.
type AuditRepository struct {
	store *Store
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(store *Store) *AuditRepository {
	return &AuditRepository{store: store}
}

// Append stages an audit entry. Its ID is assigned on commit.
func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	t := getTx(ctx)
	if t == nil {
		return errNoTransaction
	}
	if err := r.store.fault(OpAppendAudit); err != nil {
		return err
	}

	metadata := make(map[string]string, len(entry.Metadata))
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	entry.Metadata = metadata
	t.audits = append(t.audits, entry)
	return nil
}

// List returns committed entries matching filter, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	var out []domain.AuditEntry
	for _, entry := range r.store.audits {
		if filter.Actor != "" && entry.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.Range.Contains(entry.CreatedAt) {
			continue
		}
		out = append(out, entry)
	}
	r.store.mu.RUnlock()

	newestFirst(out, func(entry domain.AuditEntry) int64 { return entry.CreatedAt.UnixNano() })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
