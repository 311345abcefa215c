// Package memory provides an in-memory ledger store.
//
// Row locks are emulated with an ownership lock table: one single-slot
// semaphore per account, held by a transaction until it commits or rolls
// back. Writes are staged per transaction and applied in one critical section
// on commit, so no other transaction can observe a partial transfer.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// Op names a store operation that can be made to fail.
type Op string

const (
	OpBegin          Op = "begin"
	OpLock           Op = "lock"
	OpSetBalance     Op = "set_balance"
	OpAppendTransfer Op = "append_transfer"
	OpAppendAudit    Op = "append_audit"
	OpCommit         Op = "commit"
)

var errNoTransaction = errors.New("memory store: operation requires a transaction")

// Store holds committed accounts, transfer records and audit entries.
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*domain.Account
	transfers   []domain.TransferRecord
	byKey       map[string]int
	audits      []domain.AuditEntry
	nextAuditID int64

	locksMu   sync.Mutex
	acctLocks map[string]chan struct{}

	faultsMu sync.Mutex
	faults   map[Op][]error
}

// NewStore creates a new in-memory data store.
func NewStore() *Store {
	return &Store{
		accounts:  make(map[string]*domain.Account),
		byKey:     make(map[string]int),
		acctLocks: make(map[string]chan struct{}),
		faults:    make(map[Op][]error),
	}
}

// Ledger returns the store's repositories bundled for the domain services.
func (s *Store) Ledger() domain.Ledger {
	return domain.Ledger{
		Accounts:  NewAccountRepository(s),
		Transfers: NewTransferRepository(s),
		Audits:    NewAuditRepository(s),
		Tx:        NewTransactionManager(s),
	}
}

// Seed inserts committed accounts directly, bypassing locks and audit.
// Intended for tests and fixtures.
func (s *Store) Seed(accounts ...domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range accounts {
		acc := accounts[i]
		if _, ok := s.accounts[acc.ID]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAccount, acc.ID)
		}
		if acc.Status == "" {
			acc.Status = domain.AccountStatusActive
		}
		s.accounts[acc.ID] = &acc
	}
	return nil
}

// TotalBalance sums all committed balances.
func (s *Store) TotalBalance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, acc := range s.accounts {
		total = total.Add(acc.Balance)
	}
	return total
}

// FailNext makes the next call of op return err. Calls queue up per op.
func (s *Store) FailNext(op Op, err error) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *Store) fault(op Op) error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()

	queued := s.faults[op]
	if len(queued) == 0 {
		return nil
	}
	s.faults[op] = queued[1:]
	return queued[0]
}

func (s *Store) getAccountLock(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.acctLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.acctLocks[id] = l
	}
	return l
}

// committedAccount returns a copy of the committed account, or nil.
func (s *Store) committedAccount(id string) *domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil
	}
	copyAcc := *acc
	return &copyAcc
}

// commit applies the staged writes of t atomically.
func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range t.created {
		if _, ok := s.accounts[acc.ID]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAccount, acc.ID)
		}
	}
	for _, rec := range t.transfers {
		if _, ok := s.byKey[rec.IdempotencyKey]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, rec.IdempotencyKey)
		}
	}

	for _, acc := range t.created {
		copyAcc := *acc
		s.accounts[acc.ID] = &copyAcc
	}
	for id, balance := range t.balances {
		acc := s.accounts[id]
		acc.Balance = balance
		acc.UpdatedAt = t.touched[id]
	}
	for id, status := range t.statuses {
		acc := s.accounts[id]
		acc.Status = status
		acc.UpdatedAt = t.touched[id]
	}
	for _, rec := range t.transfers {
		s.byKey[rec.IdempotencyKey] = len(s.transfers)
		s.transfers = append(s.transfers, rec)
	}
	for _, entry := range t.audits {
		s.nextAuditID++
		entry.ID = s.nextAuditID
		s.audits = append(s.audits, *entry)
	}
	return nil
}

// newestFirst sorts by creation time descending, keeping insertion order reversed on ties.
func newestFirst[T any](items []T, createdAt func(T) int64) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	sort.SliceStable(items, func(i, j int) bool {
		return createdAt(items[i]) > createdAt(items[j])
	})
}
