package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountRepository defines the interface for account data access operations.
// This follows the Repository pattern to abstract data persistence logic.
type AccountRepository interface {
	// GetByID retrieves an account by its identifier.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetByID(ctx context.Context, id string) (*Account, error)

	// LockForUpdate acquires an exclusive lock on the account, held until the
	// enclosing transaction ends. Blocks while another transaction holds it and
	// gives up when ctx is done. Must be called within a transaction context.
	// Returns ErrAccountNotFound if the account doesn't exist.
	LockForUpdate(ctx context.Context, id string) (*Account, error)

	// SetBalance stages a new balance within the current transaction.
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) error

	// Create inserts a new account.
	// Returns ErrDuplicateAccount if the identifier is taken.
	Create(ctx context.Context, account *Account) error

	// SetStatus changes the lifecycle status of an account.
	SetStatus(ctx context.Context, id string, status AccountStatus) error
}

// TransferRepository defines the interface for the append-only transfer log.
type TransferRepository interface {
	// Append persists a transfer record with a terminal status.
	// Returns ErrDuplicateIdempotencyKey if the key was already used.
	Append(ctx context.Context, record *TransferRecord) error

	// GetByIdempotencyKey retrieves a record by its idempotency key.
	// Returns nil if no record is found with the given key.
	GetByIdempotencyKey(ctx context.Context, key string) (*TransferRecord, error)

	// List returns records matching filter, newest first.
	List(ctx context.Context, filter TransferFilter) ([]TransferRecord, error)
}

// AuditRepository defines the interface for the append-only audit trail.
type AuditRepository interface {
	// Append persists an audit entry and assigns its ID.
	Append(ctx context.Context, entry *AuditEntry) error

	// List returns entries matching filter, newest first.
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// TransactionManager defines the interface for managing database transactions.
// This abstraction allows the service layer to work with transactions
// without being coupled to a specific database implementation.
type TransactionManager interface {
	// WithTransaction executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	// A failure to begin the transaction is wrapped with ErrStoreUnavailable.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger bundles the store collaborators consumed by the engine.
type Ledger struct {
	Accounts  AccountRepository
	Transfers TransferRepository
	Audits    AuditRepository
	Tx        TransactionManager
}

// IdempotencyCoordinator admits at most one in-flight attempt per key and
// remembers completed outcomes.
type IdempotencyCoordinator interface {
	// Admit claims key for a first attempt, or returns the stored outcome.
	// While another attempt with key is in flight, Admit waits for it.
	Admit(ctx context.Context, key string) (Admission, error)

	// Complete stores the terminal outcome for key and wakes waiters.
	Complete(ctx context.Context, key string, outcome TransferOutcome) error

	// Release drops the in-flight claim on key without storing anything,
	// so the next Admit becomes a first attempt.
	Release(ctx context.Context, key string) error
}

// Admission is the coordinator's verdict for a key.
type Admission struct {
	FirstAttempt bool
	// Outcome is the stored result when FirstAttempt is false.
	Outcome TransferOutcome
}

// EventPublisher publishes domain events to external systems (e.g. RabbitMQ).
type EventPublisher interface {
	PublishTransferCompleted(ctx context.Context, record *TransferRecord) error
}
