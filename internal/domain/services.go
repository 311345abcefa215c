package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds is returned when the source doesn't have enough balance
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned when the transfer amount is not a positive 2-decimal value
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTransfer is returned when source and destination are missing or the same
	ErrInvalidTransfer = errors.New("invalid transfer")

	// ErrDuplicateAccount is returned when an account identifier is already taken
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrDuplicateIdempotencyKey is returned when a transfer record with the key already exists
	ErrDuplicateIdempotencyKey = errors.New("transfer with idempotency key already exists")

	// ErrStoreUnavailable is returned when no transaction could be started
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrCoordinatorUnavailable is returned when the idempotency coordinator cannot be reached
	ErrCoordinatorUnavailable = errors.New("idempotency coordinator unavailable")
)

// Remarks written on transfer records.
const (
	remarkSuccess              = "Internal transfer"
	remarkSourceNotFound       = "source_account_not_found"
	remarkDestinationNotFound  = "destination_account_not_found"
	remarkSourceNotActive      = "source_account_not_active"
	remarkDestinationNotActive = "destination_account_not_active"
	remarkInsufficientFunds    = "insufficient_funds"
)

const (
	defaultCurrency       = "INR"
	defaultPublishTimeout = 5 * time.Second
)

// TransferEngine validates, locks, mutates and records single transfers.
// It is safe for concurrent use; the only shared state lives in the
// coordinator and the ledger store.
type TransferEngine struct {
	ledger         Ledger
	coordinator    IdempotencyCoordinator
	eventPublisher EventPublisher
	logger         *zap.Logger
	currency       string
	lockTimeout    time.Duration
	now            func() time.Time
	newID          func() uuid.UUID
}

// Option configures a TransferEngine.
type Option func(*TransferEngine)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *TransferEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPublisher emits a transfer.completed event after every successful commit.
func WithPublisher(publisher EventPublisher) Option {
	return func(e *TransferEngine) { e.eventPublisher = publisher }
}

// WithCurrency sets the currency recorded on transfers.
func WithCurrency(code string) Option {
	return func(e *TransferEngine) { e.currency = code }
}

// WithLockTimeout bounds the whole unit of work, lock waits included.
// When it expires the transaction is rolled back and the outcome is internal_error.
func WithLockTimeout(d time.Duration) Option {
	return func(e *TransferEngine) { e.lockTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *TransferEngine) { e.now = now }
}

// WithIDGenerator replaces uuid.New for transaction identifiers.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(e *TransferEngine) { e.newID = newID }
}

// NewTransferEngine creates a new TransferEngine.
// Pass nil for coordinator to rely only on the ledger's idempotency key lookup.
func NewTransferEngine(ledger Ledger, coordinator IdempotencyCoordinator, opts ...Option) *TransferEngine {
	e := &TransferEngine{
		ledger:      ledger,
		coordinator: coordinator,
		logger:      zap.NewNop(),
		currency:    defaultCurrency,
		now:         time.Now,
		newID:       uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer moves req.Amount from the source to the destination account.
//
// Caller-contract violations (ErrInvalidAmount, ErrInvalidTransfer) are returned
// before anything is written. Business failures come back as a FAILED outcome
// with a nil error and a committed FAILED record. Storage faults inside the unit
// of work roll everything back and come back as FAILED/internal_error with a nil
// error; the caller may retry with the same idempotency key. Only an unreachable
// store or coordinator yields a non-nil error.
//
// Repeating a call with the same idempotency key returns the first outcome
// verbatim without touching any balance.
func (e *TransferEngine) Transfer(ctx context.Context, req TransferRequest) (TransferOutcome, error) {
	if err := validateTransferRequest(req); err != nil {
		return TransferOutcome{}, err
	}

	id := e.newID()
	coordinated := req.IdempotencyKey != "" && e.coordinator != nil
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = id.String()
	}

	log := e.logger.With(
		zap.String("transaction_id", id.String()),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("from", req.SourceAccountID),
		zap.String("to", req.DestinationAccountID),
		zap.String("amount", FormatAmount(req.Amount)),
	)

	if coordinated {
		admission, err := e.coordinator.Admit(ctx, req.IdempotencyKey)
		if err != nil {
			log.Error("idempotency admission failed", zap.Error(err))
			return internalErrorOutcome(id), fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, err)
		}
		if !admission.FirstAttempt {
			log.Info("transfer already completed, returning stored outcome",
				zap.String("stored_transaction_id", admission.Outcome.TransactionID),
				zap.String("status", string(admission.Outcome.Status)))
			return admission.Outcome, nil
		}
	}

	outcome, record, err := e.execute(ctx, id, req, log)

	if coordinated {
		// The caller's context may already be cancelled; the claim must still be settled.
		settleCtx := context.WithoutCancel(ctx)
		if outcome.Reason == ReasonInternalError {
			if relErr := e.coordinator.Release(settleCtx, req.IdempotencyKey); relErr != nil {
				log.Error("failed to release idempotency key", zap.Error(relErr))
			}
		} else if compErr := e.coordinator.Complete(settleCtx, req.IdempotencyKey, outcome); compErr != nil {
			// The committed record still answers replays through the ledger lookup.
			log.Error("failed to store idempotent outcome", zap.Error(compErr))
		}
	}

	if record != nil && outcome.Succeeded() {
		e.publish(ctx, record, log)
	}

	return outcome, err
}

// execute runs the transfer protocol inside one unit of work.
// The returned record is nil unless this call committed it.
func (e *TransferEngine) execute(
	ctx context.Context,
	id uuid.UUID,
	req TransferRequest,
	log *zap.Logger,
) (TransferOutcome, *TransferRecord, error) {
	if e.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}

	var (
		record   *TransferRecord
		replayed bool
	)
	err := e.ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := e.ledger.Transfers.GetByIdempotencyKey(txCtx, req.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			record, replayed = existing, true
			return nil
		}

		record = NewTransferRecord(id, req, e.currency, e.now())
		existing, err = e.apply(txCtx, record, log)
		if existing != nil {
			record, replayed = existing, true
		}
		return err
	})

	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// A concurrent attempt with the same key committed first.
		existing, lookupErr := e.ledger.Transfers.GetByIdempotencyKey(context.WithoutCancel(ctx), req.IdempotencyKey)
		if lookupErr == nil && existing != nil {
			record, replayed, err = existing, true, nil
		}
	}

	if err != nil {
		log.Error("transfer rolled back", zap.Error(err))
		if errors.Is(err, ErrStoreUnavailable) {
			return internalErrorOutcome(id), nil, err
		}
		return internalErrorOutcome(id), nil, nil
	}

	outcome := record.Outcome()
	if replayed {
		log.Info("transfer found in ledger, returning recorded outcome",
			zap.String("stored_transaction_id", outcome.TransactionID))
		return outcome, nil, nil
	}

	if outcome.Succeeded() {
		log.Info("transfer committed")
	} else {
		log.Warn("transfer failed", zap.String("reason", string(outcome.Reason)), zap.String("remarks", record.Remarks))
	}
	return outcome, record, nil
}

// apply locks both accounts, checks business rules and stages all writes.
// A nil error commits, so business failures append their FAILED record and return nil.
// When a record with the same key was committed while the locks were awaited,
// apply stages nothing and returns that record.
func (e *TransferEngine) apply(ctx context.Context, record *TransferRecord, log *zap.Logger) (*TransferRecord, error) {
	// Lock in a deterministic order to prevent deadlocks
	first, second := record.SourceAccountID, record.DestinationAccountID
	if second < first {
		first, second = second, first
	}

	locked := make(map[string]*Account, 2)
	for _, accountID := range []string{first, second} {
		account, err := e.ledger.Accounts.LockForUpdate(ctx, accountID)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock account %s: %w", accountID, err)
		}
		locked[accountID] = account
		log.Debug("account locked", zap.String("account_id", accountID))
	}

	existing, err := e.ledger.Transfers.GetByIdempotencyKey(ctx, record.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	source := locked[record.SourceAccountID]
	destination := locked[record.DestinationAccountID]

	switch {
	case source == nil:
		return nil, e.fail(ctx, record, ReasonAccountNotFound, remarkSourceNotFound)
	case destination == nil:
		return nil, e.fail(ctx, record, ReasonAccountNotFound, remarkDestinationNotFound)
	case !source.Status.CanSend():
		return nil, e.fail(ctx, record, ReasonAccountNotActive, remarkSourceNotActive)
	case !destination.Status.CanReceive():
		return nil, e.fail(ctx, record, ReasonAccountNotActive, remarkDestinationNotActive)
	case !source.HasSufficientFunds(record.Amount):
		return nil, e.fail(ctx, record, ReasonInsufficientFunds, remarkInsufficientFunds)
	}

	now := e.now()
	if err := source.Debit(record.Amount, now); err != nil {
		return nil, fmt.Errorf("failed to debit source account: %w", err)
	}
	destination.Credit(record.Amount, now)

	if err := e.ledger.Accounts.SetBalance(ctx, source.ID, source.Balance); err != nil {
		return nil, fmt.Errorf("failed to update source account: %w", err)
	}
	if err := e.ledger.Accounts.SetBalance(ctx, destination.ID, destination.Balance); err != nil {
		return nil, fmt.Errorf("failed to update destination account: %w", err)
	}

	record.MarkAsSuccess(remarkSuccess)
	if err := e.ledger.Transfers.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create transfer record: %w", err)
	}

	entry := &AuditEntry{
		Actor:  record.InitiatedBy,
		Action: AuditActionTransfer,
		Metadata: map[string]string{
			"transaction_id": record.ID.String(),
			"from":           record.SourceAccountID,
			"to":             record.DestinationAccountID,
			"amount":         FormatAmount(record.Amount),
			"currency":       record.Currency,
		},
		CreatedAt: now,
	}
	if err := e.ledger.Audits.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil, nil
}

// fail appends a FAILED record for a business failure.
func (e *TransferEngine) fail(ctx context.Context, record *TransferRecord, reason Reason, remarks string) error {
	record.MarkAsFailed(reason, remarks)
	if err := e.ledger.Transfers.Append(ctx, record); err != nil {
		return fmt.Errorf("failed to create failed transfer record: %w", err)
	}
	return nil
}

// publish emits the transfer.completed event. Best effort: the transfer is
// already committed, so a broker failure is only logged.
func (e *TransferEngine) publish(ctx context.Context, record *TransferRecord, log *zap.Logger) {
	if e.eventPublisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()

	if err := e.eventPublisher.PublishTransferCompleted(pubCtx, record); err != nil {
		log.Warn("failed to publish transfer completed event", zap.Error(err))
	}
}

// validateTransferRequest validates the caller contract before any transaction begins.
func validateTransferRequest(req TransferRequest) error {
	if err := ValidateAmount(req.Amount); err != nil {
		return err
	}
	if req.SourceAccountID == "" || req.DestinationAccountID == "" {
		return fmt.Errorf("%w: source and destination accounts are required", ErrInvalidTransfer)
	}
	if req.SourceAccountID == req.DestinationAccountID {
		return fmt.Errorf("%w: source and destination must be different accounts", ErrInvalidTransfer)
	}
	return nil
}

func internalErrorOutcome(id uuid.UUID) TransferOutcome {
	return TransferOutcome{
		Status:        TransferStatusFailed,
		TransactionID: id.String(),
		Reason:        ReasonInternalError,
	}
}
