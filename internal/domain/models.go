package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account represents a monetary account in the ledger.
type Account struct {
	ID        string          // Account number, unique and immutable
	OwnerID   string          // Reference to the owning user
	Balance   decimal.Decimal // Current balance, 2 decimal places, never negative
	Status    AccountStatus   // Lifecycle status
	CreatedAt time.Time       // Timestamp when the account was opened
	UpdatedAt time.Time       // Timestamp of the last balance or status change
}

// AccountStatus represents the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Valid reports whether s is one of the known account statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return true
	default:
		return false
	}
}

// CanSend reports whether funds may leave an account in this status.
func (s AccountStatus) CanSend() bool {
	return s == AccountStatusActive
}

// CanReceive reports whether funds may enter an account in this status.
// Frozen accounts still receive; closed accounts do not.
func (s AccountStatus) CanReceive() bool {
	return s == AccountStatusActive || s == AccountStatusFrozen
}

// TransferType is the kind of movement recorded in the ledger.
type TransferType string

// TransferTypeInternal moves value between two accounts of the same ledger.
const TransferTypeInternal TransferType = "TRANSFER"

// TransferStatus represents the possible states of a transfer record.
type TransferStatus string

const (
	// TransferStatusPending indicates the transfer is being processed
	TransferStatusPending TransferStatus = "PENDING"

	// TransferStatusSuccess indicates the transfer completed successfully
	TransferStatusSuccess TransferStatus = "SUCCESS"

	// TransferStatusFailed indicates the transfer failed
	TransferStatusFailed TransferStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s TransferStatus) Terminal() bool {
	return s == TransferStatusSuccess || s == TransferStatusFailed
}

// Reason is the closed set of failure reasons reported to callers.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonAccountNotFound   Reason = "account_not_found"
	ReasonAccountNotActive  Reason = "account_not_active"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonInternalError     Reason = "internal_error"
)

// TransferRecord is the permanent ledger entry for one transfer attempt.
// Once written with a terminal status it is never mutated.
type TransferRecord struct {
	ID                   uuid.UUID       // Transaction identifier generated at request time
	IdempotencyKey       string          // Key used to de-duplicate retried requests
	SourceAccountID      string          // Debited account, empty for external deposits
	DestinationAccountID string          // Credited account
	Amount               decimal.Decimal // Amount moved, always positive
	Currency             string          // ISO 4217 currency code
	Type                 TransferType    // Kind of movement
	Status               TransferStatus  // Terminal status of the attempt
	Reason               Reason          // Failure reason, empty on success
	InitiatedBy          string          // Actor that requested the transfer
	Remarks              string          // Free text, side-specific cause on failure
	CreatedAt            time.Time       // Timestamp of the attempt
}

// Outcome returns the caller-facing view of the record.
func (r *TransferRecord) Outcome() TransferOutcome {
	return TransferOutcome{
		Status:        r.Status,
		TransactionID: r.ID.String(),
		Reason:        r.Reason,
	}
}

// AuditEntry describes a state-changing action and the actor behind it.
type AuditEntry struct {
	ID        int64             // Store-assigned sequence number
	Actor     string            // Actor that performed the action, empty when unknown
	Action    string            // Action tag, e.g. TRANSFER
	Metadata  map[string]string // Key-value description of the action
	CreatedAt time.Time
}

// Audit action tags.
const (
	AuditActionTransfer      = "TRANSFER"
	AuditActionCreateAccount = "CREATE_ACCOUNT"
	AuditActionUpdateStatus  = "UPDATE_ACCOUNT_STATUS"
)

// TransferRequest is the input of a single transfer.
type TransferRequest struct {
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal
	InitiatedBy          string
	// IdempotencyKey de-duplicates retries. When empty the generated
	// transaction id is used, so the call is never de-duplicated.
	IdempotencyKey string
}

// TransferOutcome is what the engine reports back to callers.
type TransferOutcome struct {
	Status        TransferStatus `json:"status"`
	TransactionID string         `json:"transactionId"`
	Reason        Reason         `json:"reason,omitempty"`
}

// Succeeded reports whether the transfer was applied.
func (o TransferOutcome) Succeeded() bool {
	return o.Status == TransferStatusSuccess
}

// TimeRange bounds a query on creation time. Zero values are open ends.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls within the range, From inclusive and To exclusive.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// TransferFilter selects transfer records for downstream reporting.
type TransferFilter struct {
	AccountID string // Matches either side when set
	Range     TimeRange
	Limit     int // Zero means no limit
}

// AuditFilter selects audit entries for downstream reporting.
type AuditFilter struct {
	Actor  string
	Action string
	Range  TimeRange
	Limit  int
}

// NewTransferRecord creates a record for an attempt of req.
// The record starts PENDING and must be finished with MarkAsSuccess or MarkAsFailed.
func NewTransferRecord(id uuid.UUID, req TransferRequest, currency string, now time.Time) *TransferRecord {
	return &TransferRecord{
		ID:                   id,
		IdempotencyKey:       req.IdempotencyKey,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Currency:             currency,
		Type:                 TransferTypeInternal,
		Status:               TransferStatusPending,
		InitiatedBy:          req.InitiatedBy,
		CreatedAt:            now,
	}
}

// MarkAsSuccess marks the transfer as successfully completed.
func (r *TransferRecord) MarkAsSuccess(remarks string) {
	r.Status = TransferStatusSuccess
	r.Reason = ReasonNone
	r.Remarks = remarks
}

// MarkAsFailed marks the transfer as failed with a business reason.
func (r *TransferRecord) MarkAsFailed(reason Reason, remarks string) {
	r.Status = TransferStatusFailed
	r.Reason = reason
	r.Remarks = remarks
}

// Debit subtracts amount from the account balance.
// Returns ErrInsufficientFunds if the balance would become negative.
func (a *Account) Debit(amount decimal.Decimal, now time.Time) error {
	if !a.HasSufficientFunds(amount) {
		return ErrInsufficientFunds
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = now
	return nil
}

// Credit adds amount to the account balance.
func (a *Account) Credit(amount decimal.Decimal, now time.Time) {
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
}

// HasSufficientFunds checks if the account has enough balance for the given amount.
func (a *Account) HasSufficientFunds(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
