package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidAccount is returned when an account request is malformed.
var ErrInvalidAccount = errors.New("invalid account")

// OpenAccountRequest describes a new account.
type OpenAccountRequest struct {
	ID             string
	OwnerID        string
	OpeningBalance decimal.Decimal
	Actor          string
}

// AccountService is the account-lifecycle collaborator: it opens accounts,
// transitions their status and answers read-only queries over the ledger.
// Every write is audited in the same unit of work.
type AccountService struct {
	ledger Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewAccountService creates a new AccountService. A nil logger discards output.
func NewAccountService(ledger Ledger, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// OpenAccount creates an ACTIVE account with its opening balance.
func (s *AccountService) OpenAccount(ctx context.Context, req OpenAccountRequest) (*Account, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidAccount)
	}
	if err := ValidateBalance(req.OpeningBalance); err != nil {
		return nil, err
	}

	now := s.now()
	account := &Account{
		ID:        req.ID,
		OwnerID:   req.OwnerID,
		Balance:   req.OpeningBalance,
		Status:    AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.ledger.Accounts.Create(txCtx, account); err != nil {
			return err
		}
		return s.ledger.Audits.Append(txCtx, &AuditEntry{
			Actor:  req.Actor,
			Action: AuditActionCreateAccount,
			Metadata: map[string]string{
				"account_number":  account.ID,
				"owner_id":        account.OwnerID,
				"initial_balance": FormatAmount(account.Balance),
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open account %s: %w", req.ID, err)
	}

	s.logger.Info("account opened",
		zap.String("account_id", account.ID),
		zap.String("owner_id", account.OwnerID),
		zap.String("balance", FormatAmount(account.Balance)))
	return account, nil
}

// ChangeStatus transitions an account to status. The account row is locked so the
// change serializes with in-flight transfers. Closing is permanent.
func (s *AccountService) ChangeStatus(ctx context.Context, id string, status AccountStatus, actor string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAccount, status)
	}

	err := s.ledger.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := s.ledger.Accounts.LockForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if account.Status == status {
			return nil
		}
		if account.Status == AccountStatusClosed {
			return fmt.Errorf("%w: account %s is closed", ErrInvalidAccount, id)
		}
		if err := s.ledger.Accounts.SetStatus(txCtx, id, status); err != nil {
			return err
		}
		return s.ledger.Audits.Append(txCtx, &AuditEntry{
			Actor:  actor,
			Action: AuditActionUpdateStatus,
			Metadata: map[string]string{
				"account_number": id,
				"from":           string(account.Status),
				"to":             string(status),
			},
			CreatedAt: s.now(),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to change status of account %s: %w", id, err)
	}

	s.logger.Info("account status changed", zap.String("account_id", id), zap.String("status", string(status)))
	return nil
}

// GetAccount retrieves the committed state of an account.
func (s *AccountService) GetAccount(ctx context.Context, id string) (*Account, error) {
	account, err := s.ledger.Accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// History lists transfer records by account and time range.
func (s *AccountService) History(ctx context.Context, filter TransferFilter) ([]TransferRecord, error) {
	records, err := s.ledger.Transfers.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return records, nil
}

// AuditTrail lists audit entries by actor, action and time range.
func (s *AccountService) AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	entries, err := s.ledger.Audits.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
