package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

const accountColumns = `account_number, owner_id, balance::text, status, created_at, updated_at`

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{
		pool: pool,
	}
}

// GetByID retrieves an account by its account number.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// LockForUpdate acquires a pessimistic lock on the account for the duration of the transaction.
// This method MUST be called within a transaction context.
// Uses SELECT ... FOR UPDATE to lock the row.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	tx := getTx(ctx)
	if tx == nil {
		return nil, errors.New("lock for update requires a transaction")
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1 FOR UPDATE`

	account, err := scanAccount(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return account, nil
}

// SetBalance writes a new balance for the account.
func (r *AccountRepository) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if err := domain.ValidateBalance(balance); err != nil {
		return err
	}

	query := `
		UPDATE accounts
		SET balance = $2,
		    updated_at = NOW()
		WHERE account_number = $1
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, id, domain.FormatAmount(balance))
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (account_number, owner_id, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		account.ID,
		account.OwnerID,
		domain.FormatAmount(account.Balance),
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAccount, account.ID)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// SetStatus changes the lifecycle status of an account.
func (r *AccountRepository) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	query := `
		UPDATE accounts
		SET status = $2,
		    updated_at = NOW()
		WHERE account_number = $1
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account domain.Account
		balance string
		status  string
	)
	if err := row.Scan(
		&account.ID,
		&account.OwnerID,
		&balance,
		&status,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("invalid stored balance %q: %w", balance, err)
	}
	account.Balance = parsed
	account.Status = domain.AccountStatus(status)
	return &account, nil
}
