package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

const transferColumns = `
	txn_uuid, idempotency_key, from_account, to_account,
	amount::text, currency, txn_type, status, reason,
	initiated_by, remarks, initiated_at`

// TransferRepository implements domain.TransferRepository using PostgreSQL.
type TransferRepository struct {
	pool *pgxpool.Pool
}

// NewTransferRepository creates a new TransferRepository.
func NewTransferRepository(pool *pgxpool.Pool) *TransferRepository {
	return &TransferRepository{
		pool: pool,
	}
}

// Append persists a transfer record.
func (r *TransferRepository) Append(ctx context.Context, record *domain.TransferRecord) error {
	if !record.Status.Terminal() {
		return fmt.Errorf("transfer %s has non-terminal status %s", record.ID, record.Status)
	}

	query := `
		INSERT INTO transactions (
			txn_uuid, idempotency_key, from_account, to_account,
			amount, currency, txn_type, status, reason,
			initiated_by, remarks, initiated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		record.ID,
		record.IdempotencyKey,
		record.SourceAccountID,
		record.DestinationAccountID,
		domain.FormatAmount(record.Amount),
		record.Currency,
		string(record.Type),
		string(record.Status),
		string(record.Reason),
		record.InitiatedBy,
		record.Remarks,
		record.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, record.IdempotencyKey)
		}
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}

// GetByIdempotencyKey retrieves a transfer by its idempotency key.
func (r *TransferRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transactions WHERE idempotency_key = $1`

	record, err := scanTransfer(conn(ctx, r.pool).QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No transfer found with this idempotency key
		}
		return nil, fmt.Errorf("failed to get transfer by idempotency key: %w", err)
	}
	return record, nil
}

// List returns transfers matching filter, newest first.
func (r *TransferRepository) List(ctx context.Context, filter domain.TransferFilter) ([]domain.TransferRecord, error) {
	var w where
	if filter.AccountID != "" {
		w.add("(from_account = $%[1]d OR to_account = $%[1]d)", filter.AccountID)
	}
	w.addRange("initiated_at", filter.Range)

	query := `SELECT ` + transferColumns + ` FROM transactions` + w.sql() +
		` ORDER BY initiated_at DESC, txn_uuid` + w.limit(filter.Limit)

	rows, err := conn(ctx, r.pool).Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var records []domain.TransferRecord
	for rows.Next() {
		record, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return records, nil
}

func scanTransfer(row pgx.Row) (*domain.TransferRecord, error) {
	var (
		record  domain.TransferRecord
		amount  string
		txnType string
		status  string
		reason  string
	)
	if err := row.Scan(
		&record.ID,
		&record.IdempotencyKey,
		&record.SourceAccountID,
		&record.DestinationAccountID,
		&amount,
		&record.Currency,
		&txnType,
		&status,
		&reason,
		&record.InitiatedBy,
		&record.Remarks,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	record.Amount = parsed
	record.Type = domain.TransferType(txnType)
	record.Status = domain.TransferStatus(status)
	record.Reason = domain.Reason(reason)
	return &record, nil
}

// where accumulates positional conditions for list queries.
type where struct {
	conds []string
	args  []any
}

// add appends cond, where %[1]d is replaced by the placeholder index of arg.
func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) addRange(column string, r domain.TimeRange) {
	if !r.From.IsZero() {
		w.add(column+" >= $%[1]d", r.From)
	}
	if !r.To.IsZero() {
		w.add(column+" < $%[1]d", r.To)
	}
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) limit(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}
