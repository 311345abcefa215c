package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// AuditRepository implements domain.AuditRepository using PostgreSQL.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append inserts an audit entry and sets its ID.
func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (user_id, action, meta, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if err := conn(ctx, r.pool).QueryRow(ctx, query,
		entry.Actor,
		entry.Action,
		meta,
		entry.CreatedAt,
	).Scan(&entry.ID); err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// List returns audit entries matching filter, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	var w where
	if filter.Actor != "" {
		w.add("user_id = $%[1]d", filter.Actor)
	}
	if filter.Action != "" {
		w.add("action = $%[1]d", filter.Action)
	}
	w.addRange("created_at", filter.Range)

	query := `SELECT id, user_id, action, meta, created_at FROM audit_logs` + w.sql() +
		` ORDER BY created_at DESC, id DESC` + w.limit(filter.Limit)

	rows, err := conn(ctx, r.pool).Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			entry domain.AuditEntry
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &meta, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("invalid audit metadata for entry %d: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
