package db

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

func TestWhereBuilder(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	var w where
	w.add("(from_account = $%[1]d OR to_account = $%[1]d)", "ACC-1")
	w.addRange("initiated_at", domain.TimeRange{From: from, To: to})

	assert.Equal(t, " WHERE (from_account = $1 OR to_account = $1) AND initiated_at >= $2 AND initiated_at < $3", w.sql())
	assert.Equal(t, []any{"ACC-1", from, to}, w.args)
	assert.Equal(t, " LIMIT 10", w.limit(10))
	assert.Empty(t, w.limit(0))

	var empty where
	assert.Empty(t, empty.sql())
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"plain error mentioning unique", errors.New("unique"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
