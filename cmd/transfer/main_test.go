package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/idempotency"
)

func TestFlagSet_BuildsRequest(t *testing.T) {
	var opts options
	fs := newFlagSet(&opts)
	require.NoError(t, fs.Parse([]string{
		"--from", "ACC-1", "--to", "ACC-2", "--amount", "3000.00",
		"--key", "req-42", "--actor", "teller-7",
	}))

	req, err := opts.request()
	require.NoError(t, err)
	assert.Equal(t, "ACC-1", req.SourceAccountID)
	assert.Equal(t, "ACC-2", req.DestinationAccountID)
	assert.Equal(t, "3000.00", domain.FormatAmount(req.Amount))
	assert.Equal(t, "req-42", req.IdempotencyKey)
	assert.Equal(t, "teller-7", req.InitiatedBy)
}

func TestFlagSet_CoversConfigKeys(t *testing.T) {
	fs := newFlagSet(&options{})
	for name := range config.FlagKeys {
		assert.NotNil(t, fs.Lookup(name), "flag --%s is not defined", name)
	}
}

func TestRequest_InvalidAmount(t *testing.T) {
	_, err := options{from: "A", to: "B", amount: "12.345"}.request()
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestRun_RejectsBadInput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	t.Setenv("DATABASE_URL", "postgres://localhost:1/none")

	code := run(context.Background(), []string{"--config", t.TempDir(), "--amount", "abc"}, &stdout, &stderr)
	assert.Equal(t, exitError, code)
	assert.Empty(t, stdout.String())

	code = run(context.Background(), []string{"--no-such-flag"}, &stdout, &stderr)
	assert.Equal(t, exitError, code)
}

func TestNewCoordinator(t *testing.T) {
	c, closeFn, err := newCoordinator(config.Config{})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &idempotency.Memory{}, c)

	c, closeFn, err = newCoordinator(config.Config{RedisURL: "redis://localhost:6379/0", RedisIdempotencyPrefix: "p"})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &idempotency.Redis{}, c)

	_, _, err = newCoordinator(config.Config{RedisURL: "://bad"})
	assert.Error(t, err)
}
