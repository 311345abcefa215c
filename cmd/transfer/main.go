// Command transfer executes a single funds transfer against the configured ledger.
//
//	transfer --from ACC-1 --to ACC-2 --amount 3000.00 --key req-42 --actor teller-7
//
// The outcome is printed as JSON. The exit status is 0 on SUCCESS, 2 on a FAILED
// outcome and 1 when the transfer could not be attempted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/db"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/events"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/idempotency"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/logging"
)

const (
	exitOK      = 0
	exitError   = 1
	exitFailed  = 2
	exitTimeout = 30 * time.Second
)

// options are the per-invocation flags.
type options struct {
	configPath string
	migrate    bool
	from       string
	to         string
	amount     string
	key        string
	actor      string
}

func newFlagSet(opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("transfer", pflag.ContinueOnError)

	fs.StringVar(&opts.configPath, "config", ".", "directory containing an optional .env file")
	fs.BoolVar(&opts.migrate, "migrate", false, "apply database migrations before the transfer")
	fs.StringVar(&opts.from, "from", "", "source account number")
	fs.StringVar(&opts.to, "to", "", "destination account number")
	fs.StringVar(&opts.amount, "amount", "", "amount with up to 2 decimal places")
	fs.StringVar(&opts.key, "key", "", "idempotency key; a fresh transaction id is used when empty")
	fs.StringVar(&opts.actor, "actor", "", "actor recorded as the initiator")

	// Configuration overrides, see config.FlagKeys.
	fs.String("database-url", "", "PostgreSQL connection string")
	fs.String("redis-url", "", "Redis URL for the shared idempotency coordinator")
	fs.String("rabbitmq-url", "", "AMQP URL for transfer.completed events")
	fs.Duration("lock-timeout", 0, "bound on the unit of work, lock waits included")
	fs.String("currency", "", "currency recorded on transfers")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "json or console")

	return fs
}

// request builds the transfer request from the flags.
func (o options) request() (domain.TransferRequest, error) {
	amount, err := domain.ParseAmount(o.amount)
	if err != nil {
		return domain.TransferRequest{}, err
	}
	return domain.TransferRequest{
		SourceAccountID:      o.from,
		DestinationAccountID: o.to,
		Amount:               amount,
		InitiatedBy:          o.actor,
		IdempotencyKey:       o.key,
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	cfg, err := config.Load(opts.configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitError
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "failed to create logger: %v\n", err)
		return exitError
	}
	defer func() { _ = logger.Sync() }()

	req, err := opts.request()
	if err != nil {
		logger.Error("invalid transfer request", zap.Error(err))
		return exitError
	}

	ctx, cancel := context.WithTimeout(ctx, exitTimeout)
	defer cancel()

	outcome, err := execute(ctx, cfg, opts.migrate, req, logger)
	if err != nil {
		logger.Error("transfer not attempted", zap.Error(err))
		if outcome.TransactionID == "" {
			return exitError
		}
	}

	if encErr := json.NewEncoder(stdout).Encode(outcome); encErr != nil {
		logger.Error("failed to write outcome", zap.Error(encErr))
		return exitError
	}
	switch {
	case err != nil:
		return exitError
	case outcome.Succeeded():
		return exitOK
	default:
		return exitFailed
	}
}

// execute wires the store, coordinator and publisher, then runs one transfer.
func execute(
	ctx context.Context,
	cfg config.Config,
	migrate bool,
	req domain.TransferRequest,
	logger *zap.Logger,
) (domain.TransferOutcome, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return domain.TransferOutcome{}, fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()
	logger.Debug("database connection pool initialized")

	if migrate {
		if err := db.Migrate(ctx, pool.Pool); err != nil {
			return domain.TransferOutcome{}, err
		}
		logger.Info("database migrations applied")
	}

	ledger := domain.Ledger{
		Accounts:  db.NewAccountRepository(pool.Pool),
		Transfers: db.NewTransferRepository(pool.Pool),
		Audits:    db.NewAuditRepository(pool.Pool),
		Tx: db.NewTransactionManager(pool.Pool,
			db.WithLockTimeout(cfg.LockTimeout),
			db.WithLogger(logger),
		),
	}

	coordinator, closeCoordinator, err := newCoordinator(cfg)
	if err != nil {
		return domain.TransferOutcome{}, err
	}
	defer closeCoordinator()

	engineOpts := []domain.Option{
		domain.WithLogger(logger),
		domain.WithCurrency(cfg.DefaultCurrency),
		domain.WithLockTimeout(cfg.LockTimeout),
	}
	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQRoutingKey)
		if err != nil {
			// Events are best effort; the transfer still runs.
			logger.Warn("rabbitmq unavailable, events disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			engineOpts = append(engineOpts, domain.WithPublisher(publisher))
		}
	}

	engine := domain.NewTransferEngine(ledger, coordinator, engineOpts...)
	return engine.Transfer(ctx, req)
}

// newCoordinator returns the Redis coordinator when REDIS_URL is set and the
// in-process one otherwise.
func newCoordinator(cfg config.Config) (domain.IdempotencyCoordinator, func(), error) {
	if cfg.RedisURL == "" {
		return idempotency.NewMemory(), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	coordinator := idempotency.NewRedis(client, cfg.RedisIdempotencyPrefix, cfg.IdempotencyTTL)
	return coordinator, func() { _ = client.Close() }, nil
}
