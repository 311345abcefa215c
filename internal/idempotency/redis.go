package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

const (
	pendingMarker   = "PENDING"
	defaultTTL      = 24 * time.Hour
	defaultClaimTTL = 30 * time.Second
)

var errStillInFlight = errors.New("idempotency key still in flight")

// releaseScript deletes the key only while it still holds the in-flight marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// completeScript stores the outcome unless one is stored already, so the first
// completion wins.
var completeScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or current == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// Redis is a coordinator shared by every process that talks to the same Redis.
//
// A first attempt claims the key with SET NX and a short lease; completion
// replaces the lease with the JSON outcome for the retention TTL. Waiters
// poll with exponential backoff until the key stops being in flight.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	claimTTL   time.Duration
	newBackOff func() backoff.BackOff
}

var _ domain.IdempotencyCoordinator = (*Redis)(nil)

// RedisOption configures a Redis coordinator.
type RedisOption func(*Redis)

// WithClaimTTL bounds how long a crashed attempt can hold a key.
func WithClaimTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.claimTTL = d }
}

// WithPollInterval sets the initial and maximum waits between polls of an in-flight key.
func WithPollInterval(initial, maxInterval time.Duration) RedisOption {
	return func(r *Redis) {
		r.newBackOff = func() backoff.BackOff {
			return pollBackOff(initial, maxInterval)
		}
	}
}

// NewRedis creates a coordinator storing keys under prefix. A non-positive
// ttl keeps completed outcomes for 24 hours.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, opts ...RedisOption) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	r := &Redis{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		claimTTL: defaultClaimTTL,
		newBackOff: func() backoff.BackOff {
			return pollBackOff(10*time.Millisecond, 500*time.Millisecond)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func pollBackOff(initial, maxInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	// Waiting is bounded by the caller's context only.
	b.MaxElapsedTime = 0
	return b
}

func (r *Redis) key(key string) string {
	return r.prefix + ":" + key
}

// Admit claims key or returns its completed outcome, polling while another
// attempt holds the key.
func (r *Redis) Admit(ctx context.Context, key string) (domain.Admission, error) {
	if key == "" {
		return domain.Admission{}, ErrEmptyKey
	}
	k := r.key(key)

	op := func() (domain.Admission, error) {
		claimed, err := r.client.SetNX(ctx, k, pendingMarker, r.claimTTL).Result()
		if err != nil {
			return domain.Admission{}, backoff.Permanent(fmt.Errorf("failed to claim idempotency key: %w", err))
		}
		if claimed {
			return domain.Admission{FirstAttempt: true}, nil
		}

		val, err := r.client.Get(ctx, k).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// Released or expired between SETNX and GET.
			return domain.Admission{}, errStillInFlight
		case err != nil:
			return domain.Admission{}, backoff.Permanent(fmt.Errorf("failed to read idempotency key: %w", err))
		case val == pendingMarker:
			return domain.Admission{}, errStillInFlight
		}

		var outcome domain.TransferOutcome
		if err := json.Unmarshal([]byte(val), &outcome); err != nil {
			return domain.Admission{}, backoff.Permanent(fmt.Errorf("failed to decode stored outcome: %w", err))
		}
		return domain.Admission{Outcome: outcome}, nil
	}

	return backoff.RetryWithData(op, backoff.WithContext(r.newBackOff(), ctx))
}

// Complete stores outcome for key for the retention TTL. An outcome already
// stored for key is kept.
func (r *Redis) Complete(ctx context.Context, key string, outcome domain.TransferOutcome) error {
	if key == "" {
		return ErrEmptyKey
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	args := []any{pendingMarker, payload, r.ttl.Milliseconds()}
	if err := completeScript.Run(ctx, r.client, []string{r.key(key)}, args...).Err(); err != nil {
		return fmt.Errorf("failed to store outcome: %w", err)
	}
	return nil
}

// Release drops an in-flight claim. Completed keys are left untouched.
func (r *Redis) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(key)}, pendingMarker).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
