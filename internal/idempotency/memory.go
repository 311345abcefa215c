// Package idempotency provides coordinators that admit at most one in-flight
// transfer attempt per idempotency key and remember completed outcomes.
package idempotency

import (
	"context"
	"errors"
	"sync"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// ErrEmptyKey is returned when a coordinator is asked about an empty key.
var ErrEmptyKey = errors.New("idempotency key is empty")

type entry struct {
	done      chan struct{} // closed once the entry is completed or released
	completed bool
	outcome   domain.TransferOutcome
}

// Memory is a process-local coordinator. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
}

var _ domain.IdempotencyCoordinator = (*Memory)(nil)

// NewMemory creates an empty in-memory coordinator.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry)}
}

// Admit claims key or returns its completed outcome, waiting while another
// attempt holds the key.
func (m *Memory) Admit(ctx context.Context, key string) (domain.Admission, error) {
	if key == "" {
		return domain.Admission{}, ErrEmptyKey
	}

	for {
		m.mu.Lock()
		e, ok := m.entries[key]
		if !ok {
			m.entries[key] = &entry{done: make(chan struct{})}
			m.mu.Unlock()
			return domain.Admission{FirstAttempt: true}, nil
		}
		if e.completed {
			m.mu.Unlock()
			return domain.Admission{Outcome: e.outcome}, nil
		}
		done := e.done
		m.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return domain.Admission{}, ctx.Err()
		}
	}
}

// Complete stores outcome for key and wakes waiters. A key that is already
// completed keeps its first outcome.
func (m *Memory) Complete(_ context.Context, key string, outcome domain.TransferOutcome) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{done: make(chan struct{})}
		m.entries[key] = e
	}
	if e.completed {
		return nil
	}
	e.completed = true
	e.outcome = outcome
	close(e.done)
	return nil
}

// Release drops an in-flight claim so the next Admit is a first attempt.
// Completed keys are left untouched.
func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.completed {
		return nil
	}
	delete(m.entries, key)
	close(e.done)
	return nil
}
