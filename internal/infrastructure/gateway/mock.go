package gateway

import (
	"context"
	"sync"
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/domain/event"
)

// Mock is a scriptable gateway for tests and local runs: fixed outcomes,
// optional latency, and call counters.
type Mock struct {
	mu            sync.Mutex
	latency       time.Duration
	validation    appsync.ValidationOutcome
	validateErr   error
	syncOutcome   appsync.SyncOutcome
	validateCalls int
	syncCalls     int

	// SyncFunc, when set, overrides the fixed sync outcome.
	SyncFunc func(ctx context.Context, snap *event.AccountSnapshot, eventType event.Type) appsync.SyncOutcome
}

type MockOption func(*Mock)

func WithLatency(d time.Duration) MockOption {
	return func(m *Mock) { m.latency = d }
}

func WithValidation(outcome appsync.ValidationOutcome) MockOption {
	return func(m *Mock) { m.validation = outcome }
}

func WithValidateError(err error) MockOption {
	return func(m *Mock) { m.validateErr = err }
}

func WithSyncOutcome(outcome appsync.SyncOutcome) MockOption {
	return func(m *Mock) { m.syncOutcome = outcome }
}

// NewMock returns a gateway that accepts and syncs everything unless options
// say otherwise.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		validation:  appsync.ValidationOutcome{Valid: true},
		syncOutcome: appsync.SyncOutcome{Status: appsync.SyncSuccess},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Mock) Validate(ctx context.Context, snap *event.AccountSnapshot) (appsync.ValidationOutcome, error) {
	m.mu.Lock()
	m.validateCalls++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return appsync.ValidationOutcome{}, err
	}
	if m.validateErr != nil {
		return appsync.ValidationOutcome{}, m.validateErr
	}
	return m.validation, nil
}

func (m *Mock) Sync(ctx context.Context, snap *event.AccountSnapshot, eventType event.Type) appsync.SyncOutcome {
	m.mu.Lock()
	m.syncCalls++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return appsync.SyncOutcome{Status: appsync.SyncTransient, Reason: err.Error()}
	}
	if m.SyncFunc != nil {
		return m.SyncFunc(ctx, snap, eventType)
	}
	return m.syncOutcome
}

func (m *Mock) ValidateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateCalls
}

func (m *Mock) SyncCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncCalls
}

func (m *Mock) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
