package testutil

import (
	"context"
	stdsync "sync"
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	domainErrors "github.com/crmbridge/accountsync/internal/domain/errors"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/google/uuid"
)

// --- Ledger Mock ---

// MockLedger is an in-memory implementation of sync.Ledger.
type MockLedger struct {
	mu        stdsync.Mutex
	processed map[string]time.Time

	HasProcessedFunc  func(ctx context.Context, correlationID, entityID string) (bool, error)
	MarkProcessedFunc func(ctx context.Context, correlationID, entityID string, completedAt time.Time) error

	HasProcessedCalls  int
	MarkProcessedCalls int
}

func NewMockLedger() *MockLedger {
	return &MockLedger{processed: make(map[string]time.Time)}
}

func ledgerKey(correlationID, entityID string) string {
	return correlationID + ":" + entityID
}

func (m *MockLedger) HasProcessed(ctx context.Context, correlationID, entityID string) (bool, error) {
	m.mu.Lock()
	m.HasProcessedCalls++
	m.mu.Unlock()
	if m.HasProcessedFunc != nil {
		return m.HasProcessedFunc(ctx, correlationID, entityID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[ledgerKey(correlationID, entityID)]
	return ok, nil
}

func (m *MockLedger) MarkProcessed(ctx context.Context, correlationID, entityID string, completedAt time.Time) error {
	m.mu.Lock()
	m.MarkProcessedCalls++
	m.mu.Unlock()
	if m.MarkProcessedFunc != nil {
		return m.MarkProcessedFunc(ctx, correlationID, entityID, completedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[ledgerKey(correlationID, entityID)]; !ok {
		m.processed[ledgerKey(correlationID, entityID)] = completedAt
	}
	return nil
}

// Mark pre-populates the ledger with a processed pair.
func (m *MockLedger) Mark(correlationID, entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[ledgerKey(correlationID, entityID)] = time.Now()
}

// --- Source Client Mock ---

// MockSourceClient is a mock implementation of sync.SourceClient.
type MockSourceClient struct {
	mu       stdsync.Mutex
	accounts map[string]*event.AccountSnapshot

	FetchAccountFunc  func(ctx context.Context, entityID, correlationID string) (*event.AccountSnapshot, error)
	FetchAccountCalls int
}

func NewMockSourceClient() *MockSourceClient {
	return &MockSourceClient{accounts: make(map[string]*event.AccountSnapshot)}
}

// AddAccount pre-populates the source with an account snapshot.
func (m *MockSourceClient) AddAccount(snap *event.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[snap.AccountID] = snap
}

func (m *MockSourceClient) FetchAccount(ctx context.Context, entityID, correlationID string) (*event.AccountSnapshot, error) {
	m.mu.Lock()
	m.FetchAccountCalls++
	m.mu.Unlock()
	if m.FetchAccountFunc != nil {
		return m.FetchAccountFunc(ctx, entityID, correlationID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.accounts[entityID]
	if !ok {
		return nil, domainErrors.ErrAccountNotFound
	}
	return snap, nil
}

// --- Dead-Letter Store Mock ---

// MockDeadLetterStore is an in-memory implementation of sync.DeadLetterStore.
type MockDeadLetterStore struct {
	mu      stdsync.Mutex
	records []*appsync.DeadLetterRecord

	InsertFunc func(ctx context.Context, rec *appsync.DeadLetterRecord) error
}

func NewMockDeadLetterStore() *MockDeadLetterStore {
	return &MockDeadLetterStore{}
}

func (m *MockDeadLetterStore) Insert(ctx context.Context, rec *appsync.DeadLetterRecord) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MockDeadLetterStore) GetByID(ctx context.Context, id uuid.UUID) (*appsync.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, domainErrors.ErrDeadLetterNotFound
}

func (m *MockDeadLetterStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.records {
		if rec.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return domainErrors.ErrDeadLetterNotFound
}

func (m *MockDeadLetterStore) List(ctx context.Context, limit int) ([]*appsync.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]*appsync.DeadLetterRecord, limit)
	copy(out, m.records)
	return out, nil
}

// Records returns a snapshot of everything inserted so far.
func (m *MockDeadLetterStore) Records() []*appsync.DeadLetterRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*appsync.DeadLetterRecord, len(m.records))
	copy(out, m.records)
	return out
}

// --- Alerter Mock ---

// MockAlerter records dead-letter alerts.
type MockAlerter struct {
	mu     stdsync.Mutex
	alerts []*appsync.DeadLetterRecord

	DeadLetterAlertFunc func(ctx context.Context, rec *appsync.DeadLetterRecord) error
}

func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) DeadLetterAlert(ctx context.Context, rec *appsync.DeadLetterRecord) error {
	if m.DeadLetterAlertFunc != nil {
		return m.DeadLetterAlertFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, rec)
	return nil
}

func (m *MockAlerter) Alerts() []*appsync.DeadLetterRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*appsync.DeadLetterRecord, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// --- Publisher Mock ---

// MockPublisher records published account events.
type MockPublisher struct {
	mu     stdsync.Mutex
	events []*event.AccountEvent

	PublishFunc func(ctx context.Context, ev *event.AccountEvent) error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishAccountEvent(ctx context.Context, ev *event.AccountEvent) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MockPublisher) Events() []*event.AccountEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*event.AccountEvent, len(m.events))
	copy(out, m.events)
	return out
}

// --- Transaction Runner Mock ---

// MockTxRunner runs fn directly; Rollbacks counts invocations that returned
// an error (and would roll back against a real backend).
type MockTxRunner struct {
	mu        stdsync.Mutex
	Commits   int
	Rollbacks int
}

func NewMockTxRunner() *MockTxRunner {
	return &MockTxRunner{}
}

func (m *MockTxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.Rollbacks++
		return err
	}
	m.Commits++
	return nil
}

// --- Locker Mock ---

// MockLocker is a mock implementation of sync.Locker.
type MockLocker struct {
	mu   stdsync.Mutex
	held map[string]bool

	LockFunc  func(ctx context.Context, entityID string) (appsync.Unlocker, error)
	LockCalls int
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]bool)}
}

func (m *MockLocker) Lock(ctx context.Context, entityID string) (appsync.Unlocker, error) {
	m.mu.Lock()
	m.LockCalls++
	m.mu.Unlock()
	if m.LockFunc != nil {
		return m.LockFunc(ctx, entityID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[entityID] {
		return nil, domainErrors.ErrLockBusy
	}
	m.held[entityID] = true
	return &mockUnlocker{locker: m, entityID: entityID}, nil
}

// Hold marks an entity as locked by someone else.
func (m *MockLocker) Hold(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[entityID] = true
}

type mockUnlocker struct {
	locker   *MockLocker
	entityID string
}

func (u *mockUnlocker) Unlock(ctx context.Context) error {
	u.locker.mu.Lock()
	defer u.locker.mu.Unlock()
	delete(u.locker.held, u.entityID)
	return nil
}
