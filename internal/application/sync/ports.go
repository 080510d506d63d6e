package sync

import (
	"context"
	"time"

	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/google/uuid"
)

// Ledger records which (correlation id, entity id) pairs have completed
// synchronization. A transport or backend failure must surface as an error
// (wrapping errors.ErrLedgerUnavailable), never as "not processed" — the
// pipeline retries on unavailability instead of re-syncing.
type Ledger interface {
	HasProcessed(ctx context.Context, correlationID, entityID string) (bool, error)
	// MarkProcessed is idempotent: marking an already-marked pair is a no-op.
	MarkProcessed(ctx context.Context, correlationID, entityID string, completedAt time.Time) error
}

// ValidationOutcome is the tagged result of Gateway.Validate. Invalid is a
// permanent failure for the event; no redelivery makes invalid data valid.
type ValidationOutcome struct {
	Valid  bool
	Reason string
}

// SyncStatus tags the result of Gateway.Sync so retry routing is a pure
// function of the tag.
type SyncStatus string

const (
	SyncSuccess   SyncStatus = "success"
	SyncTransient SyncStatus = "transient"
	SyncPermanent SyncStatus = "permanent"
)

// SyncOutcome is the tagged result of Gateway.Sync.
type SyncOutcome struct {
	Status SyncStatus
	Reason string
}

// Gateway abstracts the outbound calls to the target system. Implementations
// must propagate the correlation id from the context (CorrelationIDFromContext)
// to the target as a request-scoped trace token. A non-nil error from Validate
// is a transient infrastructure failure; an Invalid outcome is permanent.
type Gateway interface {
	Validate(ctx context.Context, snap *event.AccountSnapshot) (ValidationOutcome, error)
	Sync(ctx context.Context, snap *event.AccountSnapshot, eventType event.Type) SyncOutcome
}

// SourceClient fetches current account state from the source system when an
// event arrives without a snapshot.
type SourceClient interface {
	// FetchAccount returns errors.ErrAccountNotFound when the entity does not
	// exist in the source system.
	FetchAccount(ctx context.Context, entityID, correlationID string) (*event.AccountSnapshot, error)
}

// Locker serializes work on a single entity across concurrent workers.
// Lock returns errors.ErrLockBusy when another worker holds the entity.
type Locker interface {
	Lock(ctx context.Context, entityID string) (Unlocker, error)
}

// Unlocker releases an entity lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// DeadLetterRecord is the append-only failure artifact persisted for a poison
// message. Event is nil when the payload never decoded; Raw always carries the
// original bytes.
type DeadLetterRecord struct {
	ID            uuid.UUID
	MessageID     string
	CorrelationID string
	EntityID      string
	EventType     string
	Event         *event.AccountEvent
	Raw           []byte
	LastError     string
	DeliveryCount int
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// DeadLetterStore persists dead-letter records. Records are never updated in
// place; requeueing removes the record and re-enters the message through the
// normal stream.
type DeadLetterStore interface {
	Insert(ctx context.Context, rec *DeadLetterRecord) error
	List(ctx context.Context, limit int) ([]*DeadLetterRecord, error)
	// GetByID returns errors.ErrDeadLetterNotFound when no record exists.
	GetByID(ctx context.Context, id uuid.UUID) (*DeadLetterRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EventPublisher re-enters an event into the account event stream.
type EventPublisher interface {
	PublishAccountEvent(ctx context.Context, ev *event.AccountEvent) error
}

// TxRunner executes fn atomically against the dead-letter store's backend.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Alerter raises an operational signal when a message is parked.
type Alerter interface {
	DeadLetterAlert(ctx context.Context, rec *DeadLetterRecord) error
}

type correlationKey struct{}

// WithCorrelationID returns a context carrying the correlation id for
// downstream collaborators.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation id stored in ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
