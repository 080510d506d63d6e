package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/crmbridge/accountsync/internal/domain/errors"
	"github.com/redis/go-redis/v9"
)

// Ledger is the Redis-backed idempotency ledger. Keys expire after the
// configured TTL; an entry expiring before a very late redelivery means the
// event is reprocessed, which the target tolerates via idempotent upserts.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLedger(client *redis.Client, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Ledger{client: client, ttl: ttl}
}

func ledgerKey(correlationID, entityID string) string {
	return fmt.Sprintf("processed:%s:%s", correlationID, entityID)
}

// HasProcessed reports whether the pair has completed synchronization.
// Backend failures surface as ErrLedgerUnavailable, never as "not processed".
func (l *Ledger) HasProcessed(ctx context.Context, correlationID, entityID string) (bool, error) {
	n, err := l.client.Exists(ctx, ledgerKey(correlationID, entityID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domainErrors.ErrLedgerUnavailable, err)
	}
	return n > 0, nil
}

// MarkProcessed records completion. SET NX makes the second mark for the same
// pair a no-op, never an error.
func (l *Ledger) MarkProcessed(ctx context.Context, correlationID, entityID string, completedAt time.Time) error {
	err := l.client.SetNX(ctx, ledgerKey(correlationID, entityID), completedAt.UTC().Format(time.RFC3339Nano), l.ttl).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrLedgerUnavailable, err)
	}
	return nil
}
