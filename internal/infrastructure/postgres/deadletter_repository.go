package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	domainErrors "github.com/crmbridge/accountsync/internal/domain/errors"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeadLetterRepository persists dead-letter records. The table is append-only;
// there is no update path.
type DeadLetterRepository struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

func (r *DeadLetterRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *DeadLetterRepository) Insert(ctx context.Context, rec *appsync.DeadLetterRecord) error {
	var eventJSON []byte
	if rec.Event != nil {
		var err error
		eventJSON, err = json.Marshal(rec.Event)
		if err != nil {
			return fmt.Errorf("marshal dead-letter event: %w", err)
		}
	}

	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO dead_letter_records
		   (id, message_id, correlation_id, entity_id, event_type, event, raw_payload,
		    last_error, delivery_count, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.MessageID, rec.CorrelationID, rec.EntityID, rec.EventType,
		eventJSON, rec.Raw, rec.LastError, rec.DeliveryCount, rec.FirstSeenAt, rec.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead-letter record: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*appsync.DeadLetterRecord, error) {
	rec := &appsync.DeadLetterRecord{}
	var eventJSON []byte
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, message_id, correlation_id, entity_id, event_type, event, raw_payload,
		        last_error, delivery_count, first_seen_at, last_seen_at
		 FROM dead_letter_records
		 WHERE id = $1`, id,
	).Scan(
		&rec.ID, &rec.MessageID, &rec.CorrelationID, &rec.EntityID, &rec.EventType,
		&eventJSON, &rec.Raw, &rec.LastError, &rec.DeliveryCount, &rec.FirstSeenAt, &rec.LastSeenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead-letter record: %w", err)
	}
	if len(eventJSON) > 0 {
		rec.Event = &event.AccountEvent{}
		if err := json.Unmarshal(eventJSON, rec.Event); err != nil {
			return nil, fmt.Errorf("unmarshal dead-letter event: %w", err)
		}
	}
	return rec, nil
}

func (r *DeadLetterRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM dead_letter_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dead-letter record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrDeadLetterNotFound
	}
	return nil
}

func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]*appsync.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, message_id, correlation_id, entity_id, event_type, event, raw_payload,
		        last_error, delivery_count, first_seen_at, last_seen_at
		 FROM dead_letter_records
		 ORDER BY last_seen_at DESC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead-letter records: %w", err)
	}
	defer rows.Close()

	var records []*appsync.DeadLetterRecord
	for rows.Next() {
		rec := &appsync.DeadLetterRecord{}
		var eventJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.MessageID, &rec.CorrelationID, &rec.EntityID, &rec.EventType,
			&eventJSON, &rec.Raw, &rec.LastError, &rec.DeliveryCount, &rec.FirstSeenAt, &rec.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan dead-letter record: %w", err)
		}
		if len(eventJSON) > 0 {
			rec.Event = &event.AccountEvent{}
			if err := json.Unmarshal(eventJSON, rec.Event); err != nil {
				return nil, fmt.Errorf("unmarshal dead-letter event: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
