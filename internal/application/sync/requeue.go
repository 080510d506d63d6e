package sync

import (
	"context"

	domainErrors "github.com/crmbridge/accountsync/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Requeuer re-enters a dead-lettered event into the account event stream so
// the pipeline can try again, typically after the underlying cause (a target
// outage, a since-fixed validation rule) has been resolved. The record is
// deleted and the event published inside one transaction: a failed publish
// keeps the record, a successful one re-arms the normal retry budget because
// the message re-enters the stream as a fresh delivery.
type Requeuer struct {
	store     DeadLetterStore
	publisher EventPublisher
	tx        TxRunner
	logger    zerolog.Logger
}

func NewRequeuer(store DeadLetterStore, publisher EventPublisher, tx TxRunner, logger zerolog.Logger) *Requeuer {
	return &Requeuer{store: store, publisher: publisher, tx: tx, logger: logger}
}

// Requeue moves one parked message back onto the stream. Records without a
// decoded event (undecodable payloads) cannot be requeued; the payload would
// only dead-letter again.
func (r *Requeuer) Requeue(ctx context.Context, id uuid.UUID) error {
	return r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		rec, err := r.store.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if rec.Event == nil {
			return domainErrors.NewDomainError("requeue_undecodable",
				"record has no decodable event; fix the producer and replay manually",
				domainErrors.ErrInvalidInput)
		}

		if err := r.store.Delete(txCtx, id); err != nil {
			return err
		}

		// Publish before commit so a broker failure rolls the delete back.
		if err := r.publisher.PublishAccountEvent(ctx, rec.Event); err != nil {
			return err
		}

		r.logger.Info().
			Str("record_id", id.String()).
			Str("correlation_id", rec.CorrelationID).
			Str("entity_id", rec.EntityID).
			Msg("Dead-letter record requeued")
		return nil
	})
}
