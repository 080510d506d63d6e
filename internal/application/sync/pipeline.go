package sync

import (
	"context"
	"errors"
	"time"

	"github.com/crmbridge/accountsync/internal/domain/delivery"
	domainErrors "github.com/crmbridge/accountsync/internal/domain/errors"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/rs/zerolog"
)

// Decision tells the broker loop what to do with a delivery once the pipeline
// has run.
type Decision int

const (
	// DecisionAck removes the message from the live queue: the event was
	// synced, skipped as a duplicate, or parked in the dead-letter store.
	DecisionAck Decision = iota
	// DecisionRetry leaves the message unacknowledged so the broker
	// redelivers it. The application adds no backoff of its own.
	DecisionRetry
)

// Result is the terminal outcome of processing one delivery.
type Result struct {
	Decision Decision
	// Outcome is the terminal state for logs and metrics: "synced",
	// "duplicate", "retry" or "dead_lettered".
	Outcome string
	// Event is the decoded event, nil when decoding failed.
	Event *event.AccountEvent
}

// Config bounds the pipeline's collaborator calls and retry ceiling.
type Config struct {
	FetchTimeout    time.Duration
	ValidateTimeout time.Duration
	SyncTimeout     time.Duration
	MaxDeliveries   int
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.ValidateTimeout <= 0 {
		c.ValidateTimeout = 5 * time.Second
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 10 * time.Second
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = delivery.DefaultMaxDeliveries
	}
	return c
}

// Pipeline drives one delivery through
// decode → dedupe → fetch → validate → sync → mark, and routes failures to
// retry or the dead-letter handler. It is the only writer of the ledger.
type Pipeline struct {
	ledger      Ledger
	gateway     Gateway
	source      SourceClient
	locker      Locker
	deadLetters *DeadLetterHandler
	logger      zerolog.Logger
	cfg         Config
}

// NewPipeline creates a pipeline. locker may be nil, in which case entities
// are not serialized across workers.
func NewPipeline(
	ledger Ledger,
	gateway Gateway,
	source SourceClient,
	locker Locker,
	deadLetters *DeadLetterHandler,
	logger zerolog.Logger,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		ledger:      ledger,
		gateway:     gateway,
		source:      source,
		locker:      locker,
		deadLetters: deadLetters,
		logger:      logger,
		cfg:         cfg.withDefaults(),
	}
}

// Process runs the pipeline for a single delivery and returns the routing
// decision for the broker loop. Dead-lettering happens inside Process; a
// parked message still acks so it leaves the live queue.
func (p *Pipeline) Process(ctx context.Context, d delivery.Delivery) Result {
	ev, err := event.Decode(d.Raw)
	if err != nil {
		// Malformed payloads never become valid on redelivery. Park them
		// without consuming retry budget.
		p.logger.Error().Err(err).Str("message_id", d.MessageID).Msg("Undecodable event, dead-lettering")
		p.deadLetters.Handle(ctx, d, nil, err)
		return Result{Decision: DecisionAck, Outcome: "dead_lettered"}
	}

	ctx = WithCorrelationID(ctx, ev.CorrelationID)
	logger := p.logger.With().
		Str("correlation_id", ev.CorrelationID).
		Str("entity_id", ev.EntityID).
		Str("event_type", string(ev.EventType)).
		Logger()

	seen, err := p.ledger.HasProcessed(ctx, ev.CorrelationID, ev.EntityID)
	if err != nil {
		return p.transient(ctx, logger, d, ev, err)
	}
	if seen {
		logger.Info().Str("outcome", "duplicate").Msg("Already processed, skipping sync")
		return Result{Decision: DecisionAck, Outcome: "duplicate", Event: ev}
	}

	if p.locker != nil {
		unlock, err := p.locker.Lock(ctx, ev.EntityID)
		if err != nil {
			// Busy or unreachable: either way the broker redelivers.
			return p.transient(ctx, logger, d, ev, err)
		}
		defer unlock.Unlock(ctx)
	}

	snap := ev.Data
	if ev.EventType == event.TypeDelete {
		// The source record is typically already gone on delete; the target
		// only needs the entity key to deactivate its copy.
		snap = &event.AccountSnapshot{AccountID: ev.EntityID}
	} else {
		if snap == nil {
			fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
			snap, err = p.source.FetchAccount(fetchCtx, ev.EntityID, ev.CorrelationID)
			cancel()
			if errors.Is(err, domainErrors.ErrAccountNotFound) {
				return p.permanent(ctx, logger, d, ev, err)
			}
			if err != nil {
				return p.transient(ctx, logger, d, ev, err)
			}
		}

		validateCtx, cancel := context.WithTimeout(ctx, p.cfg.ValidateTimeout)
		outcome, err := p.gateway.Validate(validateCtx, snap)
		cancel()
		if err != nil {
			return p.transient(ctx, logger, d, ev, err)
		}
		if !outcome.Valid {
			err := domainErrors.NewDomainError("validation_failed", outcome.Reason, domainErrors.ErrValidationFailed)
			return p.permanent(ctx, logger, d, ev, err)
		}
	}

	syncCtx, cancel := context.WithTimeout(ctx, p.cfg.SyncTimeout)
	syncOutcome := p.gateway.Sync(syncCtx, snap, ev.EventType)
	cancel()
	switch syncOutcome.Status {
	case SyncSuccess:
	case SyncTransient:
		return p.transient(ctx, logger, d, ev, domainErrors.NewDomainError("sync_transient", syncOutcome.Reason, domainErrors.ErrTargetUnavailable))
	default:
		return p.permanent(ctx, logger, d, ev, domainErrors.NewDomainError("sync_permanent", syncOutcome.Reason, domainErrors.ErrTargetRejected))
	}

	// A sync that succeeded but whose bookkeeping failed is re-driven whole;
	// the target accepts idempotent upserts, so re-running sync is safe.
	if err := p.ledger.MarkProcessed(ctx, ev.CorrelationID, ev.EntityID, time.Now().UTC()); err != nil {
		return p.transient(ctx, logger, d, ev, err)
	}

	logger.Info().Str("outcome", "synced").Int("delivery_count", d.Count).Msg("Event synchronized")
	return Result{Decision: DecisionAck, Outcome: "synced", Event: ev}
}

func (p *Pipeline) transient(ctx context.Context, logger zerolog.Logger, d delivery.Delivery, ev *event.AccountEvent, cause error) Result {
	if delivery.ShouldRetry(d.Count, p.cfg.MaxDeliveries) {
		logger.Warn().Err(cause).
			Int("delivery_count", d.Count).
			Int("max_deliveries", p.cfg.MaxDeliveries).
			Str("outcome", "retry").
			Msg("Transient failure, leaving message for redelivery")
		return Result{Decision: DecisionRetry, Outcome: "retry", Event: ev}
	}
	// Retry budget exhausted: behave exactly like a permanent failure.
	return p.permanent(ctx, logger, d, ev, cause)
}

func (p *Pipeline) permanent(ctx context.Context, logger zerolog.Logger, d delivery.Delivery, ev *event.AccountEvent, cause error) Result {
	logger.Error().Err(cause).
		Int("delivery_count", d.Count).
		Str("outcome", "dead_lettered").
		Msg("Permanent failure, dead-lettering")
	p.deadLetters.Handle(ctx, d, ev, cause)
	return Result{Decision: DecisionAck, Outcome: "dead_lettered", Event: ev}
}
