package sync

import (
	"context"
	"time"

	"github.com/crmbridge/accountsync/internal/domain/delivery"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeadLetterHandler is the last line of defense for poison messages. It
// persists an append-only record and raises an operational alert. Handle must
// always capture something: with no decoded event it stores the raw bytes and
// the error text, and persistence or alert failures are logged rather than
// propagated.
type DeadLetterHandler struct {
	store   DeadLetterStore
	alerter Alerter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDeadLetterHandler creates a handler. alerter may be nil when no alert
// channel is configured.
func NewDeadLetterHandler(store DeadLetterStore, alerter Alerter, logger zerolog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		store:   store,
		alerter: alerter,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle records the failure. ev is nil when the payload never decoded.
func (h *DeadLetterHandler) Handle(ctx context.Context, d delivery.Delivery, ev *event.AccountEvent, lastErr error) {
	now := h.now()
	rec := &DeadLetterRecord{
		ID:            uuid.New(),
		MessageID:     d.MessageID,
		Raw:           d.Raw,
		DeliveryCount: d.Count,
		FirstSeenAt:   now,
		LastSeenAt:    now,
	}
	if lastErr != nil {
		rec.LastError = lastErr.Error()
	} else {
		rec.LastError = "unknown failure"
	}
	if ev != nil {
		rec.CorrelationID = ev.CorrelationID
		rec.EntityID = ev.EntityID
		rec.EventType = string(ev.EventType)
		rec.Event = ev
		if !ev.Timestamp.IsZero() {
			rec.FirstSeenAt = ev.Timestamp
		}
	}

	logger := h.logger.With().
		Str("message_id", rec.MessageID).
		Str("correlation_id", rec.CorrelationID).
		Str("entity_id", rec.EntityID).
		Int("delivery_count", rec.DeliveryCount).
		Logger()

	if err := h.store.Insert(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to persist dead-letter record")
	}

	if h.alerter != nil {
		if err := h.alerter.DeadLetterAlert(ctx, rec); err != nil {
			logger.Error().Err(err).Msg("Failed to raise dead-letter alert")
		}
	}

	logger.Error().Str("last_error", rec.LastError).Msg("Message dead-lettered")
}
