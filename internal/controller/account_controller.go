package controller

import (
	"context"
	"net/http"
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AccountsAPI is the slice of the CRM client the shim needs.
// Implemented by crm.Client.
type AccountsAPI interface {
	GetAccount(ctx context.Context, entityID, correlationID string) (*event.AccountSnapshot, error)
	CreateAccount(ctx context.Context, snap *event.AccountSnapshot, correlationID string) (*event.AccountSnapshot, error)
	UpdateAccount(ctx context.Context, entityID string, snap *event.AccountSnapshot, correlationID string) (*event.AccountSnapshot, error)
	DeleteAccount(ctx context.Context, entityID, correlationID string) error
}

// EventPublisher enqueues change notifications for the sync worker.
// Implemented by redis.StreamProducer.
type EventPublisher interface {
	PublishAccountEvent(ctx context.Context, ev *event.AccountEvent) error
}

type AccountController struct {
	crm       AccountsAPI
	publisher EventPublisher
	logger    zerolog.Logger
}

func NewAccountController(crm AccountsAPI, publisher EventPublisher, logger zerolog.Logger) *AccountController {
	return &AccountController{crm: crm, publisher: publisher, logger: logger}
}

func (h *AccountController) Create(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	correlationID := appsync.CorrelationIDFromContext(r.Context())
	stored, err := h.crm.CreateAccount(r.Context(), req.toSnapshot(uuid.New().String()), correlationID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), event.TypeCreate, stored.AccountID, stored)
	writeJSON(w, http.StatusCreated, FromSnapshot(stored))
}

func (h *AccountController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid account id", Code: "invalid_id"})
		return
	}

	correlationID := appsync.CorrelationIDFromContext(r.Context())
	snap, err := h.crm.GetAccount(r.Context(), id.String(), correlationID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromSnapshot(snap))
}

func (h *AccountController) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid account id", Code: "invalid_id"})
		return
	}

	var req AccountRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	correlationID := appsync.CorrelationIDFromContext(r.Context())
	stored, err := h.crm.UpdateAccount(r.Context(), id.String(), req.toSnapshot(id.String()), correlationID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), event.TypeUpdate, stored.AccountID, stored)
	writeJSON(w, http.StatusOK, FromSnapshot(stored))
}

func (h *AccountController) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid account id", Code: "invalid_id"})
		return
	}

	correlationID := appsync.CorrelationIDFromContext(r.Context())
	if err := h.crm.DeleteAccount(r.Context(), id.String(), correlationID); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r.Context(), event.TypeDelete, id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

// publish enqueues the change notification. The CRM write already succeeded,
// so a publish failure is logged rather than surfaced; the next change to the
// entity re-converges it.
func (h *AccountController) publish(ctx context.Context, eventType event.Type, entityID string, snap *event.AccountSnapshot) {
	ev := &event.AccountEvent{
		CorrelationID: appsync.CorrelationIDFromContext(ctx),
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		EntityName:    "account",
		EntityID:      entityID,
		Data:          snap,
	}
	if err := h.publisher.PublishAccountEvent(ctx, ev); err != nil {
		h.logger.Error().Err(err).
			Str("correlation_id", ev.CorrelationID).
			Str("entity_id", entityID).
			Str("event_type", string(eventType)).
			Msg("Failed to publish account event")
	}
}
