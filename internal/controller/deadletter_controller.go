package controller

import (
	"net/http"
	"strconv"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type DeadLetterController struct {
	store    appsync.DeadLetterStore
	requeuer *appsync.Requeuer
}

func NewDeadLetterController(store appsync.DeadLetterStore, requeuer *appsync.Requeuer) *DeadLetterController {
	return &DeadLetterController{store: store, requeuer: requeuer}
}

// List returns the most recently parked messages for operator follow-up.
func (h *DeadLetterController) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	records, err := h.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]*DeadLetterResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, FromDeadLetter(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// Requeue re-enters a parked message into the event stream and removes its
// record. The message arrives as a fresh delivery with a full retry budget.
func (h *DeadLetterController) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid record id", Code: "invalid_id"})
		return
	}

	if err := h.requeuer.Requeue(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
