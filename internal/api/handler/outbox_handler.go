package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/leottami/mindull-sub001/internal/api/middleware"
	"github.com/leottami/mindull-sub001/internal/domain"
	"github.com/leottami/mindull-sub001/internal/outbox"
)

// OutboxHandler exposes the queue's public surface: enqueue, manual drain,
// stats, failed-item inspection and the destructive clear.
type OutboxHandler struct {
	proc   *outbox.Processor
	logger *zap.Logger
}

func NewOutboxHandler(proc *outbox.Processor, logger *zap.Logger) *OutboxHandler {
	return &OutboxHandler{proc: proc, logger: logger}
}

// Enqueue handles POST /api/v1/mutations
//
// Responds 202 as soon as the item is durable. Remote execution happens
// asynchronously; its outcome is visible via stats, the failed list and
// the conflict feed, never on this response.
func (h *OutboxHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	item, err := h.proc.Enqueue(r.Context(), req)
	if err != nil {
		h.logger.Warn("enqueue failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"id": item.ID})
}

// Drain handles POST /api/v1/drain, the "retry now" action.
// A drain already in progress makes this a cheap no-op.
func (h *OutboxHandler) Drain(w http.ResponseWriter, r *http.Request) {
	if err := h.proc.Drain(r.Context()); err != nil {
		h.logger.Error("manual drain failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "drain failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Stats handles GET /api/v1/stats
func (h *OutboxHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.proc.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Failed handles GET /api/v1/mutations/failed
//
// Failed items are retained for inspection but never retried
// automatically; this is how the UI surfaces them to the user.
func (h *OutboxHandler) Failed(w http.ResponseWriter, r *http.Request) {
	items, err := h.proc.Failed(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []*domain.Item{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": len(items),
	})
}

// Clear handles DELETE /api/v1/mutations. Destructive, test/debug only.
func (h *OutboxHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.proc.Clear(r.Context()); err != nil {
		h.logger.Error("clear failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
