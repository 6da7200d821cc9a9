package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/riverbend/recoveryengine/internal/app/domain/task"
)

// workerClaim and workerComplete expose the skip-locked claim protocol over
// HTTP for out-of-process worker replicas that cannot reach the store
// directly; the in-process Worker (internal/app/services/worker) still
// claims straight off the store and never calls these.
func (h *handlers) workerClaim(w http.ResponseWriter, r *http.Request) {
	t, ok, err := h.Store.ClaimNextTask(r.Context())
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

type workerCompleteRequest struct {
	Status task.Status `json:"status"`
}

func (h *handlers) workerComplete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, h.DevMode, ErrValidation)
		return
	}

	var req workerCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.DevMode, ErrValidation)
		return
	}
	if req.Status != task.StatusCompleted && req.Status != task.StatusFailed {
		writeError(w, h.DevMode, ErrValidation)
		return
	}

	if err := h.Store.UpdateTaskStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
