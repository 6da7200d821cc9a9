package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// adminEraseMerchant implements DELETE /admin/merchants/:id. Subscription
// cancellation happens before any row is deleted; a cancellation failure
// aborts the whole erasure with a 502 so the caller knows nothing was
// removed and the request can be retried.
func (h *handlers) adminEraseMerchant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.Store.GetMerchant(r.Context(), id)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}

	if err := h.Merchants.Erase(r.Context(), m); err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "erased", "id": id})
}
