package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// pixelGIF is a single transparent 1x1 GIF, served by the open-tracking
// endpoint regardless of whether the logID is valid so a broken/expired
// tracking link never shows as a broken image in the customer's inbox.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func (h *handlers) trackOpen(w http.ResponseWriter, r *http.Request) {
	if logID, err := strconv.ParseInt(chi.URLParam(r, "logId"), 10, 64); err == nil {
		if err := h.Store.RecordOpen(r.Context(), logID); err != nil {
			h.Log.WithError(err).Warn("record open")
		}
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}

func (h *handlers) trackClick(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	sig := r.URL.Query().Get("sig")
	logID, err := strconv.ParseInt(r.URL.Query().Get("logId"), 10, 64)
	if err != nil || target == "" || sig == "" {
		writeError(w, h.DevMode, ErrValidation)
		return
	}

	if !h.Linker.VerifyClick(target, logID, sig) {
		writeError(w, h.DevMode, ErrForbidden)
		return
	}

	if err := h.Store.RecordClick(r.Context(), logID); err != nil {
		h.Log.WithError(err).Warn("record click")
	}
	http.Redirect(w, r, target, http.StatusFound)
}
