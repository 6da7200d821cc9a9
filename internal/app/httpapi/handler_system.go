package httpapi

import "net/http"

// Version is stamped at build time via -ldflags "-X ...httpapi.Version=v1.2.3".
var Version = "dev"

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}
