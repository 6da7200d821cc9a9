package httpapi

import (
	"io"
	"net"
	"net/http"
	"strings"
)

func (h *handlers) ppConnectAuthorize(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	url, err := h.Merchants.BeginConnect(r.Context(), m)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *handlers) ppConnectCallback(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	updated, err := h.Merchants.CompleteConnect(r.Context(), m, state, code)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.Public())
}

func (h *handlers) ppDisconnect(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	updated, err := h.Merchants.Disconnect(r.Context(), m)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.Public())
}

func (h *handlers) webhookPP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, h.DevMode, ErrValidation)
		return
	}

	outcome, err := h.Webhooks.HandleEvent(r.Context(), clientIP(r), r.Header.Get("PP-Signature"), body)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome})
}

// clientIP resolves the caller's address for rate limiting, preferring the
// first X-Forwarded-For hop over RemoteAddr since webhook deliveries
// typically arrive through a load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
