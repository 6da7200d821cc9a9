package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/riverbend/recoveryengine/internal/app/services/merchant"
	"github.com/riverbend/recoveryengine/internal/app/services/quota"
	"github.com/riverbend/recoveryengine/internal/app/services/webhook"
	"github.com/riverbend/recoveryengine/internal/app/storage"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps an error to its HTTP status code and a small JSON
// body. Unrecognized errors become a sanitized 500.
func writeError(w http.ResponseWriter, devMode bool, err error) {
	status, msg := classifyError(err)
	if status == http.StatusInternalServerError && !devMode {
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, ErrValidation), errors.Is(err, merchant.ErrInvalidBrandColor),
		errors.Is(err, merchant.ErrInvalidLogoURL), errors.Is(err, merchant.ErrOAuthStateMismatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, quota.ErrMonthlyLimitExceeded):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, quota.ErrQueueLimitExceeded):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, webhook.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, merchant.ErrErasureAborted):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
