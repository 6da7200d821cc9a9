package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	core "github.com/riverbend/recoveryengine/internal/app/core/service"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/metrics"
)

type taskCreateRequest struct {
	Type    task.Type       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type taskResponse struct {
	ID         int64           `json:"id"`
	MerchantID string          `json:"merchantId"`
	Type       task.Type       `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Status     task.Status     `json:"status"`
	RunAt      time.Time       `json:"runAt"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func toTaskResponse(t task.Task) taskResponse {
	return taskResponse{
		ID:         t.ID,
		MerchantID: t.MerchantID,
		Type:       t.Type,
		Payload:    t.Payload,
		Status:     t.Status,
		RunAt:      t.RunAt,
		CreatedAt:  t.CreatedAt,
	}
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	status := task.Status(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	limit = core.ClampLimit(limit, core.DefaultListLimit, core.MaxListLimit)
	tasks, err := h.Store.ListTasksByMerchant(r.Context(), m.ID, status, limit)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}

	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	t, err := h.loadOwnedTask(r, m.ID)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.DevMode, ErrValidation)
		return
	}
	if !task.CreatableTypes[req.Type] {
		writeError(w, h.DevMode, ErrValidation)
		return
	}

	if err := h.Quota.CheckIngress(r.Context(), m); err != nil {
		metrics.RecordQuotaBreach("ingress")
		writeError(w, h.DevMode, err)
		return
	}

	// Server forces status, run_at and merchant_id; any client-provided
	// values for these fields are ignored.
	t, err := h.Store.CreateTask(r.Context(), task.Task{
		MerchantID: m.ID,
		Type:       req.Type,
		Payload:    req.Payload,
		Status:     task.StatusPending,
		RunAt:      time.Now(),
	})
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResponse(t))
}

func (h *handlers) retryTask(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	t, err := h.loadOwnedTask(r, m.ID)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}

	if err := h.Store.ResetTaskForRetry(r.Context(), t.ID, time.Now()); err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	if _, err := h.Store.CreateUsageLog(r.Context(), usage.Log{
		MerchantID: m.ID,
		MetricType: usage.MetricTaskRetry,
		Amount:     1,
	}); err != nil {
		h.Log.WithError(err).Error("log task_retry")
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	t, err := h.loadOwnedTask(r, m.ID)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	if err := h.Store.DeleteTask(r.Context(), t.ID); err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *handlers) deleteCompletedTasks(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())
	if err := h.Store.DeleteCompletedTasksByMerchant(r.Context(), m.ID); err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// loadOwnedTask reads the {id} path param and returns ErrNotFound both when
// the task doesn't exist and when it belongs to a different merchant, so a
// caller cannot probe which ids exist.
func (h *handlers) loadOwnedTask(r *http.Request, merchantID string) (task.Task, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return task.Task{}, ErrValidation
	}
	t, err := h.Store.GetTask(r.Context(), id)
	if err != nil {
		return task.Task{}, err
	}
	if t.MerchantID != merchantID {
		return task.Task{}, ErrNotFound
	}
	return t, nil
}
