package httpapi

import (
	"encoding/json"
	"net/http"

	merchantdomain "github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/template"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/services/email"
	"github.com/riverbend/recoveryengine/internal/app/services/quota"
)

type dashboardStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type usageSummary struct {
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
}

type dashboardMerchant struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Tier      string `json:"tier"`
	Connected bool   `json:"connected"`
}

type dashboardResponse struct {
	Stats          dashboardStats    `json:"stats"`
	RecentTasks    []taskResponse    `json:"recentTasks"`
	RecentActivity []activityEntry   `json:"recentActivity"`
	Usage          usageSummary      `json:"usage"`
	Merchant       dashboardMerchant `json:"merchant"`
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())
	ctx := r.Context()

	all, err := h.Store.ListTasksByMerchant(ctx, m.ID, "", 0)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	var stats dashboardStats
	for _, t := range all {
		switch t.Status {
		case task.StatusPending:
			stats.Pending++
		case task.StatusRunning:
			stats.Running++
		case task.StatusCompleted:
			stats.Completed++
		case task.StatusFailed:
			stats.Failed++
		}
	}

	recentTasks, err := h.Store.ListRecentTasksByMerchant(ctx, m.ID, 5)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	recentTaskResponses := make([]taskResponse, 0, len(recentTasks))
	for _, t := range recentTasks {
		recentTaskResponses = append(recentTaskResponses, toTaskResponse(t))
	}

	activity, err := h.Store.ListActivity(ctx, m.ID, 10)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	recentActivity := make([]activityEntry, 0, len(activity))
	for _, l := range activity {
		recentActivity = append(recentActivity, toActivityEntry(l))
	}

	monthly, err := h.Store.MonthlyDunningCount(ctx, m.ID)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	plan := quota.PlanFor(m.PlanID)

	writeJSON(w, http.StatusOK, dashboardResponse{
		Stats:          stats,
		RecentTasks:    recentTaskResponses,
		RecentActivity: recentActivity,
		Usage:          usageSummary{Current: monthly, Limit: plan.MonthlyLimit},
		Merchant: dashboardMerchant{
			ID:        m.ID,
			Email:     m.Email,
			Tier:      m.Tier,
			Connected: m.Connected(),
		},
	})
}

type activityEntry struct {
	ID         int64  `json:"id"`
	MetricType string `json:"metricType"`
	Amount     int64  `json:"amount"`
	CreatedAt  string `json:"createdAt"`
}

func toActivityEntry(l usage.Log) activityEntry {
	return activityEntry{
		ID:         l.ID,
		MetricType: l.MetricType,
		Amount:     l.Amount,
		CreatedAt:  l.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *handlers) activity(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())
	logs, err := h.Store.ListActivity(r.Context(), m.ID, 100)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	out := make([]activityEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, toActivityEntry(l))
	}
	writeJSON(w, http.StatusOK, out)
}

type merchantPatchRequest struct {
	FromName       *string `json:"fromName"`
	SupportEmail   *string `json:"supportEmail"`
	BrandColor     *string `json:"brandColor"`
	LogoURL        *string `json:"logoUrl"`
	BillingCountry *string `json:"billingCountry"`
	BillingAddress *string `json:"billingAddress"`
}

func (h *handlers) patchMerchant(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	// Ownership is the session merchant; the :id path param exists for
	// URL symmetry with the other resource routes but is never trusted.
	var req merchantPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.DevMode, ErrValidation)
		return
	}

	patch := merchantdomain.SettingsPatch{
		FromName:       req.FromName,
		SupportEmail:   req.SupportEmail,
		BrandColor:     req.BrandColor,
		LogoURL:        req.LogoURL,
		BillingCountry: req.BillingCountry,
		BillingAddress: req.BillingAddress,
	}

	updated, err := h.Merchants.UpdateSettings(r.Context(), m, patch)
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.Public())
}

type emailTemplateRequest struct {
	RetryAttempt int    `json:"retryAttempt"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
}

func (h *handlers) createEmailTemplate(w http.ResponseWriter, r *http.Request) {
	m, _ := merchantFromContext(r.Context())

	var req emailTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.DevMode, ErrValidation)
		return
	}

	attempt := template.RetryAttempt(req.RetryAttempt)
	if !attempt.Valid() || len(req.Subject) > 200 {
		writeError(w, h.DevMode, ErrValidation)
		return
	}

	sanitized := email.SanitizeBody(req.Body, template.AllowedTokens)
	t, err := h.Store.UpsertEmailTemplate(r.Context(), template.EmailTemplate{
		MerchantID:   m.ID,
		RetryAttempt: attempt,
		Subject:      req.Subject,
		Body:         sanitized,
	})
	if err != nil {
		writeError(w, h.DevMode, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}
