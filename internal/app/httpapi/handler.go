// Package httpapi exposes every endpoint in the external-interfaces table
// as a chi router, gated by the auth+merchant-provisioning middleware, the
// worker-secret middleware, or the admin-secret middleware depending on the
// route.
package httpapi

import (
	"github.com/go-chi/chi/v5"

	"github.com/riverbend/recoveryengine/internal/app/auth"
	"github.com/riverbend/recoveryengine/internal/app/services/email"
	"github.com/riverbend/recoveryengine/internal/app/services/merchant"
	"github.com/riverbend/recoveryengine/internal/app/services/quota"
	"github.com/riverbend/recoveryengine/internal/app/services/webhook"
	"github.com/riverbend/recoveryengine/internal/app/storage"
	"github.com/riverbend/recoveryengine/pkg/logger"
)

// Deps bundles every collaborator the route handlers call into. It is kept
// separate from Service so tests can build a router without standing up an
// http.Server.
type Deps struct {
	Store     storage.Store
	Merchants *merchant.Service
	Webhooks  *webhook.Service
	Quota     *quota.Checker
	Linker    *email.TrackingLinker
	Validator auth.Validator

	WorkerSecret string
	AdminKey     string
	DevMode      bool

	Log   *logger.Logger
	Audit *auditLog
}

type handlers struct {
	Deps
}

// NewRouter builds the full route table over deps. The returned handler has
// no CORS/access-log/metrics wrapping; Service.NewService composes those
// around it.
func NewRouter(deps Deps) chi.Router {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("httpapi")
	}
	if deps.Audit == nil {
		deps.Audit = newAuditLog(300, nil)
	}
	h := &handlers{Deps: deps}

	r := chi.NewRouter()

	r.Get("/health", h.health)
	r.Get("/healthz", h.health)
	r.Get("/system/version", h.version)

	r.Get("/track/open/{logId}", h.trackOpen)
	r.Get("/track/click", h.trackClick)

	r.Post("/webhooks/pp", h.webhookPP)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(deps.Validator, deps.Merchants, deps.Log))

		r.Get("/dashboard", h.dashboard)
		r.Get("/tasks", h.listTasks)
		r.Get("/tasks/{id}", h.getTask)
		r.Post("/tasks", h.createTask)
		r.Post("/tasks/{id}/retry", h.retryTask)
		r.Delete("/tasks/{id}", h.deleteTask)
		r.Delete("/tasks/completed", h.deleteCompletedTasks)

		r.Patch("/merchants/{id}", h.patchMerchant)
		r.Post("/email-templates", h.createEmailTemplate)
		r.Get("/activity", h.activity)

		r.Post("/pp/connect/authorize", h.ppConnectAuthorize)
		r.Get("/pp/connect/callback", h.ppConnectCallback)
		r.Post("/pp/disconnect", h.ppDisconnect)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireSharedSecret("X-Worker-Secret", deps.WorkerSecret, "worker", deps.Audit))
		r.Post("/worker/claim", h.workerClaim)
		r.Post("/worker/complete/{id}", h.workerComplete)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireSharedSecret("X-Admin-Key", deps.AdminKey, "admin", deps.Audit))
		r.Delete("/admin/merchants/{id}", h.adminEraseMerchant)
	})

	return r
}
