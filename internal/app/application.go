// Package app wires the stores, services and background loops into one
// lifecycle-managed application, started and stopped in a fixed order:
// store -> encryption key -> platform client -> watchdog -> worker ->
// janitor -> HTTP listener.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/riverbend/recoveryengine/internal/app/auth"
	"github.com/riverbend/recoveryengine/internal/app/config"
	appcrypto "github.com/riverbend/recoveryengine/internal/app/crypto"
	"github.com/riverbend/recoveryengine/internal/app/httpapi"
	"github.com/riverbend/recoveryengine/internal/app/services/email"
	"github.com/riverbend/recoveryengine/internal/app/services/janitor"
	merchantsvc "github.com/riverbend/recoveryengine/internal/app/services/merchant"
	"github.com/riverbend/recoveryengine/internal/app/services/pp"
	"github.com/riverbend/recoveryengine/internal/app/services/quota"
	"github.com/riverbend/recoveryengine/internal/app/services/watchdog"
	"github.com/riverbend/recoveryengine/internal/app/services/webhook"
	"github.com/riverbend/recoveryengine/internal/app/services/worker"
	"github.com/riverbend/recoveryengine/internal/app/storage"
	"github.com/riverbend/recoveryengine/internal/app/storage/memory"
	"github.com/riverbend/recoveryengine/internal/app/system"
	"github.com/riverbend/recoveryengine/pkg/logger"
)

// Options supplies the externally constructed collaborators. Nil fields
// default to the in-memory store and the HTTP clients built from cfg; tests
// substitute fakes here.
type Options struct {
	Config *config.Config

	Store    storage.Store
	Gateway  email.Gateway
	OAuth    pp.OAuthClient
	Platform pp.PlatformClient
	Tenants  worker.TenantClientFactory
	Redis    *redis.Client

	Log *logger.Logger
}

// Application owns every service and their start/stop ordering.
type Application struct {
	Store     storage.Store
	Merchants *merchantsvc.Service
	Quota     *quota.Checker
	Webhooks  *webhook.Service
	Sender    *email.Sender
	Linker    *email.TrackingLinker
	Worker    *worker.Worker
	Janitor   *janitor.Janitor
	Watchdog  *watchdog.Watchdog

	manager *system.Manager
	log     *logger.Logger
}

// New wires an Application from opts. It registers the background services
// (watchdog, worker, janitor) with the lifecycle manager; the HTTP service
// is built separately and attached by the caller so embedders can skip it.
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("app")
	}

	store := opts.Store
	if store == nil {
		store = memory.New()
		log.Warn("no store supplied, using in-memory storage")
	}

	gateway := opts.Gateway
	if gateway == nil {
		gateway = email.NewHTTPGateway(cfg.EmailGatewayURL, cfg.EmailGatewayKey)
	}
	oauth := opts.OAuth
	if oauth == nil {
		oauth = pp.NewHTTPOAuthClient(cfg.PPAPIBaseURL, cfg.PPAuthorizeURL, cfg.PPClientID, cfg.PPClientSecret, cfg.PPRedirectURL)
	}
	platform := opts.Platform
	if platform == nil {
		platform = pp.NewHTTPClient(cfg.PPAPIBaseURL, cfg.PPPlatformAPIKey)
	}
	tenants := opts.Tenants
	if tenants == nil {
		tenants = pp.NewTenantFactory(store, cfg.PPAPIBaseURL)
	}

	linker := email.NewTrackingLinker(cfg.PublicBaseURL, []byte(cfg.SessionSecret))
	sender := email.NewSender(store, gateway, linker)

	checker := quota.New(store)
	merchants := merchantsvc.New(store, oauth, logger.NewDefault("merchant"))
	webhooks := webhook.New(store, cfg.PPWebhookSecret, webhook.NewRateLimiter(opts.Redis), logger.NewDefault("webhook"))

	loopLog := zap.Must(zap.NewProduction())
	w := worker.New(store, checker, tenants, platform, sender, logger.NewDefault("worker"))
	j := janitor.New(store, loopLog.Named("janitor"))
	if cfg.JanitorSchedule != "" {
		sched, err := cron.ParseStandard(cfg.JanitorSchedule)
		if err != nil {
			return nil, fmt.Errorf("app: parse JANITOR_SCHEDULE: %w", err)
		}
		j = j.WithSchedule(sched)
	}
	wd := watchdog.New(store, loopLog.Named("watchdog"))

	a := &Application{
		Store:     store,
		Merchants: merchants,
		Quota:     checker,
		Webhooks:  webhooks,
		Sender:    sender,
		Linker:    linker,
		Worker:    w,
		Janitor:   j,
		Watchdog:  wd,
		manager:   system.NewManager(),
		log:       log,
	}

	for _, svc := range []system.Service{wd, w, j} {
		if err := a.manager.Register(svc); err != nil {
			return nil, fmt.Errorf("app: register %s: %w", svc.Name(), err)
		}
	}
	return a, nil
}

// HTTPDeps assembles the dependency bundle the HTTP layer needs, with
// validator built from the config's auth secret.
func (a *Application) HTTPDeps(cfg *config.Config) httpapi.Deps {
	return httpapi.Deps{
		Store:        a.Store,
		Merchants:    a.Merchants,
		Webhooks:     a.Webhooks,
		Quota:        a.Quota,
		Linker:       a.Linker,
		Validator:    auth.NewHMACValidator(cfg.AuthJWTSecret, cfg.AuthJWTAudience),
		WorkerSecret: cfg.WorkerSecret,
		AdminKey:     cfg.AdminKey,
		DevMode:      cfg.IsDevelopment(),
		Log:          logger.NewDefault("httpapi"),
	}
}

// Attach registers an extra lifecycle service (typically the HTTP listener)
// after the core background services.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start brings every registered service up in registration order.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts every service down in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// CipherFromConfig resolves the at-rest token cipher: a missing key
// is process-fatal in production (enforced by config.Validate) and a
// warning plus an ephemeral random key in development.
func CipherFromConfig(cfg *config.Config, log *logger.Logger) (appcrypto.Cipher, error) {
	if cfg.EncryptionKey != "" {
		key, err := appcrypto.ParseEncryptionKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("app: parse ENCRYPTION_KEY: %w", err)
		}
		return appcrypto.NewAESGCMCipher(key)
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("app: ENCRYPTION_KEY is required in production")
	}
	key, err := appcrypto.GenerateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("app: generate ephemeral key: %w", err)
	}
	if log != nil {
		log.Warn("ENCRYPTION_KEY not set, using an ephemeral random key; stored tokens will not survive a restart")
	}
	return appcrypto.NewAESGCMCipher(key)
}
