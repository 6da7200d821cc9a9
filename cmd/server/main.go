package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	app "github.com/riverbend/recoveryengine/internal/app"
	"github.com/riverbend/recoveryengine/internal/app/config"
	core "github.com/riverbend/recoveryengine/internal/app/core/service"
	"github.com/riverbend/recoveryengine/internal/app/httpapi"
	"github.com/riverbend/recoveryengine/internal/app/storage/postgres"
	"github.com/riverbend/recoveryengine/internal/platform/database"
	"github.com/riverbend/recoveryengine/internal/platform/migrations"
	"github.com/riverbend/recoveryengine/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty in development)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*dsn) != "" {
		cfg.DatabaseURL = strings.TrimSpace(*dsn)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Addr = strings.TrimSpace(*addr)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("validate config: %v", err)
	}

	appLog := logger.NewDefault("server")

	rootCtx := context.Background()

	opts := app.Options{Config: cfg, Log: appLog}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		// The database is often the last dependency to come up in a fresh
		// deployment; retry the initial connect before giving up.
		connectErr := core.Retry(rootCtx, core.RetryPolicy{
			Attempts:       5,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2,
		}, func() error {
			db, err = database.Open(rootCtx, cfg.DatabaseURL)
			return err
		})
		if connectErr != nil {
			log.Fatalf("connect to postgres: %v", connectErr)
		}
		defer db.Close()
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		cipher, err := app.CipherFromConfig(cfg, appLog)
		if err != nil {
			log.Fatalf("token cipher: %v", err)
		}
		opts.Store = postgres.New(db, cipher)
	} else {
		appLog.Warn("DATABASE_URL not set, running with in-memory storage")
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("parse REDIS_URL: %v", err)
		}
		opts.Redis = redis.NewClient(redisOpts)
	}

	application, err := app.New(opts)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	httpService := httpapi.NewService(application.HTTPDeps(cfg), cfg.Addr, cfg.MetricsEnabled)
	if err := application.Attach(httpService); err != nil {
		log.Fatalf("attach http service: %v", err)
	}

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	appLog.Infof("recovery engine listening on %s", cfg.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
