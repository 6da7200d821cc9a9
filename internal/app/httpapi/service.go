package httpapi

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverbend/recoveryengine/internal/app/metrics"
	"github.com/riverbend/recoveryengine/internal/app/system"
	"github.com/riverbend/recoveryengine/pkg/logger"
)

// Service exposes the HTTP API and fits into the system manager lifecycle.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logger.Logger
}

var _ system.Service = (*Service)(nil)

// NewService wraps the route table in the cross-cutting middleware stack.
// Order matters: CORS must short-circuit preflight OPTIONS before anything
// else runs, the access log should see the final status of every request,
// and metrics instrument the outermost handler so middleware rejections are
// counted too.
func NewService(deps Deps, addr string, metricsEnabled bool) *Service {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("http")
		deps.Log = log
	}
	if deps.Audit == nil {
		if path := strings.TrimSpace(os.Getenv("AUDIT_LOG_PATH")); path != "" {
			if sink, err := newFileAuditSink(path); err == nil {
				deps.Audit = newAuditLog(300, sink)
				log.Infof("audit log persisting to %s", path)
			} else {
				log.Warnf("audit log file not configured: %v", err)
			}
		}
	}

	handler := http.Handler(NewRouter(deps))
	if metricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/", handler)
		handler = metrics.InstrumentHandler(mux)
	}
	zl := zerolog.New(os.Stdout).With().Timestamp().Str("source", "http").Logger()
	handler = wrapWithAccessLog(handler, zl)
	handler = wrapWithCORS(handler)

	return &Service{addr: addr, handler: handler, log: log}
}

func (s *Service) Name() string { return "http" }

// Handler returns the fully wrapped handler, used by tests that drive the
// API with httptest instead of a real listener.
func (s *Service) Handler() http.Handler { return s.handler }

func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	s.log.Infof("http listening on %s", s.addr)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
