package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverbend/recoveryengine/internal/app/auth"
	"github.com/riverbend/recoveryengine/internal/app/services/merchant"
	"github.com/riverbend/recoveryengine/pkg/logger"
)

// requireAuth validates the provider bearer token and auto-provisions the
// calling merchant, attaching it to the request context.
func requireAuth(validator auth.Validator, merchants *merchant.Service, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, false, ErrUnauthenticated)
				return
			}

			identity, err := validator.Validate(token)
			if err != nil {
				writeError(w, false, ErrUnauthenticated)
				return
			}

			m, err := merchants.EnsureMerchant(r.Context(), identity.UserID, identity.Email)
			if err != nil {
				log.WithError(err).Error("auto-provision merchant")
				writeError(w, false, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithMerchant(r.Context(), m)))
		})
	}
}

// requireSharedSecret gates worker- and admin-secret endpoints with a
// timing-safe comparison and records an audit entry for every call; these
// routes bypass the merchant-ownership boundary, so each use is worth a
// trail.
func requireSharedSecret(header, secret, actor string, audit *auditLog) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				audit.add(auditEntry{
					Time:       time.Now(),
					Actor:      actor,
					Path:       r.URL.Path,
					Method:     r.Method,
					Status:     rec.status,
					RemoteAddr: r.RemoteAddr,
				})
			}()

			if secret == "" || !secureCompare(r.Header.Get(header), secret) {
				writeError(rec, false, ErrUnauthenticated)
				return
			}
			next.ServeHTTP(rec, r)
		})
	}
}

func secureCompare(got, want string) bool {
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// wrapWithCORS allows the merchant dashboard origin to call this API and
// short-circuits preflight requests.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Worker-Secret, X-Admin-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithAccessLog emits one structured line per request to a zerolog
// sink, separate from the component-level logrus logger: a fixed-schema
// request log, not free-form operational logging.
func wrapWithAccessLog(next http.Handler, zl zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		zl.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("http_request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
