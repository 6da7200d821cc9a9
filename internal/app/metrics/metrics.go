// Package metrics exposes the Prometheus collectors that track the task
// queue, webhook ingress and quota boundaries.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "recoveryengine",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryengine",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recoveryengine",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	tasksClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recoveryengine",
		Subsystem: "worker",
		Name:      "tasks_claimed_total",
		Help:      "Total number of tasks claimed off the durable queue.",
	})

	tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryengine",
		Subsystem: "worker",
		Name:      "tasks_completed_total",
		Help:      "Total number of tasks that reached a terminal status.",
	}, []string{"task_type", "status"})

	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryengine",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Total number of inbound PP webhook events by routing outcome.",
	}, []string{"event_type", "outcome"})

	quotaBreaches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recoveryengine",
		Subsystem: "quota",
		Name:      "breaches_total",
		Help:      "Total number of requests or task runs rejected for quota breach.",
	}, []string{"boundary"})

	ppIdempotencyReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recoveryengine",
		Subsystem: "pp",
		Name:      "idempotency_replay_total",
		Help:      "Total number of meter-event uploads PP reported as an idempotency replay.",
	})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		tasksClaimed,
		tasksCompleted,
		webhookEvents,
		quotaBreaches,
		ppIdempotencyReplays,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request-count and latency collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTaskClaimed increments the claimed-task counter.
func RecordTaskClaimed() { tasksClaimed.Inc() }

// RecordTaskTerminal records a task reaching completed or failed.
func RecordTaskTerminal(taskType, status string) {
	tasksCompleted.WithLabelValues(taskType, status).Inc()
}

// RecordWebhookEvent records a routed webhook event's outcome (enqueued,
// ignored, duplicate, invalid_signature).
func RecordWebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordQuotaBreach records a rejection at the named boundary (ingress,
// worker, reporter).
func RecordQuotaBreach(boundary string) {
	quotaBreaches.WithLabelValues(boundary).Inc()
}

// RecordIdempotencyReplay records a PP meter-event upload that PP reported
// as an idempotency-key replay rather than a fresh charge.
func RecordIdempotencyReplay() {
	ppIdempotencyReplays.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// canonicalPath collapses path segments that look like numeric or UUID-ish
// ids so /tasks/123 and /tasks/456 aggregate under one label instead of
// exploding cardinality.
func canonicalPath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if looksLikeID(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeID(seg string) bool {
	if seg == "" {
		return false
	}
	digits, hexish := 0, 0
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			digits++
			hexish++
		case (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') || r == '-':
			hexish++
		default:
			return false
		}
	}
	return digits == len(seg) || hexish == len(seg)
}
