// Package worker runs the single cooperative dispatch loop that claims and
// executes tasks from the durable queue.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	core "github.com/riverbend/recoveryengine/internal/app/core/service"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/metrics"
	"github.com/riverbend/recoveryengine/internal/app/services/email"
	"github.com/riverbend/recoveryengine/internal/app/services/pp"
	"github.com/riverbend/recoveryengine/internal/app/services/quota"
	"github.com/riverbend/recoveryengine/internal/app/storage"
	"github.com/riverbend/recoveryengine/internal/app/system"
	"github.com/riverbend/recoveryengine/pkg/logger"
)

var _ system.Service = (*Worker)(nil)

// TenantClientFactory builds a tenant-scoped provider client for one
// merchant, typically from its decrypted OAuth access token.
type TenantClientFactory interface {
	ForMerchant(ctx context.Context, merchantID string) (pp.TenantClient, error)
}

const (
	pollInterval    = 1 * time.Second
	yieldInterval   = 100 * time.Millisecond
	claimBackoff    = 5 * time.Second
	externalTimeout = 10 * time.Second
)

// Worker is the single-replica-per-process dispatch loop: one instance per
// process claims tasks, dispatches them by type, and marks the terminal
// status. It holds no per-tenant state; everything it needs is looked up
// from the store on each dispatch.
type Worker struct {
	store    storage.Store
	quota    *quota.Checker
	tenants  TenantClientFactory
	platform pp.PlatformClient
	sender   *email.Sender
	log      *logger.Logger
	hooks    core.DispatchHooks

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a Worker. log may be nil, in which case a default component
// logger is created.
func New(store storage.Store, checker *quota.Checker, tenants TenantClientFactory, platform pp.PlatformClient, sender *email.Sender, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("worker")
	}
	return &Worker{
		store:    store,
		quota:    checker,
		tenants:  tenants,
		platform: platform,
		sender:   sender,
		log:      log,
		hooks: core.DispatchHooks{
			OnComplete: func(_ context.Context, meta map[string]string, err error, d time.Duration) {
				entry := log.WithField("task_type", meta["task_type"]).WithField("duration", d.String())
				if err != nil {
					entry.WithError(err).Debug("task dispatch finished")
					return
				}
				entry.Debug("task dispatch finished")
			},
		},
	}
}

func (w *Worker) Name() string { return "worker" }

func (w *Worker) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "worker",
		Domain:       "recovery",
		Layer:        core.LayerEngine,
		Capabilities: []string{"claim", "dispatch"},
	}
}

// Start begins the background poll loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(runCtx)

	w.log.Info("worker started")
	return nil
}

// Stop halts the poll loop, waiting for the in-flight iteration to finish.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, ok, err := w.store.ClaimNextTask(ctx)
		if err != nil {
			w.log.WithError(err).Warn("claim next task failed")
			if !sleep(ctx, claimBackoff) {
				return
			}
			continue
		}
		if !ok {
			if !sleep(ctx, pollInterval) {
				return
			}
			continue
		}

		metrics.RecordTaskClaimed()
		w.processTask(ctx, claimed)

		if !sleep(ctx, yieldInterval) {
			return
		}
	}
}

// processTask never lets a handler panic or error escape to the loop;
// every outcome resolves to a completed or failed status transition.
func (w *Worker) processTask(ctx context.Context, t task.Task) {
	callCtx, cancel := context.WithTimeout(ctx, externalTimeout)
	defer cancel()

	done := core.StartDispatch(ctx, w.hooks, map[string]string{"task_type": string(t.Type)})
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker: task panicked: %v", r)
			}
		}()
		return w.dispatch(callCtx, t)
	}()
	done(err)

	status := task.StatusCompleted
	if err != nil {
		status = task.StatusFailed
		w.log.WithError(err).WithField("task_id", t.ID).WithField("task_type", string(t.Type)).Warn("task failed")
	}
	metrics.RecordTaskTerminal(string(t.Type), string(status))
	if updateErr := w.store.UpdateTaskStatus(ctx, t.ID, status); updateErr != nil {
		w.log.WithError(updateErr).WithField("task_id", t.ID).Error("update task status failed")
	}
}

func (w *Worker) dispatch(ctx context.Context, t task.Task) error {
	switch t.Type {
	case task.TypeDunningRetry:
		return w.handleDunningRetry(ctx, t)
	case task.TypeNotifyActionRequired:
		return w.handleNotifyActionRequired(ctx, t)
	case task.TypeReportUsage:
		return w.handleReportUsage(ctx, t)
	case task.TypeSendWeeklyDigest:
		return w.handleSendWeeklyDigest(ctx, t)
	default:
		w.log.WithField("task_type", string(t.Type)).Warn("unknown task type, marking failed")
		return errUnknownTaskType
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
