// Package janitor runs the periodic self-healing sweeps: rescuing tasks
// orphaned by a crashed worker, and pruning the idempotency ledger once
// PP's retry horizon has passed.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	core "github.com/riverbend/recoveryengine/internal/app/core/service"
	"github.com/riverbend/recoveryengine/internal/app/storage"
	"github.com/riverbend/recoveryengine/internal/app/system"
)

var _ system.Service = (*Janitor)(nil)

const (
	sweepInterval   = 10 * time.Minute
	zombieThreshold = 10 * time.Minute
	pruneThreshold  = 7 * 24 * time.Hour
)

// Janitor is a single timer-driven sweep loop: zombie rescue first, then
// event pruning, on process start and every sweep fire thereafter.
type Janitor struct {
	store    storage.Store
	log      *zap.Logger
	schedule cron.Schedule

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a Janitor. log may be nil, in which case a production zap
// logger is created.
func New(store storage.Store, log *zap.Logger) *Janitor {
	if log == nil {
		log = zap.Must(zap.NewProduction()).Named("janitor")
	}
	return &Janitor{store: store, log: log}
}

// WithSchedule replaces the fixed 10-minute sweep interval with a cron
// schedule, for operators who want sweeps pinned to wall-clock times. The
// start-of-process sweep still runs unconditionally.
func (j *Janitor) WithSchedule(s cron.Schedule) *Janitor {
	j.schedule = s
	return j
}

func (j *Janitor) Name() string { return "janitor" }

func (j *Janitor) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "janitor",
		Domain:       "recovery",
		Layer:        core.LayerData,
		Capabilities: []string{"zombie_rescue", "event_pruning"},
	}
}

// Start runs one sweep immediately, then on every sweep fire until Stop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.running = true
	j.mu.Unlock()

	j.sweep(runCtx)

	j.wg.Add(1)
	go j.loop(runCtx)

	j.log.Info("janitor started")
	return nil
}

// Stop halts the sweep loop, waiting for an in-flight sweep to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	cancel := j.cancel
	j.running = false
	j.cancel = nil
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	j.log.Info("janitor stopped")
	return nil
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()
	for {
		timer := time.NewTimer(j.untilNextSweep(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.sweep(ctx)
		}
	}
}

// untilNextSweep returns the delay to the next sweep: the cron schedule's
// next fire when one is configured, the fixed interval otherwise.
func (j *Janitor) untilNextSweep(now time.Time) time.Duration {
	if j.schedule == nil {
		return sweepInterval
	}
	d := j.schedule.Next(now).Sub(now)
	if d <= 0 {
		return sweepInterval
	}
	return d
}

// sweep runs the two maintenance passes: zombie rescue must run before
// pruning so a rescued task's evidence isn't pruned out from under it in
// the same pass.
func (j *Janitor) sweep(ctx context.Context) {
	rescued, err := j.store.RescueZombieTasks(ctx, time.Now().Add(-zombieThreshold))
	if err != nil {
		j.log.Warn("zombie rescue failed", zap.Error(err))
	} else if rescued > 0 {
		j.log.Info("rescued zombie tasks", zap.Int("count", rescued))
	}

	pruned, err := j.store.PruneProcessedEvents(ctx, time.Now().Add(-pruneThreshold))
	if err != nil {
		j.log.Warn("event pruning failed", zap.Error(err))
	} else if pruned > 0 {
		j.log.Info("pruned processed events", zap.Int("count", pruned))
	}
}
