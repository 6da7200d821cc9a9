// Package watchdog runs a one-shot, start-of-process reconciliation
// ensuring the two self-scheduling task chains (report_usage,
// send_weekly_digest) never silently die out: report_usage is a platform
// singleton, send_weekly_digest is per-merchant.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	core "github.com/riverbend/recoveryengine/internal/app/core/service"
	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/storage"
	"github.com/riverbend/recoveryengine/internal/app/system"
)

var _ system.Service = (*Watchdog)(nil)

// Watchdog is a start-only system.Service: Stop is a no-op.
type Watchdog struct {
	store storage.Store
	log   *zap.Logger
}

// New builds a Watchdog. log may be nil, in which case a production zap
// logger is created.
func New(store storage.Store, log *zap.Logger) *Watchdog {
	if log == nil {
		log = zap.Must(zap.NewProduction()).Named("watchdog")
	}
	return &Watchdog{store: store, log: log}
}

func (w *Watchdog) Name() string { return "watchdog" }

func (w *Watchdog) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "watchdog",
		Domain:       "recovery",
		Layer:        core.LayerData,
		Capabilities: []string{"bootstrap"},
	}
}

// Start runs the one-shot reconciliation. It does not loop; the watchdog's
// entire job is done by the time Start returns.
func (w *Watchdog) Start(ctx context.Context) error {
	if err := w.ensureReportUsage(ctx); err != nil {
		return fmt.Errorf("watchdog: ensure report_usage: %w", err)
	}
	if err := w.ensureWeeklyDigests(ctx); err != nil {
		return fmt.Errorf("watchdog: ensure send_weekly_digest: %w", err)
	}
	w.log.Info("watchdog reconciliation complete")
	return nil
}

// Stop is a no-op: the watchdog does nothing after Start returns.
func (w *Watchdog) Stop(ctx context.Context) error { return nil }

func (w *Watchdog) ensureReportUsage(ctx context.Context) error {
	count, err := w.store.CountPendingOrRunningByType(ctx, merchant.SystemID, task.TypeReportUsage)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = w.store.CreateTask(ctx, task.Task{
		MerchantID: merchant.SystemID,
		Type:       task.TypeReportUsage,
		Status:     task.StatusPending,
		RunAt:      time.Now(),
	})
	if err != nil {
		return err
	}
	w.log.Info("recreated missing report_usage system task")
	return nil
}

func (w *Watchdog) ensureWeeklyDigests(ctx context.Context) error {
	merchants, err := w.store.ListMerchants(ctx)
	if err != nil {
		return err
	}
	for _, m := range merchants {
		count, err := w.store.CountPendingOrRunningByType(ctx, m.ID, task.TypeSendWeeklyDigest)
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if _, err := w.store.CreateTask(ctx, task.Task{
			MerchantID: m.ID,
			Type:       task.TypeSendWeeklyDigest,
			Status:     task.StatusPending,
			RunAt:      time.Now(),
		}); err != nil {
			return err
		}
		w.log.Info("recreated missing send_weekly_digest task", zap.String("merchant_id", m.ID))
	}
	return nil
}
