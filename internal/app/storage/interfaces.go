// Package storage defines the narrow store interfaces the rest of the
// application depends on. Postgres (internal/app/storage/postgres) and an
// in-memory variant (internal/app/storage/memory) both implement these.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/template"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
)

// ErrNotFound is returned by store lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// MerchantStore persists tenants and their OAuth/billing state.
type MerchantStore interface {
	CreateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error)
	GetMerchant(ctx context.Context, id string) (merchant.Merchant, error)
	GetMerchantByAuthUserID(ctx context.Context, authUserID string) (merchant.Merchant, error)
	GetMerchantByConnectedAccountID(ctx context.Context, connectedAccountID string) (merchant.Merchant, error)
	GetMerchantByPlatformCustomerID(ctx context.Context, platformCustomerID string) (merchant.Merchant, error)
	UpdateMerchant(ctx context.Context, m merchant.Merchant) (merchant.Merchant, error)
	ListMerchants(ctx context.Context) ([]merchant.Merchant, error)
	DeleteMerchant(ctx context.Context, id string) error
}

// TaskStore persists the durable work queue.
type TaskStore interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	GetTask(ctx context.Context, id int64) (task.Task, error)
	ListTasksByMerchant(ctx context.Context, merchantID string, status task.Status, limit int) ([]task.Task, error)
	ListRecentTasksByMerchant(ctx context.Context, merchantID string, limit int) ([]task.Task, error)
	CountPendingOrRunning(ctx context.Context, merchantID string) (int, error)
	CountPendingOrRunningByType(ctx context.Context, merchantID string, taskType task.Type) (int, error)
	UpdateTaskStatus(ctx context.Context, id int64, status task.Status) error
	ResetTaskForRetry(ctx context.Context, id int64, runAt time.Time) error
	DeleteTask(ctx context.Context, id int64) error
	DeleteCompletedTasksByMerchant(ctx context.Context, merchantID string) error
	DeleteTasksByMerchant(ctx context.Context, merchantID string) error
	// ClaimNextTask implements the skip-locked claim protocol: it atomically
	// selects and transitions the earliest-ready pending task to running,
	// or returns (task.Task{}, false, nil) when no task is claimable.
	ClaimNextTask(ctx context.Context) (task.Task, bool, error)
	// RescueZombieTasks resets any task stuck in "running" past olderThan
	// back to "pending" with run_at=now, returning the count rescued.
	RescueZombieTasks(ctx context.Context, olderThan time.Time) (int, error)
}

// UsageStore persists usage logs and their atomic daily rollup.
type UsageStore interface {
	// CreateUsageLog inserts a usage log and upserts the matching
	// daily_metrics row in one transaction, adding (never overwriting) to
	// existing counters.
	CreateUsageLog(ctx context.Context, log usage.Log) (usage.Log, error)
	// MonthlyDunningCount returns the sum of dunning_email_sent amounts for
	// merchantID since the first day of the current UTC month.
	MonthlyDunningCount(ctx context.Context, merchantID string) (int64, error)
	UnreportedUsageLogs(ctx context.Context, limit int) ([]usage.Log, error)
	MarkUsageLogsReported(ctx context.Context, ids []int64) error
	RecordOpen(ctx context.Context, logID int64) error
	RecordClick(ctx context.Context, logID int64) error
	ListActivity(ctx context.Context, merchantID string, limit int) ([]usage.Log, error)
	WeeklyMetrics(ctx context.Context, merchantID string, since time.Time) (usage.DailyMetric, error)
	DeleteUsageLogsByMerchant(ctx context.Context, merchantID string) error
	DeleteDailyMetricsByMerchant(ctx context.Context, merchantID string) error
}

// IdempotencyStore is the global "first writer wins" lock on inbound PP event ids.
type IdempotencyStore interface {
	// AttemptEventLock inserts (eventID, now) and reports true iff this
	// call performed the insertion (i.e. is the first writer).
	AttemptEventLock(ctx context.Context, eventID string) (bool, error)
	// PruneProcessedEvents deletes rows older than olderThan, returning the count removed.
	PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int, error)
}

// TemplateStore persists per-merchant email template overrides.
type TemplateStore interface {
	UpsertEmailTemplate(ctx context.Context, t template.EmailTemplate) (template.EmailTemplate, error)
	GetEmailTemplate(ctx context.Context, merchantID string, attempt template.RetryAttempt) (template.EmailTemplate, bool, error)
}

// Store is the union every component that needs full persistence depends on.
type Store interface {
	MerchantStore
	TaskStore
	UsageStore
	IdempotencyStore
	TemplateStore
}
