package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/storage"
)

// ErrMonthlyLimitExceeded is returned when a merchant has already sent its
// plan's monthly dunning-email allowance.
var ErrMonthlyLimitExceeded = errors.New("quota: monthly dunning limit exceeded")

// ErrQueueLimitExceeded is returned when a merchant already has its plan's
// maximum number of outstanding tasks.
var ErrQueueLimitExceeded = errors.New("quota: task queue limit exceeded")

// Checker evaluates the two ingress-time gates and the worker-entry
// re-check. It holds no state of its
// own; every call reads the store's current counters, because quota
// enforcement depends entirely on data no in-memory cache can own across
// replicas.
type Checker struct {
	store storage.Store
}

// New builds a Checker over store.
func New(store storage.Store) *Checker {
	return &Checker{store: store}
}

// CheckIngress enforces boundary 1: reject new task creation once either the
// monthly dunning allowance or the outstanding-task queue is exhausted.
func (c *Checker) CheckIngress(ctx context.Context, m merchant.Merchant) error {
	plan := PlanFor(m.PlanID)

	monthly, err := c.store.MonthlyDunningCount(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("quota: monthly dunning count: %w", err)
	}
	if monthly >= plan.MonthlyLimit {
		return ErrMonthlyLimitExceeded
	}

	pending, err := c.store.CountPendingOrRunning(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("quota: pending task count: %w", err)
	}
	if int64(pending) >= plan.QueueLimit {
		return ErrQueueLimitExceeded
	}
	return nil
}

// CheckMonthly enforces boundaries 2 and 3: the worker's re-check before
// sending a dunning email, and the reporter's re-check before uploading a
// meter event. Both only care about the monthly allowance, not the queue
// depth, because by the time either runs the task is already dequeued.
func (c *Checker) CheckMonthly(ctx context.Context, m merchant.Merchant) error {
	plan := PlanFor(m.PlanID)
	monthly, err := c.store.MonthlyDunningCount(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("quota: monthly dunning count: %w", err)
	}
	if monthly >= plan.MonthlyLimit {
		return ErrMonthlyLimitExceeded
	}
	return nil
}
