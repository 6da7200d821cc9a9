// Package memory provides an in-process implementation of storage.Store,
// used by unit tests that exercise services without a live Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/template"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/storage"
)

// Store is a mutex-guarded, map-backed storage.Store.
type Store struct {
	mu sync.Mutex

	merchants map[string]merchant.Merchant

	nextTaskID int64
	tasks      map[int64]task.Task

	nextUsageID int64
	usageLogs   map[int64]usage.Log
	dailyRollup map[string]usage.DailyMetric // key: merchantID + "|" + date RFC3339

	processedEvents map[string]time.Time

	templates map[string]template.EmailTemplate // key: merchantID + "|" + attempt
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		merchants:       make(map[string]merchant.Merchant),
		tasks:           make(map[int64]task.Task),
		usageLogs:       make(map[int64]usage.Log),
		dailyRollup:     make(map[string]usage.DailyMetric),
		processedEvents: make(map[string]time.Time),
		templates:       make(map[string]template.EmailTemplate),
	}
}

var _ storage.Store = (*Store)(nil)

// --- MerchantStore -----------------------------------------------------

func (s *Store) CreateMerchant(_ context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.AuthUserID != "" {
		for _, existing := range s.merchants {
			if existing.AuthUserID == m.AuthUserID {
				return existing, nil
			}
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.PlanID == "" {
		m.PlanID = "FREE"
	}
	if m.Tier == "" {
		m.Tier = "standard"
	}
	s.merchants[m.ID] = m
	return m, nil
}

func (s *Store) GetMerchant(_ context.Context, id string) (merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) GetMerchantByAuthUserID(_ context.Context, authUserID string) (merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.merchants {
		if m.AuthUserID == authUserID {
			return m, nil
		}
	}
	return merchant.Merchant{}, storage.ErrNotFound
}

func (s *Store) GetMerchantByConnectedAccountID(_ context.Context, connectedAccountID string) (merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.merchants {
		if m.ConnectedAccountID == connectedAccountID {
			return m, nil
		}
	}
	return merchant.Merchant{}, storage.ErrNotFound
}

func (s *Store) GetMerchantByPlatformCustomerID(_ context.Context, platformCustomerID string) (merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.merchants {
		if m.PlatformCustomerID == platformCustomerID {
			return m, nil
		}
	}
	return merchant.Merchant{}, storage.ErrNotFound
}

func (s *Store) UpdateMerchant(_ context.Context, m merchant.Merchant) (merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.merchants[m.ID]; !ok {
		return merchant.Merchant{}, storage.ErrNotFound
	}
	s.merchants[m.ID] = m
	return m, nil
}

func (s *Store) ListMerchants(_ context.Context) ([]merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]merchant.Merchant, 0, len(s.merchants))
	for _, m := range s.merchants {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteMerchant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.merchants, id)
	for tid, t := range s.tasks {
		if t.MerchantID == id {
			delete(s.tasks, tid)
		}
	}
	for uid, u := range s.usageLogs {
		if u.MerchantID == id {
			delete(s.usageLogs, uid)
		}
	}
	for key, d := range s.dailyRollup {
		if d.MerchantID == id {
			delete(s.dailyRollup, key)
		}
	}
	return nil
}

// --- TaskStore -----------------------------------------------------------

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	t.ID = s.nextTaskID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) GetTask(_ context.Context, id int64) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTasksByMerchant(_ context.Context, merchantID string, status task.Status, limit int) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.MerchantID != merchantID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListRecentTasksByMerchant(_ context.Context, merchantID string, limit int) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.MerchantID == merchantID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountPendingOrRunning(_ context.Context, merchantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.MerchantID == merchantID && (t.Status == task.StatusPending || t.Status == task.StatusRunning) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountPendingOrRunningByType(_ context.Context, merchantID string, taskType task.Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.MerchantID == merchantID && t.Type == taskType && (t.Status == task.StatusPending || t.Status == task.StatusRunning) {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateTaskStatus(_ context.Context, id int64, status task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Status = status
	s.tasks[id] = t
	return nil
}

func (s *Store) ResetTaskForRetry(_ context.Context, id int64, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Status = task.StatusPending
	t.RunAt = runAt
	s.tasks[id] = t
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *Store) DeleteCompletedTasksByMerchant(_ context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.MerchantID == merchantID && t.Status == task.StatusCompleted {
			delete(s.tasks, id)
		}
	}
	return nil
}

func (s *Store) DeleteTasksByMerchant(_ context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.MerchantID == merchantID {
			delete(s.tasks, id)
		}
	}
	return nil
}

func (s *Store) ClaimNextTask(_ context.Context) (task.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var best *task.Task
	for id, t := range s.tasks {
		if t.Status != task.StatusPending || t.RunAt.After(now) {
			continue
		}
		candidate := s.tasks[id]
		if best == nil || candidate.RunAt.Before(best.RunAt) || (candidate.RunAt.Equal(best.RunAt) && candidate.ID < best.ID) {
			c := candidate
			best = &c
		}
	}
	if best == nil {
		return task.Task{}, false, nil
	}
	best.Status = task.StatusRunning
	s.tasks[best.ID] = *best
	return *best, true, nil
}

func (s *Store) RescueZombieTasks(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		if t.Status == task.StatusRunning && t.CreatedAt.Before(olderThan) {
			t.Status = task.StatusPending
			t.RunAt = time.Now().UTC()
			s.tasks[id] = t
			n++
		}
	}
	return n, nil
}

// --- UsageStore ------------------------------------------------------------

func rollupKey(merchantID string, date time.Time) string {
	return merchantID + "|" + usage.CurrentUTCDate(date).Format(time.RFC3339)
}

func (s *Store) CreateUsageLog(_ context.Context, log usage.Log) (usage.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUsageID++
	log.ID = s.nextUsageID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	s.usageLogs[log.ID] = log

	key := rollupKey(log.MerchantID, log.CreatedAt)
	d := s.dailyRollup[key]
	d.MerchantID = log.MerchantID
	d.MetricDate = usage.CurrentUTCDate(log.CreatedAt)
	if log.MetricType == usage.MetricDunningEmailSent {
		d.EmailsSent += log.Amount
	}
	s.dailyRollup[key] = d
	return log, nil
}

func (s *Store) MonthlyDunningCount(_ context.Context, merchantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var total int64
	for _, l := range s.usageLogs {
		if l.MerchantID == merchantID && l.MetricType == usage.MetricDunningEmailSent && !l.CreatedAt.Before(monthStart) {
			total += l.Amount
		}
	}
	return total, nil
}

func (s *Store) UnreportedUsageLogs(_ context.Context, limit int) ([]usage.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []usage.Log
	for _, l := range s.usageLogs {
		if l.ReportedAt == nil {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkUsageLogsReported(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		l, ok := s.usageLogs[id]
		if !ok || l.ReportedAt != nil {
			continue
		}
		l.ReportedAt = &now
		s.usageLogs[id] = l
	}
	return nil
}

func (s *Store) RecordOpen(_ context.Context, logID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.usageLogs[logID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	l.OpenedAt = &now
	s.usageLogs[logID] = l
	key := rollupKey(l.MerchantID, l.CreatedAt)
	d := s.dailyRollup[key]
	d.MerchantID = l.MerchantID
	d.MetricDate = usage.CurrentUTCDate(l.CreatedAt)
	d.TotalOpens++
	s.dailyRollup[key] = d
	return nil
}

func (s *Store) RecordClick(_ context.Context, logID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.usageLogs[logID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	l.ClickedAt = &now
	s.usageLogs[logID] = l
	key := rollupKey(l.MerchantID, l.CreatedAt)
	d := s.dailyRollup[key]
	d.MerchantID = l.MerchantID
	d.MetricDate = usage.CurrentUTCDate(l.CreatedAt)
	d.TotalClicks++
	s.dailyRollup[key] = d
	return nil
}

func (s *Store) ListActivity(_ context.Context, merchantID string, limit int) ([]usage.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []usage.Log
	for _, l := range s.usageLogs {
		if l.MerchantID == merchantID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) WeeklyMetrics(_ context.Context, merchantID string, since time.Time) (usage.DailyMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total usage.DailyMetric
	total.MerchantID = merchantID
	for _, d := range s.dailyRollup {
		if d.MerchantID == merchantID && !d.MetricDate.Before(usage.CurrentUTCDate(since)) {
			total.RecoveredCents += d.RecoveredCents
			total.EmailsSent += d.EmailsSent
			total.TotalOpens += d.TotalOpens
			total.TotalClicks += d.TotalClicks
		}
	}
	return total, nil
}

func (s *Store) DeleteUsageLogsByMerchant(_ context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.usageLogs {
		if l.MerchantID == merchantID {
			delete(s.usageLogs, id)
		}
	}
	return nil
}

func (s *Store) DeleteDailyMetricsByMerchant(_ context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, d := range s.dailyRollup {
		if d.MerchantID == merchantID {
			delete(s.dailyRollup, key)
		}
	}
	return nil
}

// --- IdempotencyStore --------------------------------------------------

func (s *Store) AttemptEventLock(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.processedEvents[eventID]; exists {
		return false, nil
	}
	s.processedEvents[eventID] = time.Now().UTC()
	return true, nil
}

func (s *Store) PruneProcessedEvents(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.processedEvents {
		if t.Before(olderThan) {
			delete(s.processedEvents, id)
			n++
		}
	}
	return n, nil
}

// --- TemplateStore -------------------------------------------------------

func templateKey(merchantID string, attempt template.RetryAttempt) string {
	return fmt.Sprintf("%s|%d", merchantID, attempt)
}

func (s *Store) UpsertEmailTemplate(_ context.Context, t template.EmailTemplate) (template.EmailTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[templateKey(t.MerchantID, t.RetryAttempt)] = t
	return t, nil
}

func (s *Store) GetEmailTemplate(_ context.Context, merchantID string, attempt template.RetryAttempt) (template.EmailTemplate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[templateKey(merchantID, attempt)]
	return t, ok, nil
}
