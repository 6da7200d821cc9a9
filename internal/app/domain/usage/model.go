// Package usage models per-tenant usage logs and their daily rollup.
package usage

import "time"

// Known metric_type values. The column is an open string; these are the
// values the worker and API paths actually emit.
const (
	MetricDunningEmailSent         = "dunning_email_sent"
	MetricRecoverySuccess          = "recovery_success"
	MetricRecoveryFailed           = "recovery_failed"
	MetricTaskRetry                = "task_retry"
	MetricTaskScheduled            = "task_scheduled"
	MetricMerchantConnected        = "merchant_connected"
	MetricMerchantDisconnected     = "merchant_disconnected"
	MetricQuotaExceeded            = "quota_exceeded"
	MetricActionRequiredNotified   = "action_required_notification"
	MetricSubscriptionChurned      = "subscription_churned"
)

// Log is a single usage event, optionally tracked for email open/click and
// reported to PP's metered billing at most once.
type Log struct {
	ID         int64
	MerchantID string
	MetricType string
	Amount     int64
	OpenedAt   *time.Time
	ClickedAt  *time.Time
	ReportedAt *time.Time
	CreatedAt  time.Time
}

// DailyMetric is the atomic rollup keyed by (merchant, day).
type DailyMetric struct {
	MerchantID     string
	MetricDate     time.Time // truncated to UTC day
	RecoveredCents int64
	EmailsSent     int64
	TotalOpens     int64
	TotalClicks    int64
}

// CurrentUTCDate truncates t to a UTC calendar day, matching the rollup key.
func CurrentUTCDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
