package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/template"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/metrics"
	"github.com/riverbend/recoveryengine/internal/app/services/email"
	"github.com/riverbend/recoveryengine/internal/app/services/pp"
)

var errUnknownTaskType = errors.New("worker: unknown task type")

// errQuotaExceeded marks a task failed for a quota breach rather than an
// unexpected processing error; the terminal status is the same, but callers
// that care can distinguish it with errors.Is.
var errQuotaExceeded = errors.New("worker: monthly quota exceeded")

// unreportedBatchSize bounds one report_usage pass to the oldest 100 rows.
const unreportedBatchSize = 100

// reportUsageRequeueDelay is how soon after a report_usage pass the
// successor system task is scheduled, win or lose.
const reportUsageRequeueDelay = 5 * time.Minute

// weeklyDigestInterval is the self-scheduling cadence for a merchant's
// digest task.
const weeklyDigestInterval = 7 * 24 * time.Hour

func (w *Worker) handleDunningRetry(ctx context.Context, t task.Task) error {
	payload, err := task.DecodeDunningRetry(t.Payload)
	if err != nil {
		return fmt.Errorf("handle dunning_retry: %w", err)
	}

	m, err := w.store.GetMerchant(ctx, t.MerchantID)
	if err != nil {
		return fmt.Errorf("handle dunning_retry: load merchant: %w", err)
	}

	if err := w.quota.CheckMonthly(ctx, m); err != nil {
		metrics.RecordQuotaBreach("worker")
		if _, logErr := w.store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricQuotaExceeded, Amount: 1}); logErr != nil {
			w.log.WithError(logErr).WithField("merchant_id", m.ID).Warn("record quota_exceeded log failed")
		}
		return errQuotaExceeded
	}

	client, err := w.tenants.ForMerchant(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("handle dunning_retry: tenant client: %w", err)
	}

	invoice, err := client.GetInvoice(ctx, payload.InvoiceID)
	if err != nil {
		return fmt.Errorf("handle dunning_retry: get invoice: %w", err)
	}
	if invoice.Status == pp.InvoiceStatusPaid || invoice.Status == pp.InvoiceStatusVoid {
		return nil
	}
	if invoice.Status != pp.InvoiceStatusOpen || invoice.CustomerEmail == "" {
		return nil
	}

	usageLog, err := w.store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: 1})
	if err != nil {
		return fmt.Errorf("handle dunning_retry: insert usage log: %w", err)
	}

	attempt := template.RetryAttempt(payload.AttemptCount)
	_, err = w.sender.SendDunning(ctx, m, invoice.CustomerEmail, attempt, usageLog.ID, email.Tokens{
		Amount:    formatCents(invoice.AmountDue),
		UpdateURL: invoice.HostedInvoiceURL,
	})
	if err != nil {
		// The usage log is kept: at-most-once send is unachievable here, and
		// PP meter reporting's idempotency key absorbs the duplicate.
		return fmt.Errorf("handle dunning_retry: send email: %w", err)
	}
	return nil
}

func (w *Worker) handleNotifyActionRequired(ctx context.Context, t task.Task) error {
	payload, err := task.DecodeNotifyActionRequired(t.Payload)
	if err != nil {
		return fmt.Errorf("handle notify_action_required: %w", err)
	}

	m, err := w.store.GetMerchant(ctx, t.MerchantID)
	if err != nil {
		return fmt.Errorf("handle notify_action_required: load merchant: %w", err)
	}

	client, err := w.tenants.ForMerchant(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("handle notify_action_required: tenant client: %w", err)
	}
	invoice, err := client.GetInvoice(ctx, payload.InvoiceID)
	if err != nil {
		return fmt.Errorf("handle notify_action_required: get invoice: %w", err)
	}
	if invoice.CustomerEmail == "" {
		return nil
	}

	usageLog, err := w.store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: 1})
	if err != nil {
		return fmt.Errorf("handle notify_action_required: insert usage log: %w", err)
	}

	hostedURL := payload.HostedInvoiceURL
	if hostedURL == "" {
		hostedURL = invoice.HostedInvoiceURL
	}
	_, err = w.sender.SendActionRequired(ctx, m, invoice.CustomerEmail, usageLog.ID, email.Tokens{
		Amount:    formatCents(invoice.AmountDue),
		UpdateURL: hostedURL,
	})
	if err != nil {
		return fmt.Errorf("handle notify_action_required: send email: %w", err)
	}
	return nil
}

func (w *Worker) handleReportUsage(ctx context.Context, t task.Task) error {
	defer w.requeueReportUsage(ctx)

	logs, err := w.store.UnreportedUsageLogs(ctx, unreportedBatchSize)
	if err != nil {
		return fmt.Errorf("handle report_usage: list unreported: %w", err)
	}
	if len(logs) == 0 {
		return nil
	}

	byMerchant := make(map[string][]usage.Log)
	for _, l := range logs {
		byMerchant[l.MerchantID] = append(byMerchant[l.MerchantID], l)
	}

	var toMarkReported []int64
	for merchantID, merchantLogs := range byMerchant {
		m, err := w.store.GetMerchant(ctx, merchantID)
		if err != nil {
			w.log.WithError(err).WithField("merchant_id", merchantID).Warn("report_usage: load merchant failed, skipping batch")
			continue
		}
		for _, l := range merchantLogs {
			if l.MetricType != usage.MetricDunningEmailSent {
				toMarkReported = append(toMarkReported, l.ID)
				continue
			}

			if err := w.quota.CheckMonthly(ctx, m); err != nil {
				metrics.RecordQuotaBreach("reporter")
				toMarkReported = append(toMarkReported, l.ID)
				continue
			}

			idempotencyKey := "usage_log_" + strconv.FormatInt(l.ID, 10)
			err := w.platform.PostMeterEvent(ctx, m.PlatformCustomerID, idempotencyKey, l.Amount)
			if errors.Is(err, pp.ErrIdempotencyKeyInUse) {
				metrics.RecordIdempotencyReplay()
				toMarkReported = append(toMarkReported, l.ID)
				continue
			}
			if permanent, transient := pp.Classify(err); err != nil {
				if permanent {
					toMarkReported = append(toMarkReported, l.ID)
				} else if transient {
					w.log.WithError(err).WithField("usage_log_id", l.ID).Info("report_usage: transient error, retrying later")
				}
				continue
			}
			toMarkReported = append(toMarkReported, l.ID)
		}
	}

	if err := w.store.MarkUsageLogsReported(ctx, toMarkReported); err != nil {
		return fmt.Errorf("handle report_usage: mark reported: %w", err)
	}
	return nil
}

func (w *Worker) requeueReportUsage(ctx context.Context) {
	_, err := w.store.CreateTask(ctx, task.Task{
		MerchantID: merchant.SystemID,
		Type:       task.TypeReportUsage,
		Payload:    []byte("{}"),
		RunAt:      time.Now().UTC().Add(reportUsageRequeueDelay),
	})
	if err != nil {
		w.log.WithError(err).Error("report_usage: requeue successor failed")
	}
}

func (w *Worker) handleSendWeeklyDigest(ctx context.Context, t task.Task) error {
	defer w.requeueWeeklyDigest(ctx, t.MerchantID)

	m, err := w.store.GetMerchant(ctx, t.MerchantID)
	if err != nil {
		return fmt.Errorf("handle send_weekly_digest: load merchant: %w", err)
	}
	if m.SupportEmail == "" {
		return nil
	}

	metrics, err := w.store.WeeklyMetrics(ctx, m.ID, time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		return fmt.Errorf("handle send_weekly_digest: weekly metrics: %w", err)
	}

	if _, err := w.sender.SendWeeklyDigest(ctx, m, metrics); err != nil {
		return fmt.Errorf("handle send_weekly_digest: send email: %w", err)
	}
	return nil
}

func (w *Worker) requeueWeeklyDigest(ctx context.Context, merchantID string) {
	_, err := w.store.CreateTask(ctx, task.Task{
		MerchantID: merchantID,
		Type:       task.TypeSendWeeklyDigest,
		Payload:    []byte("{}"),
		RunAt:      time.Now().UTC().Add(weeklyDigestInterval),
	})
	if err != nil {
		w.log.WithError(err).WithField("merchant_id", merchantID).Error("send_weekly_digest: requeue successor failed")
	}
}

// reconcileRecoveredAmount is a sentinel left wired to zero: whether
// recovered_cents should be driven by an invoice.payment_succeeded webhook
// is not settled by the source material this engine was built from, so no
// event currently calls this. It exists so the rollup schema and the
// "recovered_cents" metric are exercised by a single obvious entry point
// once that product decision is made.
func (w *Worker) reconcileRecoveredAmount(_ context.Context, _ string, _ int64) error {
	return nil
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
