package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/storage"
)

// CreateUsageLog inserts a usage log and, in the same transaction, upserts
// the (merchant_id, metric_date) daily_metrics row, ADDING to any existing
// counters rather than overwriting. emails_sent only advances for
// metric_type == dunning_email_sent; recovered_cents is left untouched here
// (see the sentinel reconcileRecoveredAmount note in services/worker).
func (s *Store) CreateUsageLog(ctx context.Context, log usage.Log) (usage.Log, error) {
	if log.Amount == 0 {
		log.Amount = 1
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return usage.Log{}, fmt.Errorf("begin usage log tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO usage_logs (merchant_id, metric_type, amount, opened_at, clicked_at, reported_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, created_at
	`, log.MerchantID, log.MetricType, log.Amount, nullTimePtr(log.OpenedAt), nullTimePtr(log.ClickedAt), nullTimePtr(log.ReportedAt))
	if err := row.Scan(&log.ID, &log.CreatedAt); err != nil {
		return usage.Log{}, fmt.Errorf("insert usage log: %w", err)
	}
	log.CreatedAt = log.CreatedAt.UTC()

	emailsDelta := int64(0)
	if log.MetricType == usage.MetricDunningEmailSent {
		emailsDelta = log.Amount
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_metrics (merchant_id, metric_date, recovered_cents, emails_sent, total_opens, total_clicks)
		VALUES ($1, $2, 0, $3, 0, 0)
		ON CONFLICT (merchant_id, metric_date) DO UPDATE
		SET emails_sent = daily_metrics.emails_sent + EXCLUDED.emails_sent
	`, log.MerchantID, usage.CurrentUTCDate(log.CreatedAt), emailsDelta)
	if err != nil {
		return usage.Log{}, fmt.Errorf("upsert daily metrics: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return usage.Log{}, fmt.Errorf("commit usage log tx: %w", err)
	}
	return log, nil
}

func (s *Store) MonthlyDunningCount(ctx context.Context, merchantID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT sum(amount) FROM usage_logs
		WHERE merchant_id = $1
		  AND metric_type = $2
		  AND created_at >= date_trunc('month', now())
	`, merchantID, usage.MetricDunningEmailSent).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("monthly dunning count: %w", err)
	}
	return total.Int64, nil
}

func scanUsageLog(row interface{ Scan(...interface{}) error }) (usage.Log, error) {
	var (
		l                            usage.Log
		openedAt, clickedAt, reportedAt sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.MerchantID, &l.MetricType, &l.Amount, &openedAt, &clickedAt, &reportedAt, &l.CreatedAt); err != nil {
		return usage.Log{}, err
	}
	l.OpenedAt = fromNullTime(openedAt)
	l.ClickedAt = fromNullTime(clickedAt)
	l.ReportedAt = fromNullTime(reportedAt)
	l.CreatedAt = l.CreatedAt.UTC()
	return l, nil
}

const usageLogSelectColumns = `id, merchant_id, metric_type, amount, opened_at, clicked_at, reported_at, created_at`

func (s *Store) UnreportedUsageLogs(ctx context.Context, limit int) ([]usage.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+usageLogSelectColumns+` FROM usage_logs
		WHERE reported_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("unreported usage logs: %w", err)
	}
	defer rows.Close()

	var out []usage.Log
	for rows.Next() {
		l, err := scanUsageLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) MarkUsageLogsReported(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_logs SET reported_at = now()
		WHERE id = ANY($1) AND reported_at IS NULL
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark usage logs reported: %w", err)
	}
	return nil
}

func (s *Store) RecordOpen(ctx context.Context, logID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record open tx: %w", err)
	}
	defer tx.Rollback()

	var merchantID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		UPDATE usage_logs SET opened_at = COALESCE(opened_at, now())
		WHERE id = $1
		RETURNING merchant_id, created_at
	`, logID).Scan(&merchantID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("record open: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_metrics (merchant_id, metric_date, recovered_cents, emails_sent, total_opens, total_clicks)
		VALUES ($1, $2, 0, 0, 1, 0)
		ON CONFLICT (merchant_id, metric_date) DO UPDATE
		SET total_opens = daily_metrics.total_opens + 1
	`, merchantID, usage.CurrentUTCDate(createdAt.UTC())); err != nil {
		return fmt.Errorf("record open rollup: %w", err)
	}
	return tx.Commit()
}

func (s *Store) RecordClick(ctx context.Context, logID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record click tx: %w", err)
	}
	defer tx.Rollback()

	var merchantID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		UPDATE usage_logs SET clicked_at = COALESCE(clicked_at, now())
		WHERE id = $1
		RETURNING merchant_id, created_at
	`, logID).Scan(&merchantID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_metrics (merchant_id, metric_date, recovered_cents, emails_sent, total_opens, total_clicks)
		VALUES ($1, $2, 0, 0, 0, 1)
		ON CONFLICT (merchant_id, metric_date) DO UPDATE
		SET total_clicks = daily_metrics.total_clicks + 1
	`, merchantID, usage.CurrentUTCDate(createdAt.UTC())); err != nil {
		return fmt.Errorf("record click rollup: %w", err)
	}
	return tx.Commit()
}

// usageLogRow is the sqlx scan target for usage_logs list queries.
type usageLogRow struct {
	ID         int64        `db:"id"`
	MerchantID string       `db:"merchant_id"`
	MetricType string       `db:"metric_type"`
	Amount     int64        `db:"amount"`
	OpenedAt   sql.NullTime `db:"opened_at"`
	ClickedAt  sql.NullTime `db:"clicked_at"`
	ReportedAt sql.NullTime `db:"reported_at"`
	CreatedAt  time.Time    `db:"created_at"`
}

func (r usageLogRow) toLog() usage.Log {
	return usage.Log{
		ID:         r.ID,
		MerchantID: r.MerchantID,
		MetricType: r.MetricType,
		Amount:     r.Amount,
		OpenedAt:   fromNullTime(r.OpenedAt),
		ClickedAt:  fromNullTime(r.ClickedAt),
		ReportedAt: fromNullTime(r.ReportedAt),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func (s *Store) ListActivity(ctx context.Context, merchantID string, limit int) ([]usage.Log, error) {
	var rows []usageLogRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+usageLogSelectColumns+` FROM usage_logs
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, merchantID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	out := make([]usage.Log, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toLog())
	}
	return out, nil
}

func (s *Store) WeeklyMetrics(ctx context.Context, merchantID string, since time.Time) (usage.DailyMetric, error) {
	var d usage.DailyMetric
	d.MerchantID = merchantID
	err := s.db.QueryRowContext(ctx, `
		SELECT coalesce(sum(recovered_cents), 0), coalesce(sum(emails_sent), 0),
		       coalesce(sum(total_opens), 0), coalesce(sum(total_clicks), 0)
		FROM daily_metrics
		WHERE merchant_id = $1 AND metric_date >= $2
	`, merchantID, usage.CurrentUTCDate(since)).Scan(&d.RecoveredCents, &d.EmailsSent, &d.TotalOpens, &d.TotalClicks)
	if err != nil {
		return usage.DailyMetric{}, fmt.Errorf("weekly metrics: %w", err)
	}
	return d, nil
}

func (s *Store) DeleteUsageLogsByMerchant(ctx context.Context, merchantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM usage_logs WHERE merchant_id = $1`, merchantID)
	if err != nil {
		return fmt.Errorf("delete usage logs: %w", err)
	}
	return nil
}

func (s *Store) DeleteDailyMetricsByMerchant(ctx context.Context, merchantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM daily_metrics WHERE merchant_id = $1`, merchantID)
	if err != nil {
		return fmt.Errorf("delete daily metrics: %w", err)
	}
	return nil
}

// --- IdempotencyStore --------------------------------------------------

// AttemptEventLock is the sole deduplication primitive: the insert itself is
// the commit point. A unique-violation on the primary key means a
// concurrent or retried delivery lost the race; that is not an error, it is
// "lock not acquired".
func (s *Store) AttemptEventLock(ctx context.Context, eventID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, processed_at)
		VALUES ($1, now())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	if err != nil {
		return false, fmt.Errorf("attempt event lock: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (s *Store) PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
