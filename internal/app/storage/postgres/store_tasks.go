package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/storage"
)

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if t.RunAt.IsZero() {
		t.RunAt = time.Now().UTC()
	}
	if len(t.Payload) == 0 {
		t.Payload = []byte("{}")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (merchant_id, type, payload, status, run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, created_at
	`, t.MerchantID, t.Type, []byte(t.Payload), t.Status, t.RunAt)
	if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
		return task.Task{}, fmt.Errorf("insert task: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func scanTask(row interface{ Scan(...interface{}) error }) (task.Task, error) {
	var t task.Task
	var payload []byte
	if err := row.Scan(&t.ID, &t.MerchantID, &t.Type, &payload, &t.Status, &t.RunAt, &t.CreatedAt); err != nil {
		return task.Task{}, err
	}
	t.Payload = payload
	t.RunAt = t.RunAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

const taskSelectColumns = `id, merchant_id, type, payload, status, run_at, created_at`

func (s *Store) GetTask(ctx context.Context, id int64) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskSelectColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, storage.ErrNotFound
	}
	return t, err
}

func (s *Store) ListTasksByMerchant(ctx context.Context, merchantID string, status task.Status, limit int) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskSelectColumns+` FROM tasks
		WHERE merchant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY id DESC
		LIMIT $3
	`, merchantID, string(status), limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *Store) ListRecentTasksByMerchant(ctx context.Context, merchantID string, limit int) ([]task.Task, error) {
	return s.ListTasksByMerchant(ctx, merchantID, "", limit)
}

func limitOrAll(limit int) int64 {
	if limit <= 0 {
		return 1 << 30
	}
	return int64(limit)
}

func collectTasks(rows *sql.Rows) ([]task.Task, error) {
	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CountPendingOrRunning(ctx context.Context, merchantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM tasks
		WHERE merchant_id = $1 AND status IN ('pending', 'running')
	`, merchantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending/running tasks: %w", err)
	}
	return n, nil
}

func (s *Store) CountPendingOrRunningByType(ctx context.Context, merchantID string, taskType task.Type) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM tasks
		WHERE merchant_id = $1 AND type = $2 AND status IN ('pending', 'running')
	`, merchantID, taskType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending/running tasks by type: %w", err)
	}
	return n, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status task.Status) error {
	result, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ResetTaskForRetry(ctx context.Context, id int64, runAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', run_at = $2 WHERE id = $1
	`, id, runAt)
	if err != nil {
		return fmt.Errorf("reset task for retry: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Store) DeleteCompletedTasksByMerchant(ctx context.Context, merchantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE merchant_id = $1 AND status = 'completed'`, merchantID)
	if err != nil {
		return fmt.Errorf("delete completed tasks: %w", err)
	}
	return nil
}

func (s *Store) DeleteTasksByMerchant(ctx context.Context, merchantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE merchant_id = $1`, merchantID)
	if err != nil {
		return fmt.Errorf("delete tasks by merchant: %w", err)
	}
	return nil
}

// ClaimNextTask implements the canonical claim protocol in one transaction:
// select the single earliest-ready unlocked row with FOR UPDATE SKIP LOCKED,
// flip it to running, and commit. A row locked by a concurrent claimant is
// invisible to this query rather than blocking it.
func (s *Store) ClaimNextTask(ctx context.Context) (task.Task, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return task.Task{}, false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskSelectColumns+`
		FROM tasks
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, false, tx.Commit()
	}
	if err != nil {
		return task.Task{}, false, fmt.Errorf("claim next task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'running' WHERE id = $1`, t.ID); err != nil {
		return task.Task{}, false, fmt.Errorf("claim next task: mark running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, false, fmt.Errorf("commit claim tx: %w", err)
	}
	t.Status = task.StatusRunning
	return t, true, nil
}

// RescueZombieTasks resets any task stuck in "running" with created_at
// older than olderThan back to "pending" with run_at=now(), recovering from
// a worker crash mid-claim. The running-status lease is implicit in the
// task's age, not a separate heartbeat.
func (s *Store) RescueZombieTasks(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'pending', run_at = now()
		WHERE status = 'running' AND created_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("rescue zombie tasks: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
