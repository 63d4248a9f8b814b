package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/curiosity/internal/model"
)

// BeginRun records a new running run for tenant and week. Returns
// ErrRunLimit when the tenant already has the allowed number of running or
// completed runs for that week; failed runs do not count.
func (s *Store) BeginRun(ctx context.Context, tenant string, week model.Week) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	defer tx.Rollback()

	if s.runLimit > 0 {
		var n int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM runs
			WHERE tenant = ? AND week = ? AND status != ?
		`, tenant, week.String(), string(model.RunFailed)).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("count runs: %w", err)
		}
		if n >= s.runLimit {
			return nil, fmt.Errorf("%w: tenant %s has %d run(s) for %s", ErrRunLimit, tenant, n, week)
		}
	}

	run := &model.Run{
		ID:        uuid.NewString(),
		Tenant:    tenant,
		Week:      week,
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, tenant, week, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Tenant, run.Week.String(), string(run.Status), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}
	return run, nil
}

// FinishRun moves a running run to run.Status (completed or failed) and
// records its counts and error message. A run can be finished once;
// later calls return ErrRunFinalized.
func (s *Store) FinishRun(ctx context.Context, run *model.Run) error {
	if run.Status != model.RunCompleted && run.Status != model.RunFailed {
		return fmt.Errorf("finish run: invalid final status %q", run.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CompletedAt.IsZero() {
		run.CompletedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			questions_ingested = ?,
			clusters_created = ?,
			signals_detected = ?,
			completed_at = ?,
			error_message = ?
		WHERE id = ? AND status = ?
	`, string(run.Status), run.QuestionsIngested, run.ClustersCreated, run.SignalsDetected,
		run.CompletedAt.UTC(), run.ErrorMessage, run.ID, string(model.RunRunning))
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", run.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("finish run %s: %w", run.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return fmt.Errorf("finish run %s (%s): %w", run.ID, status, ErrRunFinalized)
}

const runColumns = `id, tenant, week, status, questions_ingested, clusters_created,
	signals_detected, started_at, completed_at, error_message`

// GetRun returns the run with the given ID, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the tenant's runs, newest first. An empty tenant lists
// all tenants. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, tenant string, limit int) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE ? = '' OR tenant = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, tenant, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// LatestCompletedRun returns the tenant's most recent completed run, or
// ErrNotFound.
func (s *Store) LatestCompletedRun(ctx context.Context, tenant string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE tenant = ? AND status = ?
		ORDER BY week DESC, started_at DESC
		LIMIT 1
	`, tenant, string(model.RunCompleted))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no completed run for %s: %w", tenant, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var (
		run       model.Run
		week      string
		status    string
		completed sql.NullTime
		errMsg    sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.Tenant,
		&week,
		&status,
		&run.QuestionsIngested,
		&run.ClustersCreated,
		&run.SignalsDetected,
		&run.StartedAt,
		&completed,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}
	w, err := model.ParseWeek(week)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, err)
	}
	run.Week = w
	run.Status = model.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	run.CompletedAt = fromNullTime(completed)
	run.ErrorMessage = errMsg.String
	return &run, nil
}
