package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StartRun records the start of a reconciliation run and returns its id.
func (s *Storage) StartRun(ctx context.Context, dir Direction, start, end time.Time, dryRun bool) (int64, error) {
	query := `INSERT INTO recon_runs (direction, date_start, date_end, dry_run, status)
	          VALUES (?, ?, ?, ?, 'running')`
	args := []any{string(dir), formatDate(start), formatDate(end), dryRun}

	if s.dialect == dialectPostgres {
		var id int64
		err := s.db.QueryRowContext(ctx, s.rebind(query+` RETURNING id`), args...).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("start run: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return res.LastInsertId()
}

// CompleteRun records the run's totals. Runs with per-record errors complete
// as completed_with_errors; only systemic failures abort a run entirely.
func (s *Storage) CompleteRun(ctx context.Context, runID int64, totals RunTotals) error {
	status := "completed"
	if totals.Errored > 0 {
		status = "completed_with_errors"
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
	UPDATE recon_runs
	SET completed_at = CURRENT_TIMESTAMP,
	    sources_found = ?,
	    linked = ?,
	    created = ?,
	    deferred = ?,
	    errored = ?,
	    skipped_existing = ?,
	    status = ?
	WHERE id = ?`),
		totals.SourcesFound, totals.Linked, totals.Created, totals.Deferred,
		totals.Errored, totals.SkippedExisting, status, runID)
	if err != nil {
		return fmt.Errorf("complete run %d: %w", runID, err)
	}
	return nil
}

// ListRuns returns recent runs, newest first.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]ReconRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		runSelectColumns+` FROM recon_runs ORDER BY id DESC LIMIT ?`,
	), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []ReconRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// GetRun retrieves a run by id. Returns sql.ErrNoRows when absent.
func (s *Storage) GetRun(ctx context.Context, runID int64) (*ReconRun, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		runSelectColumns+` FROM recon_runs WHERE id = ?`,
	), runID)
	return scanRun(row)
}

const runSelectColumns = `
	SELECT id, direction, date_start, date_end, dry_run, started_at, completed_at,
	       sources_found, linked, created, deferred, errored, skipped_existing, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*ReconRun, error) {
	var (
		run                ReconRun
		dateStart, dateEnd any
		startedAt          any
		completedAt        sql.NullString
	)
	err := row.Scan(&run.ID, &run.Direction, &dateStart, &dateEnd, &run.DryRun,
		&startedAt, &completedAt,
		&run.SourcesFound, &run.Linked, &run.Created, &run.Deferred,
		&run.Errored, &run.SkippedExisting, &run.Status)
	if err != nil {
		return nil, err
	}

	run.DateStart = dateAsString(dateStart)
	run.DateEnd = dateAsString(dateEnd)
	run.StartedAt = textValue(startedAt)
	if completedAt.Valid {
		run.CompletedAt = completedAt.String
	}

	return &run, nil
}

func dateAsString(v any) string {
	if t, ok := v.(time.Time); ok {
		return formatDate(t)
	}
	return textValue(v)
}
