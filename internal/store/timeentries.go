package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const timeEntryColumns = `id, user_id, project_id, COALESCE(task_id, ''), category, notes,
	started_at, ended_at, duration_seconds, active`

func scanTimeEntry(row interface{ Scan(...any) error }) (TimeEntry, error) {
	var e TimeEntry
	var ended sql.NullTime
	if err := row.Scan(&e.ID, &e.UserID, &e.ProjectID, &e.TaskID, &e.Category, &e.Notes,
		&e.StartedAt, &ended, &e.DurationSeconds, &e.Active); err != nil {
		return TimeEntry{}, err
	}
	if ended.Valid {
		t := ended.Time
		e.EndedAt = &t
	}
	return e, nil
}

// StartTimer stops the user's running timer, if any, and starts entry. The
// stopped entry is returned alongside the new one.
func (s *PostgresStore) StartTimer(ctx context.Context, entry TimeEntry) (TimeEntry, *TimeEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TimeEntry{}, nil, fmt.Errorf("begin start timer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stopped *TimeEntry
	row := tx.QueryRowContext(ctx, `
		UPDATE time_entries
		SET active=FALSE, ended_at=$2,
			duration_seconds=GREATEST(0, EXTRACT(EPOCH FROM ($2 - started_at))::BIGINT)
		WHERE user_id=$1 AND active
		RETURNING `+timeEntryColumns, entry.UserID, entry.StartedAt)
	prev, err := scanTimeEntry(row)
	switch {
	case err == nil:
		stopped = &prev
	case errors.Is(err, sql.ErrNoRows):
	default:
		return TimeEntry{}, nil, fmt.Errorf("stop previous timer: %w", err)
	}

	row = tx.QueryRowContext(ctx, `
		INSERT INTO time_entries (id, user_id, project_id, task_id, category, notes, started_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING `+timeEntryColumns,
		entry.ID, entry.UserID, entry.ProjectID, nullString(entry.TaskID), entry.Category, entry.Notes, entry.StartedAt)
	started, err := scanTimeEntry(row)
	if err != nil {
		return TimeEntry{}, nil, fmt.Errorf("insert timer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TimeEntry{}, nil, fmt.Errorf("commit start timer: %w", err)
	}
	return started, stopped, nil
}

// StopTimer ends the user's active entry entryID at endedAt.
func (s *PostgresStore) StopTimer(ctx context.Context, userID, entryID string, endedAt time.Time) (TimeEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE time_entries
		SET active=FALSE, ended_at=$3,
			duration_seconds=GREATEST(0, EXTRACT(EPOCH FROM ($3 - started_at))::BIGINT)
		WHERE user_id=$1 AND id=$2 AND active
		RETURNING `+timeEntryColumns, userID, entryID, endedAt)
	stopped, err := scanTimeEntry(row)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("stop timer: %w", err)
	}
	return stopped, nil
}

func (s *PostgresStore) GetTimeEntry(ctx context.Context, entryID string) (TimeEntry, error) {
	return scanTimeEntry(s.db.QueryRowContext(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE id=$1`, entryID))
}

func (s *PostgresStore) ActiveTimer(ctx context.Context, userID string) (TimeEntry, error) {
	return scanTimeEntry(s.db.QueryRowContext(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE user_id=$1 AND active`, userID))
}

// InsertTimeEntry records a completed manual entry.
func (s *PostgresStore) InsertTimeEntry(ctx context.Context, e TimeEntry) (TimeEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO time_entries (id, user_id, project_id, task_id, category, notes, started_at, ended_at, duration_seconds, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
		RETURNING `+timeEntryColumns,
		e.ID, e.UserID, e.ProjectID, nullString(e.TaskID), e.Category, e.Notes, e.StartedAt, e.EndedAt, e.DurationSeconds)
	created, err := scanTimeEntry(row)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("insert time entry: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) DeleteTimeEntry(ctx context.Context, userID, entryID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM time_entries WHERE user_id=$1 AND id=$2`, userID, entryID)
	if err != nil {
		return fmt.Errorf("delete time entry: %w", err)
	}
	return requireAffected(res)
}

func timeFilterClause(filter TimeFilter) (string, []any) {
	clauses := []string{"TRUE"}
	args := make([]any, 0, 4)
	add := func(expr string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.ProjectID != "" {
		add("project_id = $%d", filter.ProjectID)
	}
	if filter.From != nil {
		add("started_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("started_at < $%d", *filter.To)
	}
	return strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) ListTimeEntries(ctx context.Context, filter TimeFilter) ([]TimeEntry, error) {
	where, args := timeFilterClause(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE `+where+` ORDER BY started_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list time entries: %w", err)
	}
	defer rows.Close()

	items := make([]TimeEntry, 0)
	for rows.Next() {
		item, err := scanTimeEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan time entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time entries: %w", err)
	}
	return items, nil
}

// TimeTotals sums finished durations by category.
func (s *PostgresStore) TimeTotals(ctx context.Context, filter TimeFilter) (map[string]int64, error) {
	where, args := timeFilterClause(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COALESCE(SUM(duration_seconds), 0)
		FROM time_entries
		WHERE NOT active AND `+where+`
		GROUP BY category
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("sum time entries: %w", err)
	}
	defer rows.Close()

	totals := map[string]int64{}
	for rows.Next() {
		var category string
		var seconds int64
		if err := rows.Scan(&category, &seconds); err != nil {
			return nil, fmt.Errorf("scan time total: %w", err)
		}
		totals[category] = seconds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time totals: %w", err)
	}
	return totals, nil
}
