package store

import (
	"context"
	"fmt"
	"time"
)

const taskColumns = `id, project_id, COALESCE(parent_id, ''), name, start_date, end_date, duration_days,
	progress, status, is_stage, is_critical, sort_order, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.ParentID, &t.Name, &t.StartDate, &t.EndDate, &t.DurationDays,
		&t.Progress, &t.Status, &t.IsStage, &t.IsCritical, &t.SortOrder, &t.UpdatedAt)
	return t, err
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id=$1
		ORDER BY sort_order, start_date, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, projectID, taskID string) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=$1 AND id=$2`, projectID, taskID))
}

func (s *PostgresStore) InsertTask(ctx context.Context, t Task) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin insert task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, parent_id, name, start_date, end_date, duration_days, progress, status, is_stage, is_critical, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+taskColumns,
		t.ID, t.ProjectID, nullString(t.ParentID), t.Name, t.StartDate, t.EndDate, t.DurationDays,
		t.Progress, t.Status, t.IsStage, t.IsCritical, t.SortOrder)
	created, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := s.touchProject(ctx, tx, t.ProjectID); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit insert task: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t Task) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin update task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE tasks
		SET parent_id=$3, name=$4, start_date=$5, end_date=$6, duration_days=$7, progress=$8,
			status=$9, is_stage=$10, is_critical=$11, sort_order=$12, updated_at=NOW()
		WHERE project_id=$1 AND id=$2
		RETURNING `+taskColumns,
		t.ProjectID, t.ID, nullString(t.ParentID), t.Name, t.StartDate, t.EndDate, t.DurationDays,
		t.Progress, t.Status, t.IsStage, t.IsCritical, t.SortOrder)
	updated, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := s.touchProject(ctx, tx, t.ProjectID); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit update task: %w", err)
	}
	return updated, nil
}

// RescheduleTask moves a task to new dates, keeping everything else.
func (s *PostgresStore) RescheduleTask(ctx context.Context, projectID, taskID string, start, end time.Time, durationDays int) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET start_date=$3, end_date=$4, duration_days=$5, updated_at=NOW()
		WHERE project_id=$1 AND id=$2
		RETURNING `+taskColumns, projectID, taskID, start, end, durationDays)
	updated, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("reschedule task: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, projectID, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=$1 AND id=$2`, projectID, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) ListDependencies(ctx context.Context, projectID string) ([]TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, predecessor_task_id, successor_task_id, type, lag_days
		FROM task_dependencies
		WHERE project_id=$1
		ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	items := make([]TaskDependency, 0)
	for rows.Next() {
		var d TaskDependency
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.PredecessorTaskID, &d.SuccessorTaskID, &d.Type, &d.LagDays); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertDependency(ctx context.Context, d TaskDependency) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_dependencies (id, project_id, predecessor_task_id, successor_task_id, type, lag_days)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.ProjectID, d.PredecessorTaskID, d.SuccessorTaskID, d.Type, d.LagDays)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert dependency: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDependency(ctx context.Context, projectID, dependencyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_dependencies WHERE project_id=$1 AND id=$2`, projectID, dependencyID)
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	return requireAffected(res)
}
