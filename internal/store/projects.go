package store

import (
	"context"
	"database/sql"
	"fmt"
)

const projectColumns = `id, company_id, name, address, status, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Address, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) ListProjects(ctx context.Context, companyID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE company_id=$1
		ORDER BY updated_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID))
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, company_id, name, address, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+projectColumns, p.ID, p.CompanyID, p.Name, p.Address, p.Status)
	created, err := scanProject(row)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p Project) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE projects SET name=$2, address=$3, status=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING `+projectColumns, p.ID, p.Name, p.Address, p.Status)
	updated, err := scanProject(row)
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) touchProject(ctx context.Context, tx *sql.Tx, projectID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at=NOW() WHERE id=$1`, projectID); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}

// ProjectSummary rolls up schedule, procurement and time figures for the
// dashboard.
func (s *PostgresStore) ProjectSummary(ctx context.Context, projectID string) (ProjectSummary, error) {
	summary := ProjectSummary{
		ProjectID:     projectID,
		TasksByStatus: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(progress), 0)
		FROM tasks
		WHERE project_id=$1 AND NOT is_stage
		GROUP BY status
	`, projectID)
	if err != nil {
		return ProjectSummary{}, fmt.Errorf("summarize tasks: %w", err)
	}
	defer rows.Close()

	var progressTotal int
	for rows.Next() {
		var status string
		var count, progress int
		if err := rows.Scan(&status, &count, &progress); err != nil {
			return ProjectSummary{}, fmt.Errorf("scan task summary: %w", err)
		}
		summary.TasksByStatus[status] = count
		summary.TaskCount += count
		progressTotal += progress
	}
	if err := rows.Err(); err != nil {
		return ProjectSummary{}, fmt.Errorf("iterate task summary: %w", err)
	}
	if summary.TaskCount > 0 {
		summary.AverageProgress = float64(progressTotal) / float64(summary.TaskCount)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM rfqs WHERE project_id=$1 AND status <> 'Closed'),
			(SELECT COALESCE(SUM(value_cents), 0) FROM commitments WHERE project_id=$1 AND status <> 'Draft'),
			(SELECT COUNT(*) FROM approvals WHERE project_id=$1 AND status = 'Pending'),
			(SELECT COUNT(*) FROM time_entries WHERE project_id=$1 AND active),
			(SELECT COALESCE(SUM(duration_seconds), 0) FROM time_entries WHERE project_id=$1 AND NOT active),
			(SELECT COUNT(*) FROM project_documents WHERE project_id=$1 AND processing_status = 'completed')
	`, projectID).Scan(
		&summary.OpenRFQs,
		&summary.CommittedCents,
		&summary.PendingApprovals,
		&summary.ActiveTimers,
		&summary.TrackedSeconds,
		&summary.DocumentsProcessed,
	)
	if err != nil {
		return ProjectSummary{}, fmt.Errorf("summarize project: %w", err)
	}
	return summary, nil
}
