package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole API is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// buildQuery assembles a UNION ALL over the fts columns of projects, tasks
// and vendors, scoped to one company.
func buildQuery(q Query) (countSQL, dataSQL string, args []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args = []any{q.Text, q.CompanyID}
	projectArg := ""
	if q.ProjectID != "" {
		args = append(args, q.ProjectID)
		projectArg = "$3"
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProject {
		where := "p.fts @@ " + tsQuery + " AND p.company_id = $2"
		if projectArg != "" {
			where += " AND p.id = " + projectArg
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.address, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultTask {
		where := "t.fts @@ " + tsQuery + " AND p.company_id = $2"
		if projectArg != "" {
			where += " AND t.project_id = " + projectArg
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.name AS title,
				t.status AS snippet,
				t.project_id,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			JOIN projects p ON p.id = t.project_id
			WHERE %s`, tsQuery, where))
	}

	if (q.FilterType == "" || q.FilterType == ResultVendor) && projectArg == "" {
		where := "v.fts @@ " + tsQuery + " AND v.company_id = $2"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'vendor'::text AS type, v.id, v.name AS title,
				ts_headline('english', coalesce(v.trade_category, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS project_id,
				ts_rank(v.fts, %s) AS rank
			FROM vendors v
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return "", "", nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL = fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL = fmt.Sprintf(`SELECT type, id, title, snippet, project_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)
	return countSQL, dataSQL, args
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.CompanyID == "" {
		return nil, 0, nil
	}
	countSQL, dataSQL, args := buildQuery(q)
	if dataSQL == "" {
		return nil, 0, nil
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TaskRecord, []VendorRecord, error) {
	projectRows, err := p.db.QueryContext(ctx, `SELECT id, company_id, name, address, status FROM projects`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var r ProjectRecord
		if err := projectRows.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Address, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, r)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, p.company_id, t.project_id, t.name, t.status
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var r TaskRecord
		if err := taskRows.Scan(&r.ID, &r.CompanyID, &r.ProjectID, &r.Name, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, r)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	vendorRows, err := p.db.QueryContext(ctx, `
		SELECT id, company_id, name, trade_category, contact_name FROM vendors
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load vendors: %w", err)
	}
	defer vendorRows.Close()

	vendors := make([]VendorRecord, 0)
	for vendorRows.Next() {
		var r VendorRecord
		if err := vendorRows.Scan(&r.ID, &r.CompanyID, &r.Name, &r.TradeCategory, &r.ContactName); err != nil {
			return nil, nil, nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, r)
	}
	if err := vendorRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate vendors: %w", err)
	}

	return projects, tasks, vendors, nil
}
