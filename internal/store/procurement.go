package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const rfqColumns = `id, project_id, title, trade_category, due_date, status, created_at`

func scanRFQ(row interface{ Scan(...any) error }) (RFQ, error) {
	var r RFQ
	var due sql.NullTime
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Title, &r.TradeCategory, &due, &r.Status, &r.CreatedAt); err != nil {
		return RFQ{}, err
	}
	if due.Valid {
		t := due.Time
		r.DueDate = &t
	}
	return r, nil
}

func (s *PostgresStore) ListRFQs(ctx context.Context, projectID string) ([]RFQ, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rfqColumns+` FROM rfqs WHERE project_id=$1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list rfqs: %w", err)
	}
	defer rows.Close()

	items := make([]RFQ, 0)
	for rows.Next() {
		item, err := scanRFQ(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rfq: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rfqs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetRFQ(ctx context.Context, rfqID string) (RFQ, error) {
	return scanRFQ(s.db.QueryRowContext(ctx, `SELECT `+rfqColumns+` FROM rfqs WHERE id=$1`, rfqID))
}

func (s *PostgresStore) InsertRFQ(ctx context.Context, r RFQ) (RFQ, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rfqs (id, project_id, title, trade_category, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+rfqColumns, r.ID, r.ProjectID, r.Title, r.TradeCategory, r.DueDate, r.Status)
	created, err := scanRFQ(row)
	if err != nil {
		return RFQ{}, fmt.Errorf("insert rfq: %w", err)
	}
	return created, nil
}

// UpdateRFQStatus moves an RFQ from one status to another. It fails with
// ErrConflict when the row is no longer in the expected status.
func (s *PostgresStore) UpdateRFQStatus(ctx context.Context, rfqID, from, to string) (RFQ, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE rfqs SET status=$3 WHERE id=$1 AND status=$2
		RETURNING `+rfqColumns, rfqID, from, to)
	updated, err := scanRFQ(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RFQ{}, fmt.Errorf("update rfq status: %w", ErrConflict)
	}
	if err != nil {
		return RFQ{}, fmt.Errorf("update rfq status: %w", err)
	}
	return updated, nil
}

const quoteColumns = `id, rfq_id, vendor_id, amount_cents, notes, status, created_at`

func scanQuote(row interface{ Scan(...any) error }) (Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.RFQID, &q.VendorID, &q.AmountCents, &q.Notes, &q.Status, &q.CreatedAt)
	return q, err
}

func (s *PostgresStore) ListQuotes(ctx context.Context, rfqID string) ([]Quote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE rfq_id=$1 ORDER BY amount_cents, created_at`, rfqID)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	items := make([]Quote, 0)
	for rows.Next() {
		item, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	return scanQuote(s.db.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id=$1`, quoteID))
}

func (s *PostgresStore) InsertQuote(ctx context.Context, q Quote) (Quote, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO quotes (id, rfq_id, vendor_id, amount_cents, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+quoteColumns, q.ID, q.RFQID, q.VendorID, q.AmountCents, q.Notes, q.Status)
	created, err := scanQuote(row)
	if err != nil {
		return Quote{}, fmt.Errorf("insert quote: %w", err)
	}
	return created, nil
}

// DecideQuote sets a pending quote's outcome. When commitment is non-nil it is
// inserted in the same transaction.
func (s *PostgresStore) DecideQuote(ctx context.Context, quoteID, from, to string, commitment *Commitment) (Quote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("begin decide quote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE quotes SET status=$3 WHERE id=$1 AND status=$2
		RETURNING `+quoteColumns, quoteID, from, to)
	decided, err := scanQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Quote{}, fmt.Errorf("decide quote: %w", ErrConflict)
	}
	if err != nil {
		return Quote{}, fmt.Errorf("decide quote: %w", err)
	}

	if commitment != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO commitments (id, project_id, vendor_id, rfq_id, title, value_cents, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, commitment.ID, commitment.ProjectID, commitment.VendorID, nullString(commitment.RFQID),
			commitment.Title, commitment.ValueCents, commitment.Status); err != nil {
			return Quote{}, fmt.Errorf("insert commitment from quote: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Quote{}, fmt.Errorf("commit decide quote: %w", err)
	}
	return decided, nil
}

const commitmentColumns = `id, project_id, vendor_id, COALESCE(rfq_id, ''), title, value_cents, status, created_at`

func scanCommitment(row interface{ Scan(...any) error }) (Commitment, error) {
	var c Commitment
	err := row.Scan(&c.ID, &c.ProjectID, &c.VendorID, &c.RFQID, &c.Title, &c.ValueCents, &c.Status, &c.CreatedAt)
	return c, err
}

func (s *PostgresStore) ListCommitments(ctx context.Context, projectID string) ([]Commitment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE project_id=$1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	items := make([]Commitment, 0)
	for rows.Next() {
		item, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commitments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCommitment(ctx context.Context, commitmentID string) (Commitment, error) {
	return scanCommitment(s.db.QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE id=$1`, commitmentID))
}

func (s *PostgresStore) InsertCommitment(ctx context.Context, c Commitment) (Commitment, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO commitments (id, project_id, vendor_id, rfq_id, title, value_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+commitmentColumns, c.ID, c.ProjectID, c.VendorID, nullString(c.RFQID), c.Title, c.ValueCents, c.Status)
	created, err := scanCommitment(row)
	if err != nil {
		return Commitment{}, fmt.Errorf("insert commitment: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateCommitmentStatus(ctx context.Context, commitmentID, from, to string) (Commitment, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE commitments SET status=$3 WHERE id=$1 AND status=$2
		RETURNING `+commitmentColumns, commitmentID, from, to)
	updated, err := scanCommitment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Commitment{}, fmt.Errorf("update commitment status: %w", ErrConflict)
	}
	if err != nil {
		return Commitment{}, fmt.Errorf("update commitment status: %w", err)
	}
	return updated, nil
}

const approvalColumns = `id, project_id, subject_type, subject_id, requested_by, COALESCE(approver_id, ''),
	status, note, decided_at, created_at`

func scanApproval(row interface{ Scan(...any) error }) (Approval, error) {
	var a Approval
	var decided sql.NullTime
	if err := row.Scan(&a.ID, &a.ProjectID, &a.SubjectType, &a.SubjectID, &a.RequestedBy, &a.ApproverID,
		&a.Status, &a.Note, &decided, &a.CreatedAt); err != nil {
		return Approval{}, err
	}
	if decided.Valid {
		t := decided.Time
		a.DecidedAt = &t
	}
	return a, nil
}

// ListApprovals returns approvals for a project, or across all projects of a
// company when projectID is empty. status filters when set.
func (s *PostgresStore) ListApprovals(ctx context.Context, companyID, projectID, status string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.project_id, a.subject_type, a.subject_id, a.requested_by, COALESCE(a.approver_id, ''),
			a.status, a.note, a.decided_at, a.created_at
		FROM approvals a
		JOIN projects p ON p.id = a.project_id
		WHERE p.company_id=$1
			AND ($2 = '' OR a.project_id = $2)
			AND ($3 = '' OR a.status = $3)
		ORDER BY a.created_at DESC
	`, companyID, projectID, status)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	items := make([]Approval, 0)
	for rows.Next() {
		item, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, approvalID string) (Approval, error) {
	return scanApproval(s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=$1`, approvalID))
}

func (s *PostgresStore) InsertApproval(ctx context.Context, a Approval) (Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO approvals (id, project_id, subject_type, subject_id, requested_by, approver_id, status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+approvalColumns,
		a.ID, a.ProjectID, a.SubjectType, a.SubjectID, a.RequestedBy, nullString(a.ApproverID), a.Status, a.Note)
	created, err := scanApproval(row)
	if err != nil {
		return Approval{}, fmt.Errorf("insert approval: %w", err)
	}
	return created, nil
}

// DecideApproval records the outcome of a pending approval.
func (s *PostgresStore) DecideApproval(ctx context.Context, approvalID, status, approverID, note string, decidedAt time.Time) (Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE approvals SET status=$2, approver_id=$3, note=$4, decided_at=$5
		WHERE id=$1 AND status='Pending'
		RETURNING `+approvalColumns, approvalID, status, approverID, note, decidedAt)
	decided, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Approval{}, fmt.Errorf("decide approval: %w", ErrConflict)
	}
	if err != nil {
		return Approval{}, fmt.Errorf("decide approval: %w", err)
	}
	return decided, nil
}
