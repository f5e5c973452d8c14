package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"buildtrack/api/internal/util"
)

// openTestStore resets the schema of BUILDTRACK_TEST_DATABASE_URL and applies
// every migration. Tests skip when the variable is not set.
func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("BUILDTRACK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("BUILDTRACK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

type fixture struct {
	company Company
	user    User
	project Project
}

func seedFixture(t *testing.T, ctx context.Context, s *PostgresStore) fixture {
	t.Helper()
	company := Company{ID: util.NewID("co"), Name: "Acme Build"}
	if err := s.CreateCompany(ctx, company); err != nil {
		t.Fatalf("create company: %v", err)
	}
	user := User{ID: util.NewID("usr"), DisplayName: "Avery", Email: "avery@example.com", Role: "manager", CompanyID: company.ID}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	project, err := s.InsertProject(ctx, Project{ID: util.NewID("prj"), CompanyID: company.ID, Name: "Riverside Tower", Status: DefaultProjectStatus})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return fixture{company: company, user: user, project: project}
}

func TestApprovalGuardBlocksChangingDecision(t *testing.T) {
	s, ctx := openTestStore(t)
	f := seedFixture(t, ctx, s)

	approval, err := s.InsertApproval(ctx, Approval{
		ID:          util.NewID("apr"),
		ProjectID:   f.project.ID,
		SubjectType: "commitment",
		SubjectID:   "cmt_1",
		RequestedBy: f.user.ID,
		Status:      "Pending",
	})
	if err != nil {
		t.Fatalf("insert approval: %v", err)
	}
	if _, err := s.DecideApproval(ctx, approval.ID, "Approved", f.user.ID, "ok", time.Now()); err != nil {
		t.Fatalf("decide approval: %v", err)
	}

	if _, err := s.DecideApproval(ctx, approval.ID, "Rejected", f.user.ID, "", time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict deciding twice, got %v", err)
	}

	_, err = s.DB().ExecContext(ctx, `UPDATE approvals SET status='Rejected' WHERE id=$1`, approval.ID)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != sqlStateCheckViolation {
		t.Fatalf("expected check_violation from trigger, got %v", err)
	}

	_, err = s.DB().ExecContext(ctx, `DELETE FROM approvals WHERE id=$1`, approval.ID)
	if !IsCheckViolation(err) {
		t.Fatalf("expected delete to be blocked, got %v", err)
	}
}

func TestStartTimerStopsPreviousEntry(t *testing.T) {
	s, ctx := openTestStore(t)
	f := seedFixture(t, ctx, s)

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	first, stopped, err := s.StartTimer(ctx, TimeEntry{
		ID: util.NewID("te"), UserID: f.user.ID, ProjectID: f.project.ID, Category: "site", StartedAt: start,
	})
	if err != nil {
		t.Fatalf("start first timer: %v", err)
	}
	if stopped != nil {
		t.Fatalf("expected no previous timer, got %+v", stopped)
	}

	_, stopped, err = s.StartTimer(ctx, TimeEntry{
		ID: util.NewID("te"), UserID: f.user.ID, ProjectID: f.project.ID, Category: "office", StartedAt: start.Add(90 * time.Minute),
	})
	if err != nil {
		t.Fatalf("start second timer: %v", err)
	}
	if stopped == nil || stopped.ID != first.ID {
		t.Fatalf("expected first timer to be stopped, got %+v", stopped)
	}
	if stopped.DurationSeconds != 5400 || stopped.Active {
		t.Fatalf("unexpected stopped entry: %+v", stopped)
	}

	totals, err := s.TimeTotals(ctx, TimeFilter{ProjectID: f.project.ID})
	if err != nil {
		t.Fatalf("time totals: %v", err)
	}
	if totals["site"] != 5400 {
		t.Fatalf("expected 5400 site seconds, got %v", totals)
	}
}

func TestRFQStatusCompareAndSwap(t *testing.T) {
	s, ctx := openTestStore(t)
	f := seedFixture(t, ctx, s)

	rfq, err := s.InsertRFQ(ctx, RFQ{ID: util.NewID("rfq"), ProjectID: f.project.ID, Title: "Concrete", Status: "Draft"})
	if err != nil {
		t.Fatalf("insert rfq: %v", err)
	}
	if _, err := s.UpdateRFQStatus(ctx, rfq.ID, "Draft", "Issued"); err != nil {
		t.Fatalf("issue rfq: %v", err)
	}
	if _, err := s.UpdateRFQStatus(ctx, rfq.ID, "Draft", "Issued"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on stale status, got %v", err)
	}
}

func TestDocumentAnalysisStatusUpdates(t *testing.T) {
	s, ctx := openTestStore(t)
	f := seedFixture(t, ctx, s)

	doc, err := s.InsertProjectDocument(ctx, ProjectDocument{
		ID: util.NewID("doc"), ProjectID: f.project.ID, CompanyID: f.company.ID, Name: "boq.pdf",
		Category: "bill_of_quantities", Bucket: DocumentsBucket, ObjectKey: "p/boq.pdf", ProcessingStatus: ProcessingPending,
	})
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}
	if err := s.MarkDocumentProcessing(ctx, doc.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := s.CompleteDocumentAnalysis(ctx, doc.ID, "summary", []byte(`{"items":[]}`), "text"); err != nil {
		t.Fatalf("complete analysis: %v", err)
	}
	got, err := s.GetProjectDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.ProcessingStatus != ProcessingCompleted || got.AISummary != "summary" || string(got.AIAnalysis) == "" {
		t.Fatalf("unexpected document after analysis: %+v", got)
	}

	if err := s.MarkDocumentProcessing(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing document, got %v", err)
	}
}
