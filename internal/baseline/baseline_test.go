package baseline

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleTasks() []Task {
	return []Task{
		{ID: "tsk_b", Name: "Framing", StartDate: day("2025-03-10"), EndDate: day("2025-03-20"), DurationDays: 10},
		{ID: "tsk_a", Name: "Foundations", StartDate: day("2025-03-01"), EndDate: day("2025-03-09"), DurationDays: 8},
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	history, err := svc.History("prj_1", 10)
	if err != nil {
		t.Fatalf("History() before snapshot error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}

	first, err := svc.Snapshot("prj_1", "Contract baseline", sampleTasks(), "Avery")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(first.Hash) != 7 {
		t.Fatalf("expected short hash, got %q", first.Hash)
	}
	if first.Name != "Contract baseline" || first.Author != "Avery" {
		t.Fatalf("unexpected info %+v", first)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "prj_1", scheduleFile)); err != nil {
		t.Fatalf("schedule file missing: %v", err)
	}

	second, err := svc.Snapshot("prj_1", "", sampleTasks(), "Avery")
	if err != nil {
		t.Fatalf("second Snapshot() error = %v", err)
	}
	if second.Hash == first.Hash {
		t.Fatal("identical schedules should still produce a new baseline")
	}

	history, err = svc.History("prj_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 baselines, got %d", len(history))
	}
	if history[0].Hash != second.Hash {
		t.Fatalf("expected newest first, got %s", history[0].Hash)
	}

	limited, err := svc.History("prj_1", 1)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	snapshot, info, err := svc.Get("prj_1", first.Hash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if info.Hash != first.Hash {
		t.Fatalf("Get() info hash = %s, want %s", info.Hash, first.Hash)
	}
	if len(snapshot.Tasks) != 2 || snapshot.Tasks[0].ID != "tsk_a" {
		t.Fatalf("expected tasks sorted by id, got %+v", snapshot.Tasks)
	}
	if !snapshot.Tasks[1].EndDate.Equal(day("2025-03-20")) {
		t.Fatalf("unexpected end date %s", snapshot.Tasks[1].EndDate)
	}
}

func TestGetUnknownBaseline(t *testing.T) {
	svc := New(t.TempDir())

	if _, _, err := svc.Get("prj_missing", "abc1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing repo, got %v", err)
	}

	if _, err := svc.Snapshot("prj_1", "Initial", sampleTasks(), "Avery"); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, _, err := svc.Get("prj_1", "0000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
}

func TestConcurrentSnapshotsSameProject(t *testing.T) {
	svc := New(t.TempDir())

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Snapshot("prj_1", "Weekly", sampleTasks(), "Avery"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Snapshot() error = %v", err)
	}

	history, err := svc.History("prj_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 baselines, got %d", len(history))
	}
}

func TestVariance(t *testing.T) {
	base := Snapshot{Tasks: []Task{
		{ID: "a", Name: "Foundations", StartDate: day("2025-03-01"), EndDate: day("2025-03-09")},
		{ID: "b", Name: "Framing", StartDate: day("2025-03-10"), EndDate: day("2025-03-20")},
		{ID: "c", Name: "Roofing", StartDate: day("2025-03-21"), EndDate: day("2025-03-25")},
		{ID: "d", Name: "Demolition", StartDate: day("2025-02-20"), EndDate: day("2025-02-28")},
	}}
	current := []Task{
		{ID: "c", Name: "Roofing", StartDate: day("2025-03-19"), EndDate: day("2025-03-23")},
		{ID: "b", Name: "Framing", StartDate: day("2025-03-12"), EndDate: day("2025-03-24")},
		{ID: "a", Name: "Foundations", StartDate: day("2025-03-01"), EndDate: day("2025-03-09")},
		{ID: "e", Name: "Landscaping", StartDate: day("2025-04-01"), EndDate: day("2025-04-05")},
	}

	got := Variance(base, current)
	if len(got) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(got))
	}

	tests := []struct {
		id     string
		status VarianceStatus
		start  int
		end    int
	}{
		{id: "a", status: OnTrack},
		{id: "b", status: Slipped, start: 2, end: 4},
		{id: "c", status: Ahead, start: -2, end: -2},
		{id: "d", status: Removed},
		{id: "e", status: Added},
	}
	for i, tt := range tests {
		row := got[i]
		if row.TaskID != tt.id {
			t.Fatalf("row %d: task = %s, want %s", i, row.TaskID, tt.id)
		}
		if row.Status != tt.status {
			t.Fatalf("%s: status = %s, want %s", tt.id, row.Status, tt.status)
		}
		if row.StartSlipDays != tt.start || row.EndSlipDays != tt.end {
			t.Fatalf("%s: slip = %d/%d, want %d/%d", tt.id, row.StartSlipDays, row.EndSlipDays, tt.start, tt.end)
		}
	}
	if got[3].CurrentStart != nil {
		t.Fatal("removed task should have no current dates")
	}
	if got[4].BaselineStart != nil {
		t.Fatal("added task should have no baseline dates")
	}
}

func TestTagName(t *testing.T) {
	tests := map[string]string{
		"Contract Baseline": "baseline-contract-baseline",
		"  Q3 / rev #2 ":    "baseline-q3-rev-2",
		"!!!":               "baseline-unnamed",
	}
	for input, want := range tests {
		if got := tagName(input); got != want {
			t.Fatalf("tagName(%q) = %q, want %q", input, got, want)
		}
	}
}
