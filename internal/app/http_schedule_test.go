package app

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"buildtrack/api/internal/baseline"
	"buildtrack/api/internal/export"
	"buildtrack/api/internal/store"
)

func mustDate(value string) time.Time {
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		panic(err)
	}
	return d
}

func seedTask(projectID, id, name, start, end string) store.Task {
	s, e := mustDate(start), mustDate(end)
	return store.Task{
		ID:           id,
		ProjectID:    projectID,
		Name:         name,
		StartDate:    s,
		EndDate:      e,
		DurationDays: durationDays(s, e),
		Status:       store.DefaultTaskStatus,
	}
}

func TestCreateTaskValidation(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)
	token := tokenFor(t, svc, fx.member)
	path := "/api/projects/" + fx.projectID + "/tasks"

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{name: "missing name", body: map[string]any{"startDate": "2025-03-03", "endDate": "2025-03-05"}, want: "name is required"},
		{name: "bad date", body: map[string]any{"name": "A", "startDate": "03/03/2025", "endDate": "2025-03-05"}, want: "startDate must be a YYYY-MM-DD date"},
		{name: "end before start", body: map[string]any{"name": "A", "startDate": "2025-03-05", "endDate": "2025-03-03"}, want: "endDate must not be before startDate"},
		{name: "progress range", body: map[string]any{"name": "A", "startDate": "2025-03-03", "endDate": "2025-03-05", "progress": 120}, want: "progress must be between 0 and 100"},
		{name: "unknown status", body: map[string]any{"name": "A", "startDate": "2025-03-03", "endDate": "2025-03-05", "status": "paused"}, want: "status must be"},
		{name: "ancient start", body: map[string]any{"name": "A", "startDate": "0001-01-01", "endDate": "2025-03-05"}, want: "task dates must fall between"},
		{name: "far future end", body: map[string]any{"name": "A", "startDate": "2025-03-03", "endDate": "9999-12-31"}, want: "task dates must fall between"},
		{name: "too long", body: map[string]any{"name": "A", "startDate": "2025-01-01", "endDate": "2040-01-01"}, want: "a task may last at most"},
		{name: "missing parent", body: map[string]any{"name": "A", "startDate": "2025-03-03", "endDate": "2025-03-05", "parentId": "nope"}, want: "parentId does not match"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, payload := doJSON(t, server, http.MethodPost, path, token, tc.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
			}
			if msg, _ := payload["error"].(string); !strings.HasPrefix(msg, tc.want) {
				t.Fatalf("expected error %q, got %q", tc.want, msg)
			}
		})
	}
	if len(fs.tasks) != 0 {
		t.Fatalf("expected no tasks stored, got %d", len(fs.tasks))
	}
}

func TestCreateTaskCountsBothEnds(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	idx := newFakeSearch()
	svc := newTestService(fs, Deps{Search: idx})
	server := NewHTTPServer(svc, "*", nil)
	token := tokenFor(t, svc, fx.member)

	rr, created := doJSON(t, server, http.MethodPost, "/api/projects/"+fx.projectID+"/tasks", token, map[string]any{
		"name":      "Frame level 1",
		"startDate": "2025-03-03",
		"endDate":   "2025-03-05T00:00:00Z",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if created["durationDays"] != float64(3) {
		t.Fatalf("expected durationDays 3, got %v", created["durationDays"])
	}
	if created["status"] != "not_started" {
		t.Fatalf("expected default status, got %v", created["status"])
	}
	if rec, ok := idx.tasks[created["id"].(string)]; !ok || rec.CompanyID != "acme" {
		t.Fatalf("expected task indexed with company, got %+v", rec)
	}

	rr, single := doJSON(t, server, http.MethodPost, "/api/projects/"+fx.projectID+"/tasks", token, map[string]any{
		"name":      "Inspection",
		"startDate": "2025-03-07",
		"endDate":   "2025-03-07",
	})
	if rr.Code != http.StatusCreated || single["durationDays"] != float64(1) {
		t.Fatalf("expected one-day task, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUpdateAndDeleteTask(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	fs.tasks["t1"] = seedTask(fx.projectID, "t1", "Excavation", "2025-03-03", "2025-03-05")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)
	token := tokenFor(t, svc, fx.member)
	path := "/api/projects/" + fx.projectID + "/tasks/t1"

	rr, payload := doJSON(t, server, http.MethodPut, path, token, map[string]any{
		"name": "Excavation", "startDate": "2025-03-03", "endDate": "2025-03-05", "parentId": "t1",
	})
	if rr.Code != http.StatusUnprocessableEntity || payload["error"] != "a task cannot be its own parent" {
		t.Fatalf("expected self-parent rejected, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, updated := doJSON(t, server, http.MethodPatch, path, token, map[string]any{
		"name": "Bulk excavation", "startDate": "2025-03-03", "endDate": "2025-03-09", "progress": 40, "status": "in_progress",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if updated["durationDays"] != float64(7) || updated["progress"] != float64(40) {
		t.Fatalf("unexpected update %v", updated)
	}

	rr, _ = doJSON(t, server, http.MethodDelete, path, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected delete 200, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodGet, path, token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestParentChainCannotLoop(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	fs.tasks["a"] = seedTask(fx.projectID, "a", "Foundations", "2025-03-03", "2025-03-05")
	fs.tasks["b"] = seedTask(fx.projectID, "b", "Footings", "2025-03-04", "2025-03-06")
	fs.tasks["c"] = seedTask(fx.projectID, "c", "Pour", "2025-03-06", "2025-03-06")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)
	token := tokenFor(t, svc, fx.member)
	taskPath := func(id string) string { return "/api/projects/" + fx.projectID + "/tasks/" + id }

	rr, _ := doJSON(t, server, http.MethodPut, taskPath("b"), token, map[string]any{
		"name": "Footings", "startDate": "2025-03-04", "endDate": "2025-03-06", "parentId": "a",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("b under a: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, server, http.MethodPut, taskPath("c"), token, map[string]any{
		"name": "Pour", "startDate": "2025-03-06", "endDate": "2025-03-06", "parentId": "b",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("c under b: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	for _, parent := range []string{"b", "c"} {
		rr, payload := doJSON(t, server, http.MethodPut, taskPath("a"), token, map[string]any{
			"name": "Foundations", "startDate": "2025-03-03", "endDate": "2025-03-05", "parentId": parent,
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("a under %s: expected 422, got %d body=%s", parent, rr.Code, rr.Body.String())
		}
		if msg, _ := payload["error"].(string); !strings.Contains(msg, "own ancestor") {
			t.Fatalf("a under %s: unexpected error %q", parent, msg)
		}
	}
	if fs.tasks["a"].ParentID != "" {
		t.Fatalf("a should stay a root, parent %q", fs.tasks["a"].ParentID)
	}

	rr, layout := doJSON(t, server, http.MethodGet, "/api/projects/"+fx.projectID+"/gantt", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("gantt: expected 200, got %d", rr.Code)
	}
	if bars := layout["bars"].([]any); len(bars) != 3 {
		t.Fatalf("expected a bar per task, got %d", len(bars))
	}
}

func TestGanttKeepsTasksCaughtInStoredLoop(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	a := seedTask(fx.projectID, "a", "Foundations", "2025-03-03", "2025-03-05")
	a.ParentID = "b"
	b := seedTask(fx.projectID, "b", "Footings", "2025-03-04", "2025-03-06")
	b.ParentID = "a"
	fs.tasks["a"], fs.tasks["b"] = a, b
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)

	rr, layout := doJSON(t, server, http.MethodGet, "/api/projects/"+fx.projectID+"/gantt", tokenFor(t, svc, fx.viewer), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if bars := layout["bars"].([]any); len(bars) != 2 {
		t.Fatalf("expected both looped tasks on the timeline, got %d bars", len(bars))
	}
}

func TestViewerCannotWriteTasks(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/projects/"+fx.projectID+"/tasks", tokenFor(t, svc, fx.viewer), map[string]any{
		"name": "A", "startDate": "2025-03-03", "endDate": "2025-03-05",
	})
	if rr.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGanttLayout(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	stage := seedTask(fx.projectID, "s1", "Substructure", "2025-03-03", "2025-03-14")
	stage.IsStage = true
	child := seedTask(fx.projectID, "c1", "Piling", "2025-03-03", "2025-03-05")
	child.ParentID = "s1"
	fs.tasks["s1"] = stage
	fs.tasks["c1"] = child
	fs.dependencies["d1"] = store.TaskDependency{ID: "d1", ProjectID: fx.projectID, PredecessorTaskID: "c1", SuccessorTaskID: "s1", Type: "finish_to_start"}
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)
	token := tokenFor(t, svc, fx.viewer)
	path := "/api/projects/" + fx.projectID + "/gantt"

	rr, layout := doJSON(t, server, http.MethodGet, path, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	bars := layout["bars"].([]any)
	if len(bars) != 2 {
		t.Fatalf("expected both rows expanded by default, got %d", len(bars))
	}
	window := layout["window"].(map[string]any)
	if !strings.HasPrefix(window["start"].(string), "2025-03-01") {
		t.Fatalf("expected window to start at month start, got %v", window["start"])
	}
	piling := bars[1].(map[string]any)
	if piling["left"] != float64(80) || piling["width"] != float64(120) {
		t.Fatalf("expected piling at left 80 width 120, got left=%v width=%v", piling["left"], piling["width"])
	}
	if links := layout["links"].([]any); len(links) != 1 {
		t.Fatalf("expected one link, got %v", layout["links"])
	}

	rr, collapsed := doJSON(t, server, http.MethodGet, path+"?expanded=&zoom=2", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if bars := collapsed["bars"].([]any); len(bars) != 1 {
		t.Fatalf("expected collapsed stage to hide child, got %d bars", len(bars))
	}
	if collapsed["dayWidth"] != float64(80) {
		t.Fatalf("expected zoomed day width 80, got %v", collapsed["dayWidth"])
	}

	rr, shifted := doJSON(t, server, http.MethodGet, path+"?offset=1", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if start := shifted["window"].(map[string]any)["start"].(string); !strings.HasPrefix(start, "2025-04-01") {
		t.Fatalf("expected window shifted to April, got %s", start)
	}
}

func TestRescheduleTaskKeepsDuration(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	fs.tasks["t1"] = seedTask(fx.projectID, "t1", "Excavation", "2025-03-03", "2025-03-05")
	events := &recordedEvents{}
	svc := newTestService(fs, Deps{Events: events})
	server := NewHTTPServer(svc, "*", nil)
	token := tokenFor(t, svc, fx.member)

	rr, moved := doJSON(t, server, http.MethodPost, "/api/projects/"+fx.projectID+"/tasks/t1/reschedule", token, map[string]any{
		"x":    400,
		"zoom": 1,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := fs.tasks["t1"]
	if !got.StartDate.Equal(mustDate("2025-03-11")) || !got.EndDate.Equal(mustDate("2025-03-13")) {
		t.Fatalf("expected Mar 11-13, got %s - %s", got.StartDate.Format(time.DateOnly), got.EndDate.Format(time.DateOnly))
	}
	if moved["durationDays"] != float64(3) {
		t.Fatalf("expected duration 3, got %v", moved["durationDays"])
	}
	if tables := events.tables(); len(tables) != 1 || tables[0] != "tasks:UPDATE" {
		t.Fatalf("expected one task update event, got %v", tables)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/projects/"+fx.projectID+"/tasks/t1/reschedule", token, map[string]any{
		"x":           0,
		"zoom":        1,
		"windowStart": "2025-04-01",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := fs.tasks["t1"]; !got.StartDate.Equal(mustDate("2025-04-01")) || !got.EndDate.Equal(mustDate("2025-04-03")) {
		t.Fatalf("expected Apr 1-3 with explicit window, got %s", got.StartDate.Format(time.DateOnly))
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/projects/"+fx.projectID+"/tasks/t1/reschedule", token, map[string]any{
		"x":    4e8,
		"zoom": 1,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a drop centuries away, got %d", rr.Code)
	}
	if got := fs.tasks["t1"]; !got.StartDate.Equal(mustDate("2025-04-01")) {
		t.Fatalf("rejected drop moved the task to %s", got.StartDate.Format(time.DateOnly))
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/projects/"+fx.projectID+"/tasks/missing/reschedule", token, map[string]any{"x": 40})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", rr.Code)
	}
}

func TestDependencies(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	fs.tasks["a"] = seedTask(fx.projectID, "a", "A", "2025-03-03", "2025-03-05")
	fs.tasks["b"] = seedTask(fx.projectID, "b", "B", "2025-03-06", "2025-03-08")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)
	token := tokenFor(t, svc, fx.member)
	path := "/api/projects/" + fx.projectID + "/dependencies"

	rr, payload := doJSON(t, server, http.MethodPost, path, token, map[string]any{"predecessorTaskId": "a", "successorTaskId": "a"})
	if rr.Code != http.StatusUnprocessableEntity || payload["error"] != "a task cannot depend on itself" {
		t.Fatalf("expected self dependency rejected, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, server, http.MethodPost, path, token, map[string]any{"predecessorTaskId": "a", "successorTaskId": "zzz"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected unknown task rejected, got %d", rr.Code)
	}

	rr, created := doJSON(t, server, http.MethodPost, path, token, map[string]any{"predecessorTaskId": "a", "successorTaskId": "b", "lagDays": 2})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if created["type"] != "FS" {
		t.Fatalf("expected default dependency type, got %v", created["type"])
	}

	rr, listed := doJSON(t, server, http.MethodGet, path, token, nil)
	if rr.Code != http.StatusOK || len(listed["dependencies"].([]any)) != 1 {
		t.Fatalf("expected one dependency, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, server, http.MethodDelete, path+"/"+created["id"].(string), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected delete 200, got %d", rr.Code)
	}
}

func TestExportSchedule(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	fs.tasks["t1"] = seedTask(fx.projectID, "t1", "Excavation", "2025-03-03", "2025-03-05")

	without := NewHTTPServer(newTestService(fs, Deps{}), "*", nil)
	svc := newTestService(fs, Deps{Exporter: export.NewService(nil)})
	server := NewHTTPServer(svc, "*", nil)
	token := tokenFor(t, svc, fx.viewer)
	path := "/api/projects/" + fx.projectID + "/export"

	rr, payload := doJSON(t, without, http.MethodGet, path, token, nil)
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "EXPORT_UNAVAILABLE" {
		t.Fatalf("expected 503 EXPORT_UNAVAILABLE, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, server, http.MethodGet, path+"?format=xlsx", token, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown format, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodGet, path, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html content type, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") || !strings.Contains(cd, ".html") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Riverside Tower") || !strings.Contains(body, "Excavation") {
		t.Fatalf("expected project title and task in export")
	}
}

func TestBaselinesAndVariance(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	fs.tasks["t1"] = seedTask(fx.projectID, "t1", "Excavation", "2025-03-03", "2025-03-05")
	fs.tasks["t2"] = seedTask(fx.projectID, "t2", "Footings", "2025-03-06", "2025-03-10")

	unconfigured := NewHTTPServer(newTestService(fs, Deps{}), "*", nil)
	svc := newTestService(fs, Deps{Baselines: baseline.New(t.TempDir())})
	server := NewHTTPServer(svc, "*", nil)
	member := tokenFor(t, svc, fx.member)
	viewer := tokenFor(t, svc, fx.viewer)
	path := "/api/projects/" + fx.projectID + "/baselines"

	rr, payload := doJSON(t, unconfigured, http.MethodGet, path, member, nil)
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "BASELINES_UNAVAILABLE" {
		t.Fatalf("expected 503 BASELINES_UNAVAILABLE, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodPost, path, viewer, map[string]any{"name": "Contract"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected viewer baseline 403, got %d", rr.Code)
	}

	rr, info := doJSON(t, server, http.MethodPost, path, member, map[string]any{"name": "Contract"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	hash, _ := info["hash"].(string)
	if hash == "" {
		t.Fatalf("expected baseline hash, got %v", info)
	}

	// Slip footings by two days and drop excavation.
	footings := fs.tasks["t2"]
	footings.EndDate = mustDate("2025-03-12")
	fs.tasks["t2"] = footings
	delete(fs.tasks, "t1")

	rr, listed := doJSON(t, server, http.MethodGet, path, viewer, nil)
	if rr.Code != http.StatusOK || len(listed["baselines"].([]any)) != 1 {
		t.Fatalf("expected one baseline, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, detail := doJSON(t, server, http.MethodGet, path+"/"+hash, viewer, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	snapshot := detail["snapshot"].(map[string]any)
	if tasks := snapshot["tasks"].([]any); len(tasks) != 2 {
		t.Fatalf("expected two tasks in snapshot, got %d", len(tasks))
	}

	rr, variance := doJSON(t, server, http.MethodGet, path+"/"+hash+"/variance", viewer, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	statuses := map[string]string{}
	for _, item := range variance["variance"].([]any) {
		row := item.(map[string]any)
		statuses[row["taskId"].(string)] = row["status"].(string)
	}
	if statuses["t2"] != "slipped" || statuses["t1"] != "removed" {
		t.Fatalf("unexpected variance %v", statuses)
	}

	rr, _ = doJSON(t, server, http.MethodGet, path+"/deadbeefdeadbeef", viewer, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown baseline, got %d", rr.Code)
	}
}
