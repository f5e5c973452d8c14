package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"buildtrack/api/internal/baseline"
	"buildtrack/api/internal/export"
	"buildtrack/api/internal/gantt"
	"buildtrack/api/internal/rbac"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/search"
	"buildtrack/api/internal/store"
	"buildtrack/api/internal/util"
)

type TaskInput struct {
	ParentID   string `json:"parentId"`
	Name       string `json:"name"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	Progress   int    `json:"progress"`
	Status     string `json:"status"`
	IsStage    bool   `json:"isStage"`
	IsCritical bool   `json:"isCritical"`
	SortOrder  int    `json:"sortOrder"`
}

type DependencyInput struct {
	PredecessorTaskID string `json:"predecessorTaskId"`
	SuccessorTaskID   string `json:"successorTaskId"`
	Type              string `json:"type"`
	LagDays           int    `json:"lagDays"`
}

// RescheduleInput is a bar dropped at pixel X on the timeline the client was
// showing. WindowStart is only needed when the client navigated away from the
// derived window.
type RescheduleInput struct {
	X           float64 `json:"x"`
	Zoom        float64 `json:"zoom"`
	WindowStart string  `json:"windowStart"`
}

type GanttOptions struct {
	Zoom         float64
	Expanded     map[string]bool
	ExpandAll    bool
	OffsetMonths int
}

var allowedTaskStatuses = map[string]struct{}{
	"not_started": {},
	"in_progress": {},
	"completed":   {},
	"on_hold":     {},
	"delayed":     {},
}

// Task dates outside this range are rejected; a single task may span at most
// the days one gantt grid materializes.
var (
	earliestTaskDate = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	latestTaskDate   = time.Date(2199, time.December, 31, 0, 0, 0, 0, time.UTC)
)

func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, validationError(field + " is required")
	}
	parsed, err := time.Parse(time.DateOnly, value)
	if err != nil {
		// Accept full timestamps from clients that send ISO strings.
		if ts, tsErr := time.Parse(time.RFC3339, value); tsErr == nil {
			return gantt.Day(ts), nil
		}
		return time.Time{}, validationError(field + " must be a YYYY-MM-DD date")
	}
	return parsed, nil
}

func checkTaskRange(start, end time.Time) error {
	if start.Before(earliestTaskDate) || end.After(latestTaskDate) {
		return validationError("task dates must fall between 1970-01-01 and 2199-12-31")
	}
	if durationDays(start, end) > gantt.MaxWindowDays {
		return validationError(fmt.Sprintf("a task may last at most %d days", gantt.MaxWindowDays))
	}
	return nil
}

// durationDays counts both ends, so a task on a single day lasts one day.
func durationDays(start, end time.Time) int {
	return gantt.DaysBetween(start, end) + 1
}

func (s *Service) buildTask(ctx context.Context, projectID, taskID string, input TaskInput) (store.Task, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Task{}, validationError("name is required")
	}
	start, err := parseDate("startDate", input.StartDate)
	if err != nil {
		return store.Task{}, err
	}
	end, err := parseDate("endDate", input.EndDate)
	if err != nil {
		return store.Task{}, err
	}
	if end.Before(start) {
		return store.Task{}, validationError("endDate must not be before startDate")
	}
	if err := checkTaskRange(start, end); err != nil {
		return store.Task{}, err
	}
	if input.Progress < 0 || input.Progress > 100 {
		return store.Task{}, validationError("progress must be between 0 and 100")
	}
	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status == "" {
		status = store.DefaultTaskStatus
	}
	if _, ok := allowedTaskStatuses[status]; !ok {
		return store.Task{}, validationError("status must be not_started, in_progress, completed, on_hold or delayed")
	}

	parentID := strings.TrimSpace(input.ParentID)
	if parentID != "" {
		if parentID == taskID {
			return store.Task{}, validationError("a task cannot be its own parent")
		}
		if err := s.checkAncestry(ctx, projectID, taskID, parentID); err != nil {
			return store.Task{}, err
		}
	}

	return store.Task{
		ID:           taskID,
		ProjectID:    projectID,
		ParentID:     parentID,
		Name:         name,
		StartDate:    start,
		EndDate:      end,
		DurationDays: durationDays(start, end),
		Progress:     input.Progress,
		Status:       status,
		IsStage:      input.IsStage,
		IsCritical:   input.IsCritical,
		SortOrder:    input.SortOrder,
	}, nil
}

// checkAncestry walks up from parentID and fails if the chain reaches taskID.
func (s *Service) checkAncestry(ctx context.Context, projectID, taskID, parentID string) error {
	seen := map[string]bool{}
	for id := parentID; id != ""; {
		if id == taskID {
			return validationError("parentId would make the task its own ancestor")
		}
		if seen[id] {
			// an existing loop above the new parent; it does not involve this task
			return nil
		}
		seen[id] = true
		parent, err := s.store.GetTask(ctx, projectID, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				if id == parentID {
					return validationError("parentId does not match a task in this project")
				}
				return nil
			}
			return err
		}
		id = parent.ParentID
	}
	return nil
}

func (s *Service) ListTasks(ctx context.Context, session Session, projectID string) ([]store.Task, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, project.ID)
}

func (s *Service) GetTask(ctx context.Context, session Session, projectID, taskID string) (store.Task, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.Task{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.Task{}, err
	}
	return s.store.GetTask(ctx, project.ID, taskID)
}

func (s *Service) CreateTask(ctx context.Context, session Session, projectID string, input TaskInput) (store.Task, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.Task{}, err
	}
	task, err := s.buildTask(ctx, project.ID, util.NewID("tsk"), input)
	if err != nil {
		return store.Task{}, err
	}
	created, err := s.store.InsertTask(ctx, task)
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(project, created)
	s.publish(ctx, "tasks", realtime.Insert, session, project.ID, created)
	return created, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, projectID, taskID string, input TaskInput) (store.Task, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.store.GetTask(ctx, project.ID, taskID); err != nil {
		return store.Task{}, err
	}
	task, err := s.buildTask(ctx, project.ID, taskID, input)
	if err != nil {
		return store.Task{}, err
	}
	updated, err := s.store.UpdateTask(ctx, task)
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(project, updated)
	s.publish(ctx, "tasks", realtime.Update, session, project.ID, updated)
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, projectID, taskID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, project.ID, taskID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	s.publish(ctx, "tasks", realtime.Delete, session, project.ID, map[string]string{"id": taskID})
	return nil
}

func (s *Service) indexTask(project store.Project, t store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:        t.ID,
		CompanyID: project.CompanyID,
		ProjectID: t.ProjectID,
		Name:      t.Name,
		Status:    t.Status,
	})
}

// RescheduleTask applies a timeline drag. The new dates are derived on the
// server from the same grid the client rendered so both agree on the result.
func (s *Service) RescheduleTask(ctx context.Context, session Session, projectID, taskID string, input RescheduleInput) (store.Task, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.Task{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.Task{}, err
	}
	if math.IsNaN(input.X) || math.IsInf(input.X, 0) {
		return store.Task{}, validationError("x must be a finite number")
	}

	tasks, err := s.store.ListTasks(ctx, project.ID)
	if err != nil {
		return store.Task{}, err
	}
	var target *store.Task
	for i := range tasks {
		if tasks[i].ID == taskID {
			target = &tasks[i]
			break
		}
	}
	if target == nil {
		return store.Task{}, notFound("Task not found")
	}

	window := gantt.ComputeWindow(toGanttTasks(tasks), s.now())
	if strings.TrimSpace(input.WindowStart) != "" {
		start, err := parseDate("windowStart", input.WindowStart)
		if err != nil {
			return store.Task{}, err
		}
		window = gantt.Window{Start: start, End: start.AddDate(0, 0, gantt.DaysBetween(window.Start, window.End))}
	}

	grid := gantt.NewGrid(window, input.Zoom)
	start, end := grid.Drag(toGanttTask(*target), input.X)
	if err := checkTaskRange(start, end); err != nil {
		return store.Task{}, err
	}

	updated, err := s.store.RescheduleTask(ctx, project.ID, taskID, start, end, durationDays(start, end))
	if err != nil {
		return store.Task{}, err
	}
	s.publish(ctx, "tasks", realtime.Update, session, project.ID, updated)
	return updated, nil
}

func (s *Service) ListDependencies(ctx context.Context, session Session, projectID string) ([]store.TaskDependency, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.store.ListDependencies(ctx, project.ID)
}

func (s *Service) CreateDependency(ctx context.Context, session Session, projectID string, input DependencyInput) (store.TaskDependency, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.TaskDependency{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.TaskDependency{}, err
	}
	dep := store.TaskDependency{
		ID:                util.NewID("dep"),
		ProjectID:         project.ID,
		PredecessorTaskID: strings.TrimSpace(input.PredecessorTaskID),
		SuccessorTaskID:   strings.TrimSpace(input.SuccessorTaskID),
		Type:              string(gantt.NormalizeDependencyType(strings.TrimSpace(input.Type))),
		LagDays:           input.LagDays,
	}
	if dep.PredecessorTaskID == "" || dep.SuccessorTaskID == "" {
		return store.TaskDependency{}, validationError("predecessorTaskId and successorTaskId are required")
	}
	if dep.PredecessorTaskID == dep.SuccessorTaskID {
		return store.TaskDependency{}, validationError("a task cannot depend on itself")
	}
	for _, id := range []string{dep.PredecessorTaskID, dep.SuccessorTaskID} {
		if _, err := s.store.GetTask(ctx, project.ID, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.TaskDependency{}, validationError(fmt.Sprintf("task %s is not in this project", id))
			}
			return store.TaskDependency{}, err
		}
	}
	if err := s.store.InsertDependency(ctx, dep); err != nil {
		return store.TaskDependency{}, err
	}
	s.publish(ctx, "task_dependencies", realtime.Insert, session, project.ID, dep)
	return dep, nil
}

func (s *Service) DeleteDependency(ctx context.Context, session Session, projectID, dependencyID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDependency(ctx, project.ID, dependencyID); err != nil {
		return err
	}
	s.publish(ctx, "task_dependencies", realtime.Delete, session, project.ID, map[string]string{"id": dependencyID})
	return nil
}

func toGanttTask(t store.Task) gantt.Task {
	return gantt.Task{
		ID:         t.ID,
		ParentID:   t.ParentID,
		Name:       t.Name,
		Start:      t.StartDate,
		End:        t.EndDate,
		Progress:   t.Progress,
		IsStage:    t.IsStage,
		IsCritical: t.IsCritical,
		SortOrder:  t.SortOrder,
	}
}

func toGanttTasks(tasks []store.Task) []gantt.Task {
	out := make([]gantt.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toGanttTask(t))
	}
	return out
}

func toGanttDependencies(deps []store.TaskDependency) []gantt.Dependency {
	out := make([]gantt.Dependency, 0, len(deps))
	for _, d := range deps {
		out = append(out, gantt.Dependency{
			PredecessorID: d.PredecessorTaskID,
			SuccessorID:   d.SuccessorTaskID,
			Type:          gantt.NormalizeDependencyType(d.Type),
			LagDays:       d.LagDays,
		})
	}
	return out
}

func (s *Service) layout(ctx context.Context, projectID string, opts GanttOptions) (gantt.Layout, error) {
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return gantt.Layout{}, err
	}
	deps, err := s.store.ListDependencies(ctx, projectID)
	if err != nil {
		return gantt.Layout{}, err
	}

	expanded := opts.Expanded
	if opts.ExpandAll {
		expanded = make(map[string]bool, len(tasks))
		for _, t := range tasks {
			expanded[t.ID] = true
		}
	}

	now := s.now()
	ganttTasks := toGanttTasks(tasks)
	in := gantt.Input{
		Tasks:        ganttTasks,
		Dependencies: toGanttDependencies(deps),
		Expanded:     expanded,
		Zoom:         opts.Zoom,
		Now:          now,
	}
	if opts.OffsetMonths != 0 {
		in.Window = gantt.Navigate(gantt.ComputeWindow(ganttTasks, now), opts.OffsetMonths)
	}
	return gantt.Build(in), nil
}

func (s *Service) Gantt(ctx context.Context, session Session, projectID string, opts GanttOptions) (gantt.Layout, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return gantt.Layout{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return gantt.Layout{}, err
	}
	return s.layout(ctx, project.ID, opts)
}

func (s *Service) ExportSchedule(ctx context.Context, session Session, projectID, format string, zoom float64) (*export.Result, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	parsed, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	layout, err := s.layout(ctx, project.ID, GanttOptions{Zoom: zoom, ExpandAll: true})
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		Format:      parsed,
		Title:       project.Name,
		Subtitle:    project.Address,
		Layout:      layout,
		GeneratedAt: s.now().UTC(),
	})
}

func (s *Service) requireBaselines() error {
	if s.baselines == nil {
		return domainError(http.StatusServiceUnavailable, "BASELINES_UNAVAILABLE", "Baselines are not configured", nil)
	}
	return nil
}

func toBaselineTasks(tasks []store.Task) []baseline.Task {
	out := make([]baseline.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, baseline.Task{
			ID:           t.ID,
			ParentID:     t.ParentID,
			Name:         t.Name,
			Status:       t.Status,
			StartDate:    t.StartDate,
			EndDate:      t.EndDate,
			DurationDays: t.DurationDays,
			Progress:     t.Progress,
			IsCritical:   t.IsCritical,
		})
	}
	return out
}

func (s *Service) CreateBaseline(ctx context.Context, session Session, projectID, name string) (baseline.Info, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return baseline.Info{}, err
	}
	if err := s.requireBaselines(); err != nil {
		return baseline.Info{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return baseline.Info{}, err
	}
	tasks, err := s.store.ListTasks(ctx, project.ID)
	if err != nil {
		return baseline.Info{}, err
	}
	info, err := s.baselines.Snapshot(project.ID, strings.TrimSpace(name), toBaselineTasks(tasks), session.UserName)
	if err != nil {
		return baseline.Info{}, err
	}
	s.publish(ctx, "baselines", realtime.Insert, session, project.ID, info)
	return info, nil
}

func (s *Service) ListBaselines(ctx context.Context, session Session, projectID string, limit int) ([]baseline.Info, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if err := s.requireBaselines(); err != nil {
		return nil, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return s.baselines.History(project.ID, limit)
}

func (s *Service) GetBaseline(ctx context.Context, session Session, projectID, hash string) (baseline.Snapshot, baseline.Info, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return baseline.Snapshot{}, baseline.Info{}, err
	}
	if err := s.requireBaselines(); err != nil {
		return baseline.Snapshot{}, baseline.Info{}, err
	}
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return baseline.Snapshot{}, baseline.Info{}, err
	}
	return s.baselines.Get(project.ID, hash)
}

func (s *Service) BaselineVariance(ctx context.Context, session Session, projectID, hash string) (baseline.Info, []baseline.TaskVariance, error) {
	snapshot, info, err := s.GetBaseline(ctx, session, projectID, hash)
	if err != nil {
		return baseline.Info{}, nil, err
	}
	tasks, err := s.store.ListTasks(ctx, snapshot.ProjectID)
	if err != nil {
		return baseline.Info{}, nil, err
	}
	return info, baseline.Variance(snapshot, toBaselineTasks(tasks)), nil
}
