package app

import (
	"context"
	"strings"
	"time"

	"buildtrack/api/internal/rbac"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/store"
	"buildtrack/api/internal/util"
)

const defaultTimeCategory = "general"

type TimerInput struct {
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId"`
	Category  string `json:"category"`
	Notes     string `json:"notes"`
}

type TimeEntryInput struct {
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId"`
	Category  string `json:"category"`
	Notes     string `json:"notes"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt"`
}

// TimeQuery filters the time entry list. Timestamps are RFC 3339 or
// YYYY-MM-DD; To is exclusive.
type TimeQuery struct {
	ProjectID string
	UserID    string
	From      string
	To        string
}

type TimeReport struct {
	Entries      []store.TimeEntry `json:"entries"`
	Totals       map[string]int64  `json:"totals"`
	TotalSeconds int64             `json:"totalSeconds"`
}

func parseTimestamp(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if day, err := time.Parse(time.DateOnly, value); err == nil {
		return day, nil
	}
	return time.Time{}, validationError(field + " must be an RFC 3339 timestamp or a YYYY-MM-DD date")
}

func category(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return defaultTimeCategory
	}
	return value
}

// timeTarget checks the project, and the task when one is named.
func (s *Service) timeTarget(ctx context.Context, session Session, projectID, taskID string) (store.Project, string, error) {
	project, err := s.projectFor(ctx, session, projectID)
	if err != nil {
		return store.Project{}, "", err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID != "" {
		if _, err := s.store.GetTask(ctx, project.ID, taskID); err != nil {
			return store.Project{}, "", validationError("taskId does not match a task in this project")
		}
	}
	return project, taskID, nil
}

// StartTimer starts a running entry for the caller. A timer already running
// is stopped first, so each user has at most one active entry.
func (s *Service) StartTimer(ctx context.Context, session Session, input TimerInput) (store.TimeEntry, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.TimeEntry{}, err
	}
	project, taskID, err := s.timeTarget(ctx, session, input.ProjectID, input.TaskID)
	if err != nil {
		return store.TimeEntry{}, err
	}
	started, stopped, err := s.store.StartTimer(ctx, store.TimeEntry{
		ID:        util.NewID("tim"),
		UserID:    session.UserID,
		ProjectID: project.ID,
		TaskID:    taskID,
		Category:  category(input.Category),
		Notes:     strings.TrimSpace(input.Notes),
		StartedAt: s.now().UTC(),
		Active:    true,
	})
	if err != nil {
		return store.TimeEntry{}, err
	}
	if stopped != nil {
		s.publish(ctx, "time_entries", realtime.Update, session, stopped.ProjectID, stopped)
	}
	s.publish(ctx, "time_entries", realtime.Insert, session, project.ID, started)
	return started, nil
}

func (s *Service) StopTimer(ctx context.Context, session Session, entryID string) (store.TimeEntry, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.TimeEntry{}, err
	}
	stopped, err := s.store.StopTimer(ctx, session.UserID, strings.TrimSpace(entryID), s.now().UTC())
	if err != nil {
		return store.TimeEntry{}, err
	}
	s.publish(ctx, "time_entries", realtime.Update, session, stopped.ProjectID, stopped)
	return stopped, nil
}

func (s *Service) ActiveTimer(ctx context.Context, session Session) (store.TimeEntry, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return store.TimeEntry{}, err
	}
	return s.store.ActiveTimer(ctx, session.UserID)
}

func (s *Service) CreateTimeEntry(ctx context.Context, session Session, input TimeEntryInput) (store.TimeEntry, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return store.TimeEntry{}, err
	}
	startedAt, err := parseTimestamp("startedAt", input.StartedAt)
	if err != nil {
		return store.TimeEntry{}, err
	}
	endedAt, err := parseTimestamp("endedAt", input.EndedAt)
	if err != nil {
		return store.TimeEntry{}, err
	}
	if !endedAt.After(startedAt) {
		return store.TimeEntry{}, validationError("endedAt must be after startedAt")
	}
	project, taskID, err := s.timeTarget(ctx, session, input.ProjectID, input.TaskID)
	if err != nil {
		return store.TimeEntry{}, err
	}
	created, err := s.store.InsertTimeEntry(ctx, store.TimeEntry{
		ID:              util.NewID("tim"),
		UserID:          session.UserID,
		ProjectID:       project.ID,
		TaskID:          taskID,
		Category:        category(input.Category),
		Notes:           strings.TrimSpace(input.Notes),
		StartedAt:       startedAt,
		EndedAt:         &endedAt,
		DurationSeconds: int64(endedAt.Sub(startedAt) / time.Second),
	})
	if err != nil {
		return store.TimeEntry{}, err
	}
	s.publish(ctx, "time_entries", realtime.Insert, session, project.ID, created)
	return created, nil
}

func (s *Service) DeleteTimeEntry(ctx context.Context, session Session, entryID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	entry, err := s.store.GetTimeEntry(ctx, strings.TrimSpace(entryID))
	if err != nil {
		return err
	}
	if err := s.store.DeleteTimeEntry(ctx, session.UserID, entry.ID); err != nil {
		return err
	}
	s.publish(ctx, "time_entries", realtime.Delete, session, entry.ProjectID, map[string]string{"id": entry.ID})
	return nil
}

// ListTimeEntries returns entries and per-category totals. Without a project
// the list covers one user; reading another user's time needs manage rights.
func (s *Service) ListTimeEntries(ctx context.Context, session Session, q TimeQuery) (TimeReport, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return TimeReport{}, err
	}
	filter := store.TimeFilter{
		ProjectID: strings.TrimSpace(q.ProjectID),
		UserID:    strings.TrimSpace(q.UserID),
	}
	if filter.ProjectID != "" {
		if _, err := s.projectFor(ctx, session, filter.ProjectID); err != nil {
			return TimeReport{}, err
		}
	} else if filter.UserID == "" {
		filter.UserID = session.UserID
	}
	if filter.UserID != "" && filter.UserID != session.UserID {
		if err := s.authorize(session, rbac.ActionManage); err != nil {
			return TimeReport{}, err
		}
		other, err := s.store.GetUserByID(ctx, filter.UserID)
		if err != nil || other.CompanyID != session.CompanyID {
			return TimeReport{}, notFound("User not found")
		}
	}
	if strings.TrimSpace(q.From) != "" {
		from, err := parseTimestamp("from", q.From)
		if err != nil {
			return TimeReport{}, err
		}
		filter.From = &from
	}
	if strings.TrimSpace(q.To) != "" {
		to, err := parseTimestamp("to", q.To)
		if err != nil {
			return TimeReport{}, err
		}
		filter.To = &to
	}

	entries, err := s.store.ListTimeEntries(ctx, filter)
	if err != nil {
		return TimeReport{}, err
	}
	totals, err := s.store.TimeTotals(ctx, filter)
	if err != nil {
		return TimeReport{}, err
	}
	var sum int64
	for _, seconds := range totals {
		sum += seconds
	}
	return TimeReport{Entries: entries, Totals: totals, TotalSeconds: sum}, nil
}
