// Package gantt lays out project tasks on a day grid for the timeline view.
//
// Everything here is a pure function of its inputs: the same task list, zoom
// and clock produce the same pixel coordinates. Dates are treated as civil
// days and normalized to midnight UTC before any arithmetic.
package gantt

import "time"

const (
	// BaseDayWidth is the pixel width of one day at zoom factor 1.
	BaseDayWidth = 40.0
	MinZoom      = 0.25
	MaxZoom      = 4.0
	ZoomStep     = 1.25

	// WindowBufferDays pads the view past the latest task end.
	WindowBufferDays = 30
	// MaxWindowDays caps how many days a grid materializes. Bars past the
	// cap are still placed by day arithmetic.
	MaxWindowDays = 3660
	RowHeight        = 36.0
)

type DependencyType string

const (
	FinishToStart  DependencyType = "FS"
	StartToStart   DependencyType = "SS"
	FinishToFinish DependencyType = "FF"
	StartToFinish  DependencyType = "SF"
)

// NormalizeDependencyType maps the long and short spellings used by clients
// onto the two-letter codes. Unknown values become FinishToStart.
func NormalizeDependencyType(value string) DependencyType {
	switch value {
	case "SS", "start-to-start", "start_to_start":
		return StartToStart
	case "FF", "finish-to-finish", "finish_to_finish":
		return FinishToFinish
	case "SF", "start-to-finish", "start_to_finish":
		return StartToFinish
	default:
		return FinishToStart
	}
}

type Task struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parentId,omitempty"`
	Name       string    `json:"name"`
	Start      time.Time `json:"startDate"`
	End        time.Time `json:"endDate"`
	Progress   int       `json:"progress"`
	IsStage    bool      `json:"isStage"`
	IsCritical bool      `json:"isCritical"`
	SortOrder  int       `json:"sortOrder"`
}

type Dependency struct {
	PredecessorID string         `json:"predecessorId"`
	SuccessorID   string         `json:"successorId"`
	Type          DependencyType `json:"type"`
	LagDays       int            `json:"lagDays"`
}

// Window is the inclusive range of days materialized on the axis.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Day truncates t to its calendar day at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole-day difference b - a.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ComputeWindow derives the view range from the task list: from the first day
// of the month holding the earliest start to the latest end plus
// WindowBufferDays. An empty list yields the month containing now.
func ComputeWindow(tasks []Task, now time.Time) Window {
	if len(tasks) == 0 {
		start := monthStart(now)
		return Window{Start: start, End: start.AddDate(0, 1, -1)}
	}

	earliest := Day(tasks[0].Start)
	latest := taskEnd(tasks[0])
	for _, task := range tasks[1:] {
		if start := Day(task.Start); start.Before(earliest) {
			earliest = start
		}
		if end := taskEnd(task); end.After(latest) {
			latest = end
		}
	}
	return Window{
		Start: monthStart(earliest),
		End:   latest.AddDate(0, 0, WindowBufferDays),
	}
}

// Navigate shifts the window by whole months, keeping its length.
func Navigate(w Window, months int) Window {
	span := DaysBetween(w.Start, w.End)
	start := monthStart(w.Start.AddDate(0, months, 0))
	return Window{Start: start, End: start.AddDate(0, 0, span)}
}

// Days materializes one entry per calendar day in w, inclusive of both ends.
func Days(w Window) []time.Time {
	start, end := Day(w.Start), Day(w.End)
	if end.Before(start) {
		return []time.Time{start}
	}
	days := make([]time.Time, 0, DaysBetween(start, end)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// taskEnd never reports an end before the start.
func taskEnd(task Task) time.Time {
	start, end := Day(task.Start), Day(task.End)
	if end.Before(start) {
		return start
	}
	return end
}
