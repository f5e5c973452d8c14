package gantt

import (
	"sort"
	"time"
)

// Row is a task placed in the visible list.
type Row struct {
	Task        Task `json:"task"`
	Depth       int  `json:"depth"`
	HasChildren bool `json:"hasChildren"`
	Expanded    bool `json:"expanded"`
}

// Flatten orders tasks into visible rows. A stage row always comes directly
// before its children; children of a collapsed stage are hidden. Tasks whose
// parent is unknown are treated as roots, and a parent cycle is broken at its
// first task in sort order so every task keeps a row.
func Flatten(tasks []Task, expanded map[string]bool) []Row {
	byID := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = struct{}{}
	}

	children := make(map[string][]Task)
	roots := make([]Task, 0)
	for _, task := range tasks {
		if _, ok := byID[task.ParentID]; task.ParentID == "" || task.ParentID == task.ID || !ok {
			roots = append(roots, task)
			continue
		}
		children[task.ParentID] = append(children[task.ParentID], task)
	}

	reached := make(map[string]bool, len(tasks))
	var mark func(id string)
	mark = func(id string) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, kid := range children[id] {
			mark(kid.ID)
		}
	}
	for _, root := range roots {
		mark(root.ID)
	}
	if len(reached) < len(tasks) {
		rest := append([]Task(nil), tasks...)
		sortTasks(rest)
		for _, task := range rest {
			if reached[task.ID] {
				continue
			}
			children[task.ParentID] = without(children[task.ParentID], task.ID)
			roots = append(roots, task)
			mark(task.ID)
		}
	}

	rows := make([]Row, 0, len(tasks))
	visited := make(map[string]bool, len(tasks))
	var walk func(list []Task, depth int)
	walk = func(list []Task, depth int) {
		sortTasks(list)
		for _, task := range list {
			if visited[task.ID] {
				continue
			}
			visited[task.ID] = true
			kids := children[task.ID]
			open := len(kids) > 0 && expanded[task.ID]
			rows = append(rows, Row{
				Task:        task,
				Depth:       depth,
				HasChildren: len(kids) > 0,
				Expanded:    open,
			})
			if open {
				walk(kids, depth+1)
			}
		}
	}
	walk(roots, 0)
	return rows
}

func without(list []Task, id string) []Task {
	out := list[:0:0]
	for _, task := range list {
		if task.ID != id {
			out = append(out, task)
		}
	}
	return out
}

func sortTasks(list []Task) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if !Day(a.Start).Equal(Day(b.Start)) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})
}

// Bar is a positioned task bar.
type Bar struct {
	TaskID     string  `json:"taskId"`
	Name       string  `json:"name"`
	Row        int     `json:"row"`
	Depth      int     `json:"depth"`
	Left       float64 `json:"left"`
	Width      float64 `json:"width"`
	Top        float64 `json:"top"`
	Progress   int     `json:"progress"`
	IsStage    bool    `json:"isStage"`
	IsCritical bool    `json:"isCritical"`
	Expanded   bool    `json:"expanded"`
	Start      string  `json:"startDate"`
	End        string  `json:"endDate"`
}

// Link is a dependency arrow between two visible bars.
type Link struct {
	From  string         `json:"from"`
	To    string         `json:"to"`
	Type  DependencyType `json:"type"`
	FromX float64        `json:"fromX"`
	FromY float64        `json:"fromY"`
	ToX   float64        `json:"toX"`
	ToY   float64        `json:"toY"`
}

// Links computes arrow endpoints for dependencies whose tasks are both
// visible. Finish ends attach to a bar's right edge, start ends to its left.
func Links(bars []Bar, deps []Dependency) []Link {
	byID := make(map[string]Bar, len(bars))
	for _, bar := range bars {
		byID[bar.TaskID] = bar
	}

	links := make([]Link, 0, len(deps))
	for _, dep := range deps {
		from, ok := byID[dep.PredecessorID]
		if !ok {
			continue
		}
		to, ok := byID[dep.SuccessorID]
		if !ok {
			continue
		}
		kind := NormalizeDependencyType(string(dep.Type))
		link := Link{
			From:  from.TaskID,
			To:    to.TaskID,
			Type:  kind,
			FromY: from.Top + RowHeight/2,
			ToY:   to.Top + RowHeight/2,
		}
		switch kind {
		case StartToStart:
			link.FromX, link.ToX = from.Left, to.Left
		case FinishToFinish:
			link.FromX, link.ToX = from.Left+from.Width, to.Left+to.Width
		case StartToFinish:
			link.FromX, link.ToX = from.Left, to.Left+to.Width
		default:
			link.FromX, link.ToX = from.Left+from.Width, to.Left
		}
		links = append(links, link)
	}
	return links
}

// Input is everything the layout depends on.
type Input struct {
	Tasks        []Task
	Dependencies []Dependency
	Expanded     map[string]bool
	Zoom         float64
	Now          time.Time
	// Window overrides the derived window when non-zero (navigation).
	Window Window
}

type Layout struct {
	Window   Window        `json:"window"`
	Zoom     float64       `json:"zoom"`
	DayWidth float64       `json:"dayWidth"`
	DayCount int           `json:"dayCount"`
	Width    float64       `json:"width"`
	Height   float64       `json:"height"`
	TodayX   float64       `json:"todayX"`
	Months   []MonthHeader `json:"months"`
	Bars     []Bar         `json:"bars"`
	Links    []Link        `json:"links"`
}

// Build produces the full timeline layout.
func Build(in Input) Layout {
	window := in.Window
	if window.Start.IsZero() || window.End.IsZero() {
		window = ComputeWindow(in.Tasks, in.Now)
	}
	zoom := ClampZoom(in.Zoom)
	grid := NewGrid(window, zoom)

	rows := Flatten(in.Tasks, in.Expanded)
	bars := make([]Bar, 0, len(rows))
	for i, row := range rows {
		left, width := grid.Position(row.Task)
		bars = append(bars, Bar{
			TaskID:     row.Task.ID,
			Name:       row.Task.Name,
			Row:        i,
			Depth:      row.Depth,
			Left:       left,
			Width:      width,
			Top:        float64(i) * RowHeight,
			Progress:   clampProgress(row.Task.Progress),
			IsStage:    row.Task.IsStage || row.HasChildren,
			IsCritical: row.Task.IsCritical,
			Expanded:   row.Expanded,
			Start:      Day(row.Task.Start).Format(time.DateOnly),
			End:        taskEnd(row.Task).Format(time.DateOnly),
		})
	}

	return Layout{
		Window:   grid.Window,
		Zoom:     zoom,
		DayWidth: grid.DayWidth,
		DayCount: len(grid.Days()),
		Width:    grid.Width(),
		Height:   float64(len(bars)) * RowHeight,
		TodayX:   grid.X(in.Now),
		Months:   grid.Months(),
		Bars:     bars,
		Links:    Links(bars, in.Dependencies),
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
