package gantt

import (
	"math"
	"time"
)

// ClampZoom bounds factor to [MinZoom, MaxZoom]. Non-positive or NaN input
// resets to 1.
func ClampZoom(factor float64) float64 {
	if math.IsNaN(factor) || factor <= 0 {
		return 1
	}
	return math.Min(MaxZoom, math.Max(MinZoom, factor))
}

// ZoomIn multiplies factor by ZoomStep, clamped.
func ZoomIn(factor float64) float64 {
	return ClampZoom(ClampZoom(factor) * ZoomStep)
}

// ZoomOut divides factor by ZoomStep, clamped.
func ZoomOut(factor float64) float64 {
	return ClampZoom(ClampZoom(factor) / ZoomStep)
}

// DayWidth is the pixel width of a day at the given zoom factor.
func DayWidth(factor float64) float64 {
	return BaseDayWidth * ClampZoom(factor)
}

// Grid projects dates onto x coordinates for one window and zoom level.
type Grid struct {
	Window   Window
	DayWidth float64
	days     []time.Time
	index    map[int64]int
}

// NewGrid materializes at most MaxWindowDays days from the window start.
func NewGrid(w Window, zoom float64) *Grid {
	if start := Day(w.Start); DaysBetween(start, w.End) >= MaxWindowDays {
		w = Window{Start: start, End: start.AddDate(0, 0, MaxWindowDays-1)}
	}
	days := Days(w)
	index := make(map[int64]int, len(days))
	for i, d := range days {
		index[dayKey(d)] = i
	}
	return &Grid{
		Window:   Window{Start: days[0], End: days[len(days)-1]},
		DayWidth: DayWidth(zoom),
		days:     days,
		index:    index,
	}
}

func dayKey(t time.Time) int64 {
	return Day(t).Unix() / 86400
}

func (g *Grid) Days() []time.Time {
	return g.days
}

// Width is the pixel width of the whole axis.
func (g *Grid) Width() float64 {
	return float64(len(g.days)) * g.DayWidth
}

// Column returns the day index of date. Dates outside the materialized
// sequence are resolved by day arithmetic from the window start so bars and
// header stay in one coordinate system; the result may then be negative or
// past the last column.
func (g *Grid) Column(date time.Time) int {
	if i, ok := g.index[dayKey(date)]; ok {
		return i
	}
	return DaysBetween(g.Window.Start, date)
}

func (g *Grid) X(date time.Time) float64 {
	return float64(g.Column(date)) * g.DayWidth
}

// Position returns the bar's left edge and width. Width is at least one day.
func (g *Grid) Position(task Task) (left, width float64) {
	startCol := g.Column(task.Start)
	endCol := g.Column(task.End)
	span := endCol - startCol + 1
	if span < 1 {
		span = 1
	}
	return float64(startCol) * g.DayWidth, float64(span) * g.DayWidth
}

// DateAt maps an x coordinate back to the day under it.
func (g *Grid) DateAt(x float64) time.Time {
	return g.Window.Start.AddDate(0, 0, g.offset(x))
}

// offset is floor(x / DayWidth) with a small tolerance so that x values that
// are exact multiples of the day width survive float rounding.
func (g *Grid) offset(x float64) int {
	return int(math.Floor(x/g.DayWidth + 1e-9))
}

// Drag converts a bar dropped at newX into new dates. The end moves with the
// start so the original duration is preserved.
func (g *Grid) Drag(task Task, newX float64) (start, end time.Time) {
	duration := DaysBetween(task.Start, task.End)
	if duration < 0 {
		duration = 0
	}
	start = g.DateAt(newX)
	return start, start.AddDate(0, 0, duration)
}

// MonthHeader is one month label on the axis.
type MonthHeader struct {
	Label string  `json:"label"`
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// Months groups the materialized days into month headers.
func (g *Grid) Months() []MonthHeader {
	headers := make([]MonthHeader, 0)
	for i, d := range g.days {
		if i == 0 || d.Day() == 1 {
			headers = append(headers, MonthHeader{
				Label: d.Format("Jan 2006"),
				Left:  float64(i) * g.DayWidth,
			})
		}
		headers[len(headers)-1].Width += g.DayWidth
	}
	return headers
}
