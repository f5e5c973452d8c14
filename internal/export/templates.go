package export

import (
	"bytes"
	"embed"
	"html/template"
	"math"
	"time"

	"buildtrack/api/internal/gantt"
)

//go:embed templates/*.html
var templateFS embed.FS

var scheduleTemplate = template.Must(template.ParseFS(templateFS, "templates/schedule.html"))

// TemplateData holds data for schedule template rendering. Positions are
// percentages of the timeline width so the chart scales to the page.
type TemplateData struct {
	Title       string
	Subtitle    string
	GeneratedAt time.Time
	WindowStart string
	WindowEnd   string
	Months      []TemplateMonth
	Rows        []TemplateRow
	ShowToday   bool
	TodayPct    float64
}

type TemplateMonth struct {
	Label    string
	LeftPct  float64
	WidthPct float64
}

type TemplateRow struct {
	Name       string
	Indent     int
	Start      string
	End        string
	Progress   int
	IsStage    bool
	IsCritical bool
	LeftPct    float64
	WidthPct   float64
}

// NewTemplateData projects a layout onto the printable template.
func NewTemplateData(req Request) TemplateData {
	layout := req.Layout
	data := TemplateData{
		Title:       req.Title,
		Subtitle:    req.Subtitle,
		GeneratedAt: req.GeneratedAt,
		WindowStart: gantt.Day(layout.Window.Start).Format(time.DateOnly),
		WindowEnd:   gantt.Day(layout.Window.End).Format(time.DateOnly),
		Months:      make([]TemplateMonth, 0, len(layout.Months)),
		Rows:        make([]TemplateRow, 0, len(layout.Bars)),
	}
	if data.Title == "" {
		data.Title = "Schedule"
	}
	width := layout.Width
	if width <= 0 {
		return data
	}

	for _, month := range layout.Months {
		data.Months = append(data.Months, TemplateMonth{
			Label:    month.Label,
			LeftPct:  percent(month.Left, width),
			WidthPct: percent(month.Width, width),
		})
	}
	for _, bar := range layout.Bars {
		left := math.Max(0, bar.Left)
		right := math.Min(width, bar.Left+bar.Width)
		if right < left {
			right = left
		}
		data.Rows = append(data.Rows, TemplateRow{
			Name:       bar.Name,
			Indent:     bar.Depth * 12,
			Start:      bar.Start,
			End:        bar.End,
			Progress:   bar.Progress,
			IsStage:    bar.IsStage,
			IsCritical: bar.IsCritical,
			LeftPct:    percent(left, width),
			WidthPct:   percent(right-left, width),
		})
	}
	if layout.TodayX >= 0 && layout.TodayX <= width {
		data.ShowToday = true
		data.TodayPct = percent(layout.TodayX, width)
	}
	return data
}

func percent(v, total float64) float64 {
	return math.Round(v/total*10000) / 100
}

// RenderScheduleHTML renders the schedule template with provided data
func RenderScheduleHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := scheduleTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
