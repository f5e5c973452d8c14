package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// converter turns the rendered schedule HTML into another document format.
type converter interface {
	Convert(ctx context.Context, html, title string) ([]byte, error)
}

type output struct {
	ext  string
	mime string
	conv converter // nil writes the HTML as is
}

// Service renders schedules and hands them to the converter for each format.
type Service struct {
	logger  *zap.Logger
	outputs map[Format]output
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger: logger.Named("export"),
		outputs: map[Format]output{
			FormatHTML: {ext: ".html", mime: "text/html; charset=utf-8"},
			FormatPDF:  {ext: ".pdf", mime: "application/pdf", conv: chromePrinter{timeout: 30 * time.Second}},
			FormatDOCX: {ext: ".docx", mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", conv: pandoc{binary: "pandoc"}},
		},
	}
}

// Export renders the layout to HTML and converts it to the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	out, ok := s.outputs[req.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if req.GeneratedAt.IsZero() {
		req.GeneratedAt = time.Now().UTC()
	}
	html, err := RenderScheduleHTML(NewTemplateData(req))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	started := time.Now()
	data := []byte(html)
	if out.conv != nil {
		data, err = out.conv.Convert(ctx, html, req.Title)
		if err != nil {
			s.logger.Warn("export failed", zap.String("format", string(req.Format)), zap.Error(err))
			return nil, err
		}
	}
	s.logger.Debug("export rendered",
		zap.String("format", string(req.Format)),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(started)),
	)
	return &Result{Data: data, Filename: sanitizeFilename(req.Title) + out.ext, MimeType: out.mime}, nil
}
