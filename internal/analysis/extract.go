package analysis

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

func isPDF(contentType, name string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	return strings.EqualFold(path.Ext(name), ".pdf")
}

// extractPDFText reads at most limit bytes and returns the plain text of
// every page. A file larger than limit is rejected rather than truncated.
func extractPDFText(r io.Reader, limit int64) (text string, err error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("pdf exceeds %d bytes", limit)
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("copy pdf text: %w", err)
	}
	return storableText(buf.String()), nil
}

// storableText drops what a Postgres TEXT column refuses: NUL bytes and
// invalid UTF-8, which the parser emits for some embedded font encodings.
func storableText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.TrimSpace(s)
}
