package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(DocumentAnalysisCount.WithLabelValues("drawings", "completed"))
	IncrementDocumentAnalysis("drawings", "completed")
	after := testutil.ToFloat64(DocumentAnalysisCount.WithLabelValues("drawings", "completed"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordHTTPRequestDuration("GET", "/api/health", "200", 3*time.Millisecond)
	IncrementChangePublished("tasks", "UPDATE", "hub")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{"http_request_duration_seconds", "change_events_published_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected /metrics to expose %s", name)
		}
	}
}
