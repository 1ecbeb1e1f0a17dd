package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/ingest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsIngestion(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector, err := NewCollector(registry)
	if err != nil {
		t.Fatalf("failed to build collector: %v", err)
	}

	collector.RecordTokenRefresh(true)
	collector.RecordTokenRefresh(false)
	collector.RecordTokenRefresh(false)
	collector.RecordPageFetched()
	collector.RecordPageFetched()
	collector.RecordRoutesInserted(100)
	collector.RecordRoutesInserted(0)
	collector.RecordRun(ingest.OutcomeSucceeded, 250*time.Millisecond)
	collector.ObserveJob(ingest.Job{Status: ingest.JobStatusSucceeded})

	if got := testutil.ToFloat64(collector.tokenRefreshes.WithLabelValues("failure")); got != 2 {
		t.Fatalf("expected 2 failed refreshes, got %v", got)
	}
	if got := testutil.ToFloat64(collector.pagesFetched); got != 2 {
		t.Fatalf("expected 2 pages, got %v", got)
	}
	if got := testutil.ToFloat64(collector.routesInserted); got != 100 {
		t.Fatalf("expected 100 routes, got %v", got)
	}
	if got := testutil.ToFloat64(collector.runs.WithLabelValues(ingest.OutcomeSucceeded)); got != 1 {
		t.Fatalf("expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(collector.jobs.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("expected 1 succeeded job, got %v", got)
	}
}

func TestCollectorRejectsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := NewCollector(registry); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := NewCollector(registry); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if _, err := NewCollector(nil); err == nil {
		t.Fatalf("expected nil registry to fail")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector, err := NewCollector(registry)
	if err != nil {
		t.Fatalf("failed to build collector: %v", err)
	}
	collector.RecordPageFetched()

	recorder := httptest.NewRecorder()
	Handler(registry).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "elmo_ingest_pages_fetched_total 1") {
		t.Fatalf("expected pages counter in output, got %s", recorder.Body.String())
	}
}
