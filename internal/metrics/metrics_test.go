package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *JobCollector) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected scrape status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestJobCollectorRecordsCounters(t *testing.T) {
	collector, err := NewJobCollector()
	if err != nil {
		t.Fatalf("NewJobCollector returned error: %v", err)
	}

	collector.RecordFetches(3, 1, 12)
	collector.RecordEnrichments(5, 2)
	collector.RecordReports(2, 0)
	collector.RecordJobDuration("high_freq", 42*time.Second)

	body := scrape(t, collector)

	for _, want := range []string{
		`kolwatch_crawler_fetches_total{outcome="success"} 3`,
		`kolwatch_crawler_fetches_total{outcome="failure"} 1`,
		`kolwatch_crawler_posts_inserted_total 12`,
		`kolwatch_insights_enrichments_total{status="completed"} 5`,
		`kolwatch_insights_enrichments_total{status="failed"} 2`,
		`kolwatch_report_generations_total{outcome="success"} 2`,
		`kolwatch_tasks_job_duration_seconds_count{task="high_freq"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestJobCollectorPrivateRegistry(t *testing.T) {
	first, err := NewJobCollector()
	if err != nil {
		t.Fatalf("NewJobCollector returned error: %v", err)
	}
	second, err := NewJobCollector()
	if err != nil {
		t.Fatalf("second collector should not collide: %v", err)
	}

	first.RecordFetches(1, 0, 1)
	if body := scrape(t, second); strings.Contains(body, `outcome="success"} 1`) {
		t.Error("collectors share state")
	}
}
