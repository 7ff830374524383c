package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCountersExposedWithNamespace(t *testing.T) {
	no := false
	c := NewComponent(&Config{Enabled: true, Namespace: "ce", Subsystem: "pipeline", CollectGoMetrics: &no, CollectProcess: &no})
	if C() != c {
		t.Fatalf("global component not registered")
	}

	first := c.NewCounter("step_results_total", "step results", []string{"step", "result"})
	second := c.NewCounter("step_results_total", "step results", []string{"step", "result"})
	if first != second {
		t.Fatalf("expected already registered counter to be reused")
	}
	first.WithLabelValues("extract_report", "OK").Inc()
	c.NewGaugeFunc("queue_depth", "pending tasks", func() float64 { return 4 })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	if !strings.Contains(out, `ce_pipeline_step_results_total{result="OK",step="extract_report"} 1`) {
		t.Fatalf("counter missing from exposition:\n%s", out)
	}
	if !strings.Contains(out, "ce_pipeline_queue_depth 4") {
		t.Fatalf("gauge missing from exposition:\n%s", out)
	}
}
