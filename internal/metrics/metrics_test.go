package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"deserveiq/backend/internal/explain"
)

func TestObserverCountsShapes(t *testing.T) {
	m := New()
	n := explain.New(explain.WithObserver(m))
	n.Normalize(`{"model_probability":0.4}`)
	n.Normalize("attendance_flag_set")
	n.Normalize("plain_token")

	if got := testutil.ToFloat64(m.Shapes.WithLabelValues("json_text")); got != 1 {
		t.Fatalf("expected 1 json_text got %v", got)
	}
	if got := testutil.ToFloat64(m.Shapes.WithLabelValues("unrecognized")); got != 2 {
		t.Fatalf("expected 2 unrecognized got %v", got)
	}
	if got := testutil.ToFloat64(m.Unstructured); got != 2 {
		t.Fatalf("expected 2 unstructured got %v", got)
	}
}

func TestIngestedAndHandler(t *testing.T) {
	m := New()
	m.IncrementIngested("HIGH")
	m.IncrementIngested("HIGH")
	if got := testutil.ToFloat64(m.Ingested.WithLabelValues("HIGH")); got != 2 {
		t.Fatalf("expected 2 got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `deserveiq_predictions_ingested_total{risk_tier="HIGH"} 2`) {
		t.Fatalf("expected ingested counter in exposition, got:\n%s", body)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Observe(explain.ShapeProse, explain.Explanation{})
	m.IncrementIngested("LOW")
}
