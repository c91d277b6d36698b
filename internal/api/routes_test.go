package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "api.db")
	}
	cfg.SilentDB = true
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	router, err := server.Router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return server, router
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestHealthAndConfig(t *testing.T) {
	_, router := newTestServer(t, Config{Workers: 3})
	if rec := doRequest(t, router, http.MethodGet, "/api/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	rec := doRequest(t, router, http.MethodGet, "/api/config", "")
	var cfg struct {
		Workers    int      `json:"workers"`
		BatchLimit int      `json:"batch_limit"`
		Shapes     []string `json:"shapes"`
	}
	decodeBody(t, rec, &cfg)
	if cfg.Workers != 3 || cfg.BatchLimit != defaultBatchLimit || len(cfg.Shapes) == 0 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	_, router := newTestServer(t, Config{})
	tests := []struct {
		name  string
		body  string
		shape string
	}{
		{"alias field", `{"explanation":"{model_probability=0.75, rule_probability=0.50}"}`, "delimited_map_text"},
		{"whole object", `{"model_probability":0.75}`, "native"},
		{"json string", `"Attendance is low. Motivation is weak"`, "prose_text"},
		{"not json", `Attendance is low. Motivation is weak`, "prose_text"},
		{"empty", ``, "empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/explanations/normalize", tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
			}
			var resp NormalizeResponse
			decodeBody(t, rec, &resp)
			if resp.Shape != tc.shape {
				t.Fatalf("expected %s got %s", tc.shape, resp.Shape)
			}
			if resp.Explanation.TopModelFeatures == nil || resp.Explanation.HumanReadableReasons == nil {
				t.Fatalf("expected list fields present got %s", rec.Body.String())
			}
		})
	}
}

func TestNormalizeBatchEndpoint(t *testing.T) {
	_, router := newTestServer(t, Config{BatchLimit: 3})
	body := `{"items":[{"explanation":"[Low attendance, Weak motivation]"},"attendance_flag_set",{"model_probability":0.2}]}`
	rec := doRequest(t, router, http.MethodPost, "/api/explanations/normalize/batch", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp BatchNormalizeResponse
	decodeBody(t, rec, &resp)
	if resp.Total != 3 || resp.Unstructured != 1 {
		t.Fatalf("unexpected totals %+v", resp)
	}
	expect := []string{"bracketed_list_text", "unrecognized", "native"}
	for i, shape := range expect {
		if resp.Items[i].Shape != shape {
			t.Fatalf("expected %s at %d got %s", shape, i, resp.Items[i].Shape)
		}
	}

	over := `{"items":[1,2,3,4]}`
	if rec := doRequest(t, router, http.MethodPost, "/api/explanations/normalize/batch", over); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized batch got %d", rec.Code)
	}
}

func TestPredictionLifecycle(t *testing.T) {
	_, router := newTestServer(t, Config{})
	body := `{"student_name":"Asha","district":"Madurai","response":{"dropout_probability":0.72,"risk_tier":"high","explanation_json":"{\"model_probability\": 0.8, \"human_readable_reasons\": [\"Low attendance\"]}"}}`
	rec := doRequest(t, router, http.MethodPost, "/api/predictions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var created PredictionDTO
	decodeBody(t, rec, &created)
	if created.ID == "" || created.RiskTier != "HIGH" || created.ExplanationShape != "json_text" {
		t.Fatalf("unexpected prediction %+v", created)
	}
	if created.DeservingnessScore == nil || *created.DeservingnessScore != 28 {
		t.Fatalf("expected derived deservingness 28 got %v", created.DeservingnessScore)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/predictions/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var fetched PredictionDTO
	decodeBody(t, rec, &fetched)
	if !fetched.Explanation.Equal(created.Explanation) {
		t.Fatalf("stored explanation differs: %+v vs %+v", fetched.Explanation, created.Explanation)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/predictions?riskTier=high&shape=json_text", "")
	var list PredictionsResponse
	decodeBody(t, rec, &list)
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("expected one listed prediction got %+v", list)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/stats/shapes", "")
	var stats ShapeStatsResponse
	decodeBody(t, rec, &stats)
	if stats.Total != 1 || stats.Items[0].Shape != "json_text" {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = doRequest(t, router, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `deserveiq_predictions_ingested_total{risk_tier="HIGH"} 1`) {
		t.Fatalf("expected ingested metric, got:\n%s", rec.Body.String())
	}
}

func TestPredictionErrors(t *testing.T) {
	_, router := newTestServer(t, Config{})
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown id", http.MethodGet, "/api/predictions/missing", "", http.StatusNotFound},
		{"missing name", http.MethodPost, "/api/predictions", `{"response":{"dropout_probability":0.1}}`, http.StatusBadRequest},
		{"missing response", http.MethodPost, "/api/predictions", `{"student_name":"Asha"}`, http.StatusBadRequest},
		{"non object response", http.MethodPost, "/api/predictions", `{"student_name":"Asha","response":[1]}`, http.StatusBadRequest},
		{"service error", http.MethodPost, "/api/predictions", `{"student_name":"Asha","response":{"error":"Model prediction failed"}}`, http.StatusUnprocessableEntity},
		{"bad json", http.MethodPost, "/api/predictions", `{`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			var payload map[string]string
			decodeBody(t, rec, &payload)
			if payload["error"] == "" {
				t.Fatalf("expected error message got %s", rec.Body.String())
			}
		})
	}
}

func TestRenormalizeJob(t *testing.T) {
	server, router := newTestServer(t, Config{})
	ingest := `{"student_name":"Bala","response":{"dropout_probability":0.3,"explanation":"Low attendance. Weak motivation"}}`
	if rec := doRequest(t, router, http.MethodPost, "/api/predictions", ingest); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	// Corrupt the canonical column so the replay has something to rewrite.
	if err := server.db.GORM().Exec("UPDATE predictions SET explanation_json = '{broken'").Error; err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	rec := doRequest(t, router, http.MethodPost, "/api/explanations/renormalize", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	var status RenormalizeStatusResponse
	for {
		rec = doRequest(t, router, http.MethodGet, "/api/explanations/renormalize/status", "")
		status = RenormalizeStatusResponse{}
		decodeBody(t, rec, &status)
		if !status.Running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("renormalize did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.LastStatus == nil || status.LastStatus.Type != eventCompleted || status.LastStatus.Changed != 1 {
		t.Fatalf("unexpected final status %+v", status.LastStatus)
	}

	var stored string
	if err := server.db.GORM().Raw("SELECT explanation_json FROM predictions").Scan(&stored).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Contains([]byte(stored), []byte("Weak motivation")) {
		t.Fatalf("expected rebuilt canonical column got %s", stored)
	}

	if rec := doRequest(t, router, http.MethodDelete, "/api/explanations/renormalize/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job got %d", rec.Code)
	}
}
