package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPredictionStreamBroadcasts(t *testing.T) {
	server, router := newTestServer(t, Config{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/predictions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for server.notifier.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	body := `{"student_name":"Chitra","response":{"dropout_probability":0.45,"explanation":{"rule_probability":0.5}}}`
	resp, err := http.Post(srv.URL+"/api/predictions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event PredictionEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != eventPrediction || event.Prediction == nil {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Prediction.StudentName != "Chitra" || event.Prediction.RiskTier != "MEDIUM" {
		t.Fatalf("unexpected prediction %+v", event.Prediction)
	}
}

func TestNotifierKeepsLastJobStatus(t *testing.T) {
	n := NewPredictionNotifier()
	n.Broadcast(PredictionEvent{Type: eventProgress, JobID: "job", Processed: 3})
	n.Broadcast(PredictionEvent{Type: eventPrediction})
	status := n.LastStatus()
	if status == nil || status.Type != eventProgress || status.Processed != 3 {
		t.Fatalf("expected progress snapshot got %+v", status)
	}
}
