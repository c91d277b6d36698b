package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PredictionEvent describes websocket payloads for new predictions and renormalize runs.
type PredictionEvent struct {
	Type       string         `json:"type"`
	JobID      string         `json:"job_id,omitempty"`
	Total      int64          `json:"total,omitempty"`
	Processed  int            `json:"processed,omitempty"`
	Changed    int            `json:"changed,omitempty"`
	Prediction *PredictionDTO `json:"prediction,omitempty"`
	Message    string         `json:"message,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// PredictionNotifier keeps track of active websocket clients and broadcasts events.
type PredictionNotifier struct {
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *PredictionEvent
}

// NewPredictionNotifier constructs a notifier instance.
func NewPredictionNotifier() *PredictionNotifier {
	return &PredictionNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the last job status to it.
func (n *PredictionNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	status := n.lastStatus
	n.mu.Unlock()

	if status != nil {
		_ = client.writeJSON(*status)
	}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *PredictionNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the supplied event to all registered websocket clients.
func (n *PredictionNotifier) Broadcast(event PredictionEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	switch event.Type {
	case eventStarted, eventProgress, eventCompleted, eventCancelled, eventError:
		snapshot := event
		n.lastStatus = &snapshot
	}

	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
	n.mu.Unlock()
}

func (c *wsClient) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}

// LastStatus returns a copy of the most recent job event.
func (n *PredictionNotifier) LastStatus() *PredictionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	status := *n.lastStatus
	return &status
}

// ClientCount reports the number of connected websocket clients.
func (n *PredictionNotifier) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}
