package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// IngestEvent describes websocket payloads emitted during ingest runs.
type IngestEvent struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Provider  string    `json:"provider,omitempty"`
	Processed int       `json:"processed,omitempty"`
	Scored    int       `json:"scored,omitempty"`
	Skipped   int       `json:"skipped,omitempty"`
	Total     int       `json:"total,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// IngestNotifier keeps track of active websocket clients and broadcasts
// ingest progress events.
type IngestNotifier struct {
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *IngestEvent
}

// NewIngestNotifier constructs a notifier instance.
func NewIngestNotifier() *IngestNotifier {
	return &IngestNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and returns a client handle. The
// latest status event is replayed so late joiners see current progress.
func (n *IngestNotifier) Register(conn *websocket.Conn) *wsClient {
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

// Unregister removes the websocket client and closes the socket.
func (n *IngestNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the supplied event to all registered websocket clients.
// Every event becomes the replay snapshot, so terminal states (completed,
// failed, cancelled) survive for late joiners and status polls.
func (n *IngestNotifier) Broadcast(event IngestEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	snapshot := event
	n.lastStatus = &snapshot
	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
	n.mu.Unlock()
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}

// LastStatus returns a copy of the most recent status event, if any.
func (n *IngestNotifier) LastStatus() *IngestEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	copy := *n.lastStatus
	return &copy
}
