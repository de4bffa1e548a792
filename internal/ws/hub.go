// Package ws implements the WebSocket push surface (§6.2): clients connect
// to /ws/connect, subscribe to a task_id, and receive task_update frames as
// the VideoTaskRunner checkpoints progress. Delivery is at-most-once — a
// subscriber only sees updates published after it subscribes, matching the
// spec's explicit "subscribers see only updates that arrive after
// subscription."
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	pongWait      = 60 * time.Second
	sendQueueSize = 16
)

// InboundMessage is a client->server frame: {"type": "subscribe_task",
// "task_id": "..."} or {"type": "ping"}.
type InboundMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
}

// OutboundMessage is a server->client frame.
type OutboundMessage struct {
	Type      string      `json:"type"`
	TaskID    string      `json:"task_id,omitempty"`
	Progress  *int        `json:"progress,omitempty"`
	Status    string      `json:"status,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub tracks connected clients and their task subscriptions, and fans out
// Publish calls from the pipeline to every subscriber of that task.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

type client struct {
	conn *websocket.Conn
	send chan OutboundMessage

	mu   sync.Mutex
	subs map[uuid.UUID]struct{}
}

func (c *client) subscribed(taskID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[taskID]
	return ok
}

func (c *client) subscribe(taskID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[taskID] = struct{}{}
}

// Register adds conn to the hub and starts its read/write pumps, blocking
// until the connection closes. Call this from the HTTP handler after
// upgrading.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan OutboundMessage, sendQueueSize),
		subs: make(map[uuid.UUID]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		conn.Close()
	}()

	done := make(chan struct{})
	go h.writePump(c, done)
	h.readPump(c)
	close(done)
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "subscribe_task":
			taskID, err := uuid.Parse(msg.TaskID)
			if err != nil {
				continue
			}
			c.subscribe(taskID)
		case "ping":
			select {
			case c.send <- OutboundMessage{Type: "pong", Timestamp: nowFunc()}:
			default:
			}
		}
	}
}

func (h *Hub) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish delivers a task_update frame to every client currently subscribed
// to taskID. Non-blocking — a client whose send buffer is full drops the
// update rather than stalling the publisher (the VideoTaskRunner's
// checkpoint path must never block on a slow websocket reader).
func (h *Hub) Publish(taskID uuid.UUID, status string, progress int, details interface{}) {
	msg := OutboundMessage{
		Type:      "task_update",
		TaskID:    taskID.String(),
		Progress:  &progress,
		Status:    status,
		Details:   details,
		Timestamp: nowFunc(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.subscribed(taskID) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			log.Printf("[ws] dropping task_update for %s: client send buffer full", taskID)
		}
	}
}

// nowFunc is a seam so tests can stub the clock; production always uses
// wall-clock time.
var nowFunc = time.Now
