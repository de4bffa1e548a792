package ws

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func startTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		hub.Register(conn)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribeThenPublishDelivers(t *testing.T) {
	hub, srv := startTestHub(t)
	conn := dial(t, srv)

	taskID := uuid.New()
	if err := conn.WriteJSON(InboundMessage{Type: "subscribe_task", TaskID: taskID.String()}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Give the read pump a moment to register the subscription before
	// publishing — there is no ack frame for subscribe_task.
	time.Sleep(50 * time.Millisecond)

	hub.Publish(taskID, "synthesizing_videos", 42, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg OutboundMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "task_update" || msg.TaskID != taskID.String() || msg.Status != "synthesizing_videos" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Progress == nil || *msg.Progress != 42 {
		t.Fatalf("expected progress=42, got %+v", msg.Progress)
	}
}

func TestPublishBeforeSubscribeIsNotDelivered(t *testing.T) {
	hub, srv := startTestHub(t)
	conn := dial(t, srv)

	taskID := uuid.New()
	hub.Publish(taskID, "validating", 0, nil)

	if err := conn.WriteJSON(InboundMessage{Type: "subscribe_task", TaskID: taskID.String()}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	hub.Publish(taskID, "downloading_materials", 10, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg OutboundMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Status != "downloading_materials" {
		t.Fatalf("expected only the post-subscribe update to be delivered, got status=%q", msg.Status)
	}
}

func TestPingRepliesWithPong(t *testing.T) {
	_, srv := startTestHub(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(InboundMessage{Type: "ping"}); err != nil {
		t.Fatalf("ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg OutboundMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "pong" {
		t.Fatalf("expected pong, got %+v", msg)
	}
}
