package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/monitoring"
	"github.com/ziziccc/embedded-prj3/internal/pipeline"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Message is what the hub sends to websocket clients.
type Message struct {
	Type    string       `json:"type"` // hello, capture or snapshot
	Rows    int          `json:"rows,omitempty"`
	Cols    int          `json:"cols,omitempty"`
	Classes []string     `json:"classes,omitempty"`
	Capture *CaptureView `json:"capture,omitempty"`
}

// Hub streams every capture result to connected websocket clients. It is a
// pipeline.Sink.
type Hub struct {
	upgrader websocket.Upgrader
	cfg      config.Config

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	last    *CaptureView
}

func NewHub(cfg config.Config) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cfg:     cfg,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	h.mu.Unlock()

	_ = writeJSON(conn, writeMu, Message{
		Type:    "hello",
		Rows:    h.cfg.Grid.Rows,
		Cols:    h.cfg.Grid.Cols,
		Classes: h.cfg.Classifier.ClassNames,
	})

	go h.readLoop(conn, writeMu)
}

// readLoop answers snapshot requests and keeps the connection alive until
// the client goes away.
func (h *Hub) readLoop(conn *websocket.Conn, writeMu *sync.Mutex) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
	defer close(done)
	defer h.remove(conn)

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var req struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(payload, &req) != nil || req.Type != "snapshot_request" {
			continue
		}
		h.mu.Lock()
		last := h.last
		h.mu.Unlock()
		if last != nil {
			_ = writeJSON(conn, writeMu, Message{Type: "snapshot", Capture: last})
		}
	}
}

// Consume broadcasts a capture to every client. Clients that cannot be
// written are dropped.
func (h *Hub) Consume(r *pipeline.Result) error {
	view := NewCaptureView(r)
	payload, err := json.Marshal(Message{Type: "capture", Capture: &view})
	if err != nil {
		return err
	}

	var stale []*websocket.Conn
	h.mu.Lock()
	h.last = &view
	for conn, writeMu := range h.clients {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		monitoring.Logf("websocket client %s dropped", conn.RemoteAddr())
		h.remove(conn)
	}
	return nil
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.remove(c)
	}
	return nil
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, v any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, kind int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, payload)
}
