package apihttp

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"feedstream/internal/metrics"
)

type wsMessage struct {
	Type string      `json:"type"`
	ID   string      `json:"id,omitempty"`
	Data interface{} `json:"data"`
}

type wsClient struct {
	hub     *wsHub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	session *feedSession
}

func newWSClient(hub *wsHub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

// close stops the write pump. Safe to call more than once.
func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue hands a frame to the write pump. It blocks while the buffer is
// full and fails once the client is gone.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *wsClient) sendMessage(msg wsMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("ws marshal failed",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
		return false
	}
	return c.enqueue(payload)
}

// wsHub tracks the connected feed sessions and fans out position changes.
// All membership changes happen on the run goroutine.
type wsHub struct {
	clients    map[*wsClient]struct{}
	count      atomic.Int64
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			h.disconnectAll()
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount()
			h.logger.Debug("feed session joined", slog.Int("sessions", len(h.clients)))
		case client := <-h.unregister:
			if h.drop(client) {
				h.logger.Debug("feed session left", slog.Int("sessions", len(h.clients)))
			}
		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

// fanout never blocks the hub: a session whose buffer is full is dropped.
func (h *wsHub) fanout(msg []byte) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.logger.Warn("feed session too slow, disconnecting")
			h.drop(client)
		}
	}
}

func (h *wsHub) drop(client *wsClient) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	client.close()
	h.setCount()
	return true
}

func (h *wsHub) disconnectAll() {
	deadline := time.Now().Add(2 * time.Second)
	goingAway := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for client := range h.clients {
		if client.conn != nil {
			_ = client.conn.WriteControl(websocket.CloseMessage, goingAway, deadline)
		}
		h.drop(client)
	}
	h.logger.Debug("feed session hub stopped")
}

func (h *wsHub) setCount() {
	n := len(h.clients)
	h.count.Store(int64(n))
	metrics.ActiveSessions.Set(float64(n))
}

// Close disconnects every session and stops the hub.
func (h *wsHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *wsHub) clientCount() int {
	return int(h.count.Load())
}

// add registers a session; false once the hub is closed.
func (h *wsHub) add(client *wsClient) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *wsHub) remove(client *wsClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for every session. Dropped when the queue is
// full or nobody is connected.
func (h *wsHub) Broadcast(msgType string, data interface{}) {
	if h.clientCount() == 0 {
		return
	}
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("broadcast marshal failed", slog.String("type", msgType), slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes client frames. Command results are resolved right here so
// that a session blocked on a player call never waits behind its own queue.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
		c.conn.Close()
		if c.session != nil {
			c.session.close()
		}
	}()
	c.conn.SetReadLimit(64 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if c.session == nil {
			continue
		}
		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendMessage(wsMessage{Type: "error", Data: errorPayload{Code: "invalid_message", Message: "invalid json"}})
			continue
		}
		c.session.deliver(msg)
	}
}
