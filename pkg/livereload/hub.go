package livereload

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/metrics"
)

const (
	Path          = "/__livereload"
	MessageReload = "reload"
)

// Script connects the page to the hub and reloads it on change.
const Script = `<script>(function(){var p=location.protocol==="https:"?"wss://":"ws://";` +
	`var s=new WebSocket(p+location.host+"` + Path + `");` +
	`s.onmessage=function(e){if(e.data==="` + MessageReload + `")location.reload();};})();</script>`

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

type Hub struct {
	upgrader websocket.Upgrader

	l       sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Debug("live reload upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	defer h.remove(c)
	for {
		// 客户端不会发送消息，读取仅用于处理控制帧与断开
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.l.Lock()
	defer h.l.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.LiveReloadClients.Inc()
	return true
}

func (h *Hub) remove(c *client) {
	h.l.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		metrics.LiveReloadClients.Dec()
	}
	h.l.Unlock()
	_ = c.conn.Close()
}

func (h *Hub) snapshot() []*client {
	h.l.Lock()
	defer h.l.Unlock()
	result := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		result = append(result, c)
	}
	return result
}

func (h *Hub) Len() int {
	h.l.Lock()
	defer h.l.Unlock()
	return len(h.clients)
}

// Broadcast sends message to every connected client and returns how many
// received it. Clients failing the write are dropped.
func (h *Hub) Broadcast(message string) int {
	sent := 0
	for _, c := range h.snapshot() {
		if err := c.write(websocket.TextMessage, []byte(message)); err != nil {
			zap.L().Debug("live reload client dropped", zap.Error(err))
			h.remove(c)
			continue
		}
		sent++
	}
	metrics.LiveReloadBroadcastsTotal.Inc()
	return sent
}

func (h *Hub) Close() error {
	h.l.Lock()
	h.closed = true
	h.l.Unlock()
	for _, c := range h.snapshot() {
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		h.remove(c)
	}
	return nil
}
