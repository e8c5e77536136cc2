package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/anuraggoyal1/stock-screener/internal/metrics"
	"github.com/anuraggoyal1/stock-screener/internal/refresh"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamPongWait   = 60 * time.Second
	streamSendBuffer = 64
)

// Hub fans refresh progress events out to connected websocket clients.
// Events are fire-and-forget: a client whose send buffer is full misses
// the event rather than stalling the refresh workers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]bool

	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
}

// NewHub builds an empty hub.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*streamClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		metrics: m,
	}
}

// Broadcast sends one refresh event to every connected client.
// Safe to call from the refresh worker goroutines.
func (h *Hub) Broadcast(ev refresh.Progress) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		select {
		case cl.send <- payload:
		default:
			// Slow consumer, drop the event.
		}
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(n))
	}
}

func (h *Hub) serve(conn *websocket.Conn) {
	cl := &streamClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, streamSendBuffer),
	}
	h.mu.Lock()
	h.clients[cl] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.setGauge(n)
	slog.Info("stream client connected", "clients", n)

	go cl.writePump()
	go cl.readPump()
}

func (h *Hub) remove(cl *streamClient) {
	h.mu.Lock()
	if !h.clients[cl] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, cl)
	n := len(h.clients)
	h.mu.Unlock()
	close(cl.send)
	h.setGauge(n)
	slog.Info("stream client disconnected", "clients", n)
}

// streamRefresh upgrades the request and attaches the client to the hub.
func (s *Server) streamRefresh(c *gin.Context) {
	conn, err := s.hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		return
	}
	s.hub.serve(conn)
}

type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))

			// Fold queued events into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	// The feed is one-way; client frames only serve the keepalive.
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
