// Package live pushes relay events to connected browsers over WebSocket.
//
// Delivery is best effort. Every connection has a small send buffer; a
// connection whose buffer is full when an event is published is dropped
// rather than waited on. Clients that miss events re-read state through the
// HTTP API after reconnecting.
package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"smsrelay/api/internal/filter"
)

type EventType string

const (
	EventConnected  EventType = "connected"
	EventNewMessage EventType = "new_message"
	EventSendQueued EventType = "send_queued"
	EventSendStatus EventType = "send_status"
)

const (
	DefaultSendBuffer   = 16
	DefaultWriteTimeout = 10 * time.Second

	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// Envelope is the frame written to clients. Timestamp is Unix milliseconds.
type Envelope struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Event is published by the service. When Subject is set, only connections
// whose filter allows it receive the event.
type Event struct {
	Type    EventType
	Data    any
	Subject *filter.Subject
}

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(*http.Request) bool
	Now         func() time.Time
}

type Hub struct {
	sendBuffer   int
	writeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	filter filter.Filter
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, f filter.Filter, buffer int) *client {
	return &client{
		conn:   conn,
		filter: f,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func NewHub(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		sendBuffer:   opts.SendBuffer,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		now:          opts.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	liveClientsGauge.Inc()
}

func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	if ok {
		liveClientsGauge.Dec()
	}
	return ok
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) encode(eventType EventType, data any) ([]byte, error) {
	payload, err := json.Marshal(Envelope{Type: eventType, Data: data, Timestamp: h.now().UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return payload, nil
}

// Publish queues ev on every eligible connection without blocking and
// returns how many connections accepted it.
func (h *Hub) Publish(ev Event) int {
	payload, err := h.encode(ev.Type, ev.Data)
	if err != nil {
		h.logger.Error("live publish failed", "type", ev.Type, "error", err)
		return 0
	}
	liveEventsCounter.WithLabelValues(string(ev.Type)).Inc()

	delivered := 0
	for _, c := range h.snapshot() {
		if ev.Subject != nil && !c.filter.Allows(*ev.Subject) {
			continue
		}
		select {
		case c.send <- payload:
			delivered++
		default:
			if h.unregister(c) {
				liveDroppedCounter.WithLabelValues("stalled").Inc()
				h.logger.Warn("dropping stalled live client", "type", ev.Type)
			}
		}
	}
	return delivered
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	for _, c := range h.snapshot() {
		h.unregister(c)
	}
}

// ServeWS upgrades the request and serves the connection until the peer
// leaves or the hub drops it. f scopes the events the connection receives.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, f filter.Filter) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("live upgrade failed", "error", err)
		return
	}

	c := newClient(conn, f, h.sendBuffer)
	if payload, err := h.encode(EventConnected, nil); err == nil {
		c.send <- payload
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client frames; it exists to process control frames and
// notice when the peer goes away.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("live client read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if h.unregister(c) {
					liveDroppedCounter.WithLabelValues("write_error").Inc()
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
