// Package publish fans out stats snapshots to connected websocket
// subscribers. New subscribers immediately receive the most recent
// snapshot so dashboards render without waiting for the next tick.
package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Publisher delivers snapshots to subscribers.
type Publisher interface {
	// Publish broadcasts a snapshot to all connected subscribers.
	Publish(v any) error
	// Subscribers returns the current subscriber count.
	Subscribers() int
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	clientBuffer   = 16
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of connected clients and broadcasts
// encoded snapshots to them.
type Hub struct {
	log logrus.FieldLogger

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	stopped    chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  []byte
}

// NewHub creates a websocket hub. Run must be called before
// clients connect.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:        log.WithField("component", "publish"),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		stopped:    make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run services registrations and broadcasts until ctx is cancelled.
// Clients connecting or disconnecting after Run has exited are turned
// away instead of blocking on the hub channels.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			latest := h.latest
			h.mu.Unlock()

			if latest != nil {
				select {
				case c.send <- latest:
				default:
				}
			}

			h.log.WithField("subscribers", h.Subscribers()).Debug("Subscriber connected")

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()

			for _, c := range targets {
				select {
				case c.send <- msg:
				default:
					// Slow consumer, disconnect rather than stall the loop.
					h.drop(c)
				}
			}
		}
	}
}

// Publish encodes v and queues it for broadcast. The encoded
// snapshot is retained for replay to future subscribers.
func (h *Hub) Publish(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("Broadcast queue full, dropping snapshot")
	}

	return nil
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket connection and
// registers it with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")

		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	select {
	case h.register <- c:
	case <-h.stopped:
		conn.Close()

		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.log.WithField("subscribers", h.Subscribers()).Debug("Subscriber disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stopped:
		}

		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("Websocket read error")
			}

			return
		}
	}
}
