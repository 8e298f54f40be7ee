// Package web provides the optional live monitor: a small HTTP server
// that streams captured events to WebSocket clients as they happen.
// Protocol traffic owns stdout, so this is the only way to watch a
// session in real time.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Hub manages WebSocket connections and broadcasts captured events.
type Hub struct {
	clients    map[hubClient]bool
	broadcast  chan any
	register   chan hubClient
	unregister chan hubClient
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	log        *log.Logger
}

// hubClient allows for both real connections and mock clients in tests.
type hubClient interface {
	sendChannel() chan []byte
	close()
}

// client is one WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) sendChannel() chan []byte { return c.send }

func (c *client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewHub creates a hub; call Run on its own goroutine to start it.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[hubClient]bool),
		broadcast:  make(chan any, 256),
		register:   make(chan hubClient),
		unregister: make(chan hubClient),
		ctx:        ctx,
		cancel:     cancel,
		log:        log.New(os.Stderr, "cogwire-web: ", log.LstdFlags),
	}
}

// Run processes registrations and broadcasts until Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Printf("monitor client connected (total: %d)", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.sendChannel())
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Printf("monitor client disconnected (total: %d)", n)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Printf("marshal broadcast: %v", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.sendChannel() <- data:
				default:
					// Slow client; drop it rather than block the hub.
					close(c.sendChannel())
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	for c := range h.clients {
		close(c.sendChannel())
		c.close()
	}
	h.clients = make(map[hubClient]bool)
	h.mu.Unlock()
}

// Broadcast queues a message for all clients, dropping when the queue is
// full. Safe to call from the capture path.
func (h *Hub) Broadcast(msg any) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// detach asks the run loop to unregister a client. After Stop the loop
// is gone, so the send gives way to the cancelled context instead of
// leaving the pump goroutine parked forever.
func (h *Hub) detach(c hubClient) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket and attaches it to the
// hub. Localhost only; the monitor never binds a public interface.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.log.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "monitor shutting down")
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	defer func() {
		c.hub.detach(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains client messages to detect disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
