// Package notify broadcasts save and job lifecycle events to connected
// WebSocket clients, so open widget views can refresh without polling.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Event is one broadcast message.
type Event struct {
	// Type is "record.saved", "job.complete", or "job.failed".
	Type string `json:"type"`

	OwnerID  string `json:"ownerId,omitempty"`
	RecordID string `json:"recordId,omitempty"`
	JobID    string `json:"jobId,omitempty"`
	Status   string `json:"status,omitempty"`
}

// clientConn allows for both real connections and mocks in tests.
type clientConn interface {
	getSendChannel() chan []byte
	close()
}

// client is one live WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) getSendChannel() chan []byte {
	return c.send
}

func (c *client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// Hub manages WebSocket connections and fans events out to all of them.
type Hub struct {
	clients    map[clientConn]bool
	broadcast  chan Event
	register   chan clientConn
	unregister chan clientConn
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewHub creates an event hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[clientConn]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan clientConn),
		unregister: make(chan clientConn),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registration and broadcast traffic until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("notify: client connected (total: %d)", count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(conn.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("notify: client disconnected (total: %d)", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("notify: failed to marshal event: %v", err)
				continue
			}

			// Full Lock because slow clients are evicted inline.
			h.mu.Lock()
			for conn := range h.clients {
				sendChan := conn.getSendChannel()
				select {
				case sendChan <- data:
				default:
					close(sendChan)
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and closes every connection.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	for conn := range h.clients {
		close(conn.getSendChannel())
		conn.close()
	}
	h.clients = make(map[clientConn]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for delivery to all clients. Non-blocking: the
// event is dropped with a warning when the queue is full.
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("notify: broadcast channel full, dropping event %s", event.Type)
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn clientConn) {
	h.register <- conn
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn clientConn) {
	h.unregister <- conn
}

// ServeHTTP upgrades the request to a WebSocket and joins it to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Widget clients connect from arbitrary orchestrator origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("notify: websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.Register(c)

	go c.writePump()
	go c.readPump()
}

// writePump sends queued events to the connection.
func (c *client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()

		if err != nil {
			log.Printf("notify: websocket write failed: %v", err)
			return
		}
	}
}

// readPump drains inbound messages to detect disconnections.
func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// MockConn is a test double that captures broadcast payloads.
type MockConn struct {
	SendChan chan []byte
}

func (m *MockConn) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockConn) close() {}
