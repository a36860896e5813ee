package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ConsoleLine is one console feed message.
type ConsoleLine struct {
	Stream string    `json:"stream"`
	Line   string    `json:"line"`
	Time   time.Time `json:"time"`
}

// consoleClient represents a connected WebSocket client
type consoleClient struct {
	hub  *ConsoleHub
	conn *websocket.Conn
	send chan []byte
}

// ConsoleHub fans live console lines out to WebSocket clients. Publish is
// non-blocking: slow clients drop lines rather than stall the readers.
type ConsoleHub struct {
	clients    map[*consoleClient]bool
	broadcast  chan []byte
	register   chan *consoleClient
	unregister chan *consoleClient
	mu         sync.RWMutex
}

// NewConsoleHub creates a hub; Run must be started for it to deliver.
func NewConsoleHub() *ConsoleHub {
	return &ConsoleHub{
		clients:    make(map[*consoleClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *consoleClient),
		unregister: make(chan *consoleClient),
	}
}

// Run starts the hub's main loop
func (h *ConsoleHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[api] console client connected (%d total)", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("[api] console client disconnected (%d total)", h.ClientCount())

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues one console line for all clients. Safe from any goroutine.
func (h *ConsoleHub) Publish(stream, line string) {
	data, err := json.Marshal(ConsoleLine{Stream: stream, Line: line, Time: time.Now().UTC()})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *ConsoleHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleConsoleSocket upgrades HTTP to WebSocket and joins the console feed.
// Token auth rides the query string since browsers cannot set headers here.
func (r *Router) handleConsoleSocket(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if _, err := r.deps.Auth.ValidateToken(token); err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade error: %v", err)
		return
	}

	client := &consoleClient{
		hub:  r.console,
		conn: conn,
		send: make(chan []byte, 256),
	}
	r.console.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket (and handles close)
func (c *consoleClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("[api] websocket error: %v", err)
			}
			break
		}
	}
}

// writePump sends messages to the WebSocket
func (c *consoleClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into this write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
