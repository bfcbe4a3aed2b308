// Package ws streams lobby and match events to connected API clients.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Clients authenticate with a token, not cookies
	},
}

// Client is one websocket connection of an API client
type Client struct {
	conn     *websocket.Conn
	clientID string
	send     chan []byte
	log      *logrus.Entry
}

// Hub maintains the set of active connections per API client
type Hub struct {
	clients    map[string]map[*Client]struct{} // clientID -> connections
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        *logrus.Entry
}

// NewHub creates a new Hub
func NewHub(logger *logrus.Entry) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        logger,
	}
}

// Run registers and drops connections until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conns := range h.clients {
				for c := range conns {
					close(c.send)
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[c.clientID]; !ok {
				h.clients[c.clientID] = make(map[*Client]struct{})
			}
			h.clients[c.clientID][c] = struct{}{}
			h.mu.Unlock()
			h.log.WithField("client", c.clientID).Info("event feed connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[c.clientID]; ok {
				if _, ok := conns[c]; ok {
					delete(conns, c)
					close(c.send)
				}
				if len(conns) == 0 {
					delete(h.clients, c.clientID)
				}
			}
			h.mu.Unlock()
			h.log.WithField("client", c.clientID).Info("event feed disconnected")
		}
	}
}

// Broadcast sends a message to every connection of an API client.
func (h *Hub) Broadcast(clientID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[clientID] {
		select {
		case c.send <- message:
		default:
			h.log.WithField("client", clientID).Warn("event feed buffer full, dropping message")
		}
	}
}

// Connections returns the number of open connections of an API client.
func (h *Hub) Connections(clientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[clientID])
}

// Handler upgrades the request and subscribes the connection to the events
// of the API client resolved by clientID.
func Handler(h *Hub, clientID func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := clientID(c)
		if id == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.WithError(err).Warn("websocket upgrade failed")
			return
		}

		client := &Client{
			conn:     conn,
			clientID: id,
			send:     make(chan []byte, 256),
			log:      h.log.WithField("client", id),
		}
		h.register <- client

		go client.writePump()
		go client.readPump(h)
	}
}

// readPump discards inbound frames and keeps the connection alive.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Debug("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
