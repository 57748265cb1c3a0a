package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"framegate/internal/protocol"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// WSMessage is a control message from a client.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type broadcast struct {
	session string
	data    []byte
}

// Client is one websocket subscriber. An empty filter receives every session.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	mu      sync.RWMutex
	session string
}

func (c *Client) filter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setFilter(session string) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// Hub fans frame messages out to websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	log        zerolog.Logger
	mu         sync.RWMutex
	clientSeq  atomic.Uint64
}

// NewHub creates a new websocket hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run is the hub's event loop. It returns when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Str("client", client.ID).Int("clients", total).Msg("client connected")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				if f := client.filter(); f != "" && f != msg.session {
					continue
				}
				select {
				case client.Send <- msg.data:
				default:
					// slow consumer
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.Send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.log.Debug().Str("client", client.ID).Int("clients", total).Msg("client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.Send)
		client.Conn.Close()
		delete(h.clients, client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every interested client without blocking.
func (h *Hub) Broadcast(msg *protocol.FrameMessage) {
	data, err := json.Marshal(map[string]any{
		"type": "frame",
		"data": msg,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal broadcast")
		return
	}
	select {
	case h.broadcast <- broadcast{session: msg.Session, data: data}:
	default:
	}
}

// ReadPump handles incoming messages from the client.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-ctx.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Debug().Err(err).Str("client", c.ID).Msg("read error")
			}
			return
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			continue
		}
		switch wsMsg.Type {
		case "subscribe":
			var data struct {
				Session string `json:"session"`
			}
			if err := json.Unmarshal(wsMsg.Data, &data); err == nil {
				c.setFilter(data.Session)
				c.reply(map[string]any{"type": "subscribed", "session": data.Session})
			}
		case "ping":
			c.reply(map[string]any{"type": "pong"})
		}
	}
}

// reply queues a control response. It may race with hub removal, so a send
// on a closed channel is recovered.
func (c *Client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	defer func() { recover() }()
	select {
	case c.Send <- data:
	default:
	}
}

// WritePump handles outgoing messages to the client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers a client. The optional
// "session" query parameter sets the initial filter.
func (h *Hub) HandleWS(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn().Err(err).Msg("upgrade failed")
			return
		}

		client := &Client{
			ID:      fmt.Sprintf("ws-%d", h.clientSeq.Add(1)),
			Conn:    conn,
			Send:    make(chan []byte, 256),
			Hub:     h,
			session: c.Query("session"),
		}

		select {
		case h.register <- client:
		case <-ctx.Done():
			conn.Close()
			return
		}

		client.reply(map[string]any{
			"type":      "connected",
			"client_id": client.ID,
			"session":   client.session,
		})

		go client.WritePump()
		go client.ReadPump(ctx)
	}
}
