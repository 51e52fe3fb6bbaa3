package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/icrrus-api/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Message is pushed to every connected client matching its audience.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`

	audience Audience
}

// Audience selects recipients. A client matches when its user id is listed, or
// when its role is listed and it satisfies the program and department scope.
type Audience struct {
	UserIDs    []string
	Roles      []models.Role
	Program    models.Program
	Department models.Department
}

// Client represents a single connected portal session.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	actor models.Actor
}

// Hub maintains the set of active clients and fans messages out to them.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger

	mu    sync.RWMutex
	count int
}

// NewHub initializes a hub. Call Run to start dispatching.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run dispatches until ctx ends, then disconnects every client. Run must be
// called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Debug("websocket client connected", zap.String("user_id", client.actor.UserID), zap.String("role", string(client.actor.Role)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("websocket client disconnected", zap.String("user_id", client.actor.UserID))
			}
		case msg := <-h.broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("encode websocket message", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			for client := range h.clients {
				if !msg.audience.matches(client.actor) {
					continue
				}
				select {
				case client.send <- payload:
				default:
					h.drop(client)
				}
			}
		}
	}
}

// enter registers client unless the hub has stopped.
func (h *Hub) enter(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave unregisters client; after the hub stopped it returns immediately.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish queues msg for delivery to audience. It never blocks; messages are
// dropped when the hub is saturated.
func (h *Hub) Publish(msgType string, data interface{}, audience Audience) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- Message{Type: msgType, Data: data, audience: audience}:
		return true
	default:
		h.logger.Warn("websocket hub saturated, dropping message", zap.String("type", msgType))
		return false
	}
}

func (a Audience) matches(actor models.Actor) bool {
	for _, id := range a.UserIDs {
		if id == actor.UserID {
			return true
		}
	}
	roleMatch := false
	for _, role := range a.Roles {
		if role == actor.Role {
			roleMatch = true
			break
		}
	}
	if !roleMatch {
		return false
	}
	if a.Program != "" && actor.Program != a.Program {
		return false
	}
	if a.Department != "" && actor.Department != a.Department {
		return false
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

// TokenValidator resolves bearer tokens into claims.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// ServeWs upgrades authenticated requests. Browsers cannot set headers on a
// websocket handshake, so the token may also arrive as ?token=.
func ServeWs(hub *Hub, auth TokenValidator, allowedOrigins []string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if header := c.GetHeader("Authorization"); token == "" && header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = parts[1]
			}
		}
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, err := auth.ValidateToken(token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer), actor: claims.Actor()}
		if !hub.enter(client) {
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
