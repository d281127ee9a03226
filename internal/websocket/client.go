package websocket

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
	sendBuffer            = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	ID          string    `json:"id"`
	UserAgent   string    `json:"user_agent"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`

	conn   *websocket.Conn
	hub    *Hub
	logger *logrus.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	readLimit  int64

	mu     sync.Mutex
	send   chan []byte
	closed bool
	// plans the client follows; empty means every plan.
	plans map[string]bool
}

// HandleWebSocket upgrades the request and registers the client with hub.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := newClient(hub, conn, r)
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// HandleWebSocketGin is a Gin-compatible wrapper for HandleWebSocket
func HandleWebSocketGin(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleWebSocket(hub, c.Writer, c.Request)
	}
}

func newClient(hub *Hub, conn *websocket.Conn, r *http.Request) *Client {
	c := &Client{
		ID:          uuid.New().String(),
		UserAgent:   r.Header.Get("User-Agent"),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		hub:         hub,
		logger:      hub.logger,
		writeWait:   seconds(hub.cfg.WriteTimeout, defaultWriteWait),
		pongWait:    seconds(hub.cfg.PongTimeout, defaultPongWait),
		readLimit:   hub.cfg.MaxMessageSize,
		send:        make(chan []byte, sendBuffer),
		plans:       make(map[string]bool),
	}
	c.pingPeriod = seconds(hub.cfg.PingInterval, (c.pongWait*9)/10)
	if c.pingPeriod >= c.pongWait {
		c.pingPeriod = (c.pongWait * 9) / 10
	}
	if c.readLimit <= 0 {
		c.readLimit = defaultMaxMessageSize
	}
	return c
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// enqueue hands data to the write pump without blocking. It reports false
// when the client's buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close is called by the hub once the client is unregistered.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) wants(planID string) bool {
	if planID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.plans) == 0 || c.plans[planID]
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		c.hub.received()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.WithError(err).Warn("Failed to unmarshal WebSocket message")
		c.reply(MessageTypeError, map[string]interface{}{"error": "invalid message"})
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.reply(MessageTypePong, nil)
	case MessageTypeSubscribe:
		if id := msg.field("plan_id"); id != "" {
			c.mu.Lock()
			c.plans[id] = true
			c.mu.Unlock()
		}
		c.reply(MessageTypeSubscribed, map[string]interface{}{"plans": c.Plans()})
	case MessageTypeUnsubscribe:
		c.mu.Lock()
		if id := msg.field("plan_id"); id != "" {
			delete(c.plans, id)
		} else {
			c.plans = make(map[string]bool)
		}
		c.mu.Unlock()
		c.reply(MessageTypeSubscribed, map[string]interface{}{"plans": c.Plans()})
	default:
		c.logger.WithField("message_type", msg.Type).Warn("Unknown WebSocket message type")
	}
}

func (c *Client) reply(msgType string, data interface{}) {
	c.enqueue(Message{Type: msgType, Data: data}.ToJSON())
}

// Plans lists the plans the client is subscribed to.
func (c *Client) Plans() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	plans := make([]string, 0, len(c.plans))
	for id := range c.plans {
		plans = append(plans, id)
	}
	sort.Strings(plans)
	return plans
}
