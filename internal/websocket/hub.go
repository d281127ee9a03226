package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/execution"
	"github.com/sirupsen/logrus"
)

// ConnectionRecorder receives connection and message counts.
type ConnectionRecorder interface {
	RecordWebSocketConnection(action string)
}

type outbound struct {
	data   []byte
	planID string
}

// Hub maintains the set of active clients and broadcasts messages to them.
// It implements execution.Broadcaster.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	cfg      config.WebSocketConfig
	logger   *logrus.Logger
	recorder ConnectionRecorder

	mu    sync.RWMutex
	stats HubStats
}

// HubStats contains hub statistics
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	TotalConnections int64     `json:"total_connections"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	MessagesReceived int64     `json:"messages_received"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewHub creates a new WebSocket hub
func NewHub(cfg config.WebSocketConfig, logger *logrus.Logger) *Hub {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, size),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		cfg:        cfg,
		logger:     logger,
		stats:      HubStats{LastActivity: time.Now()},
	}
}

// SetRecorder attaches a metrics recorder.
func (h *Hub) SetRecorder(r ConnectionRecorder) {
	h.recorder = r
}

// Run handles client registration and broadcasting until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)

		case <-ticker.C:
			h.sendHeartbeat()

		case <-ctx.Done():
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()
			for _, client := range clients {
				h.unregisterClient(client)
			}
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()
	count := len(h.clients)
	h.mu.Unlock()

	h.record("connect")
	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"remote_addr":       client.RemoteAddr,
		"connected_clients": count,
	}).Info("WebSocket client connected")

	welcome := Message{
		Type: MessageTypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.ID,
		},
	}
	client.enqueue(welcome.ToJSON())
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.close()
		h.stats.ConnectedClients = len(h.clients)
		h.stats.LastActivity = time.Now()
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.record("disconnect")
	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"connected_clients": count,
	}).Info("WebSocket client disconnected")
}

func (h *Hub) broadcastMessage(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.wants(msg.planID) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		if !client.enqueue(msg.data) {
			slow = append(slow, client)
		}
	}
	// Clients that cannot keep up are dropped.
	for _, client := range slow {
		h.unregisterClient(client)
	}

	h.mu.Lock()
	h.stats.MessagesSent++
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()
	h.record("message_sent")

	h.logger.WithFields(logrus.Fields{
		"message_size": len(msg.data),
		"clients_sent": len(clients) - len(slow),
	}).Debug("Message broadcasted to WebSocket clients")
}

func (h *Hub) sendHeartbeat() {
	h.BroadcastToAll(Message{
		Type: MessageTypeHeartbeat,
		Data: map[string]interface{}{"clients": h.GetClientCount()},
	})
}

// Broadcast queues payload for every client under the event name. Execution
// events only reach clients subscribed to their plan, or clients without
// subscriptions. It never blocks; a full queue drops the message.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg := outbound{data: Message{Type: event, Data: payload}.ToJSON()}
	if ev, ok := payload.(execution.Event); ok {
		msg.planID = ev.PlanID
	}
	h.enqueue(msg)
}

// BroadcastToAll broadcasts a message to all connected clients
func (h *Hub) BroadcastToAll(message Message) {
	h.enqueue(outbound{data: message.ToJSON()})
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		h.mu.Lock()
		h.stats.MessagesDropped++
		h.mu.Unlock()
		h.logger.Warn("Broadcast channel is full, message dropped")
	}
}

func (h *Hub) received() {
	h.mu.Lock()
	h.stats.MessagesReceived++
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()
	h.record("message_received")
}

func (h *Hub) record(action string) {
	if h.recorder != nil {
		h.recorder.RecordWebSocketConnection(action)
	}
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
