package handlers

import (
	"github.com/frostdev-ops/devtest-backend-go/internal/websocket"
	"github.com/frostdev-ops/devtest-backend-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

// WebSocketHandler upgrades the request and attaches the client to the hub
func (h *Handlers) WebSocketHandler() gin.HandlerFunc {
	return websocket.HandleWebSocketGin(h.wsHub)
}

// GetWebSocketStats returns WebSocket statistics
func (h *Handlers) GetWebSocketStats(c *gin.Context) {
	utils.SendSuccess(c, h.wsHub.GetStats())
}
